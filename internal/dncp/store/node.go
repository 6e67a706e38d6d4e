// Package store holds the two ordered collections every dncp engine
// maintains: the node store (one entry per participant, keyed by node
// identifier) and the local TLV store (the set of records the local
// process wants published, which the node store's own-node entry is
// rebuilt from).
package store

import (
	"bytes"
	"sort"
	"time"

	"github.com/anvil-networks/hncpd/internal/dncp/hashutil"
)

// NodeIdentifier is an opaque fixed-length byte string. Ordering is
// lexicographic byte comparison; equality is byte equality.
type NodeIdentifier []byte

// Compare returns -1, 0 or 1 as a orders before, equal to, or after b.
func (a NodeIdentifier) Compare(b NodeIdentifier) int {
	return bytes.Compare(a, b)
}

// Equal reports whether a and b hold the same bytes.
func (a NodeIdentifier) Equal(b NodeIdentifier) bool {
	return bytes.Equal(a, b)
}

func (a NodeIdentifier) String() string {
	return string(a)
}

// Node represents one participant in the network, own node included.
type Node struct {
	Identifier   NodeIdentifier
	UpdateNumber uint32
	// OriginTime is the node's TLV container origination instant,
	// translated to local wall-clock time on arrival (or Clock.Now() for
	// the own node on every republish).
	OriginTime time.Time
	// Container is the ordered, already-sorted sequence of encoded TLV
	// records this node has published.
	Container []byte

	hash      hashutil.Hash
	hashDirty bool

	// Reachable and LastReachable are maintained by the flooder's
	// reachability sweep, not by the store itself.
	Reachable     bool
	LastReachable time.Time
}

// Hash returns the node's data hash, recomputing it from Container if it
// has been marked dirty since the last call.
func (n *Node) Hash() hashutil.Hash {
	if n.hashDirty {
		n.hash = hashutil.Sum(n.Container)
		n.hashDirty = false
	}
	return n.hash
}

// markDirty flags the cached hash as stale.
func (n *Node) markDirty() {
	n.hashDirty = true
}

// Listener receives node-store change notifications. Implementations
// must not retain the *Node pointer passed to Removed past the call, as
// the entry is discarded immediately after.
type Listener interface {
	Added(n *Node)
	Removed(n *Node)
	Updated(n *Node)
}

// NodeStore is the ordered collection of Nodes, keyed by identifier.
type NodeStore struct {
	byID      map[string]*Node
	ordered   []*Node // kept sorted by Identifier; rebuilt lazily
	dirty     bool
	listeners []Listener
}

// New returns an empty NodeStore.
func New() *NodeStore {
	return &NodeStore{byID: make(map[string]*Node)}
}

// Subscribe registers l to receive future Added/Removed/Updated calls.
func (s *NodeStore) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Find returns the node with the given identifier, if present.
func (s *NodeStore) Find(id NodeIdentifier) (*Node, bool) {
	n, ok := s.byID[id.String()]
	return n, ok
}

// FindOrCreate returns the existing node for id, or creates and inserts
// a new zero-value one (and fires Added) if none existed yet.
func (s *NodeStore) FindOrCreate(id NodeIdentifier) *Node {
	if n, ok := s.byID[id.String()]; ok {
		return n
	}
	n := &Node{Identifier: append(NodeIdentifier(nil), id...)}
	s.byID[id.String()] = n
	s.dirty = true
	for _, l := range s.listeners {
		l.Added(n)
	}
	return n
}

// Upsert replaces content for id only if (updateNumber, identifier) is
// newer than what is stored: a strictly greater update number always
// wins; an equal update number with a byte-identical container is a
// no-op; an equal update number with a differing container is reported
// via collided=true (the caller, the flooder, handles it as §4.4
// describes) and the store is left untouched.
func (s *NodeStore) Upsert(id NodeIdentifier, updateNumber uint32, originTime time.Time, container []byte) (node *Node, changed bool, collided bool) {
	n, existed := s.byID[id.String()]
	if !existed {
		n = &Node{Identifier: append(NodeIdentifier(nil), id...)}
		s.byID[id.String()] = n
		s.dirty = true
		n.UpdateNumber = updateNumber
		n.OriginTime = originTime
		n.Container = container
		n.markDirty()
		for _, l := range s.listeners {
			l.Added(n)
		}
		return n, true, false
	}

	if updateNumber == n.UpdateNumber {
		if bytes.Equal(n.Container, container) {
			return n, false, false
		}
		return n, false, true
	}
	if updateNumber < n.UpdateNumber {
		// Stale update, ignore (no wraparound handling needed at the
		// scale this engine runs at).
		return n, false, false
	}

	n.UpdateNumber = updateNumber
	n.OriginTime = originTime
	n.Container = container
	n.markDirty()
	for _, l := range s.listeners {
		l.Updated(n)
	}
	return n, true, false
}

// Remove deletes the node with the given identifier, if present, firing
// Removed.
func (s *NodeStore) Remove(id NodeIdentifier) {
	n, ok := s.byID[id.String()]
	if !ok {
		return
	}
	delete(s.byID, id.String())
	s.dirty = true
	for _, l := range s.listeners {
		l.Removed(n)
	}
}

// All returns every node ordered by identifier. The returned slice must
// not be mutated by the caller.
func (s *NodeStore) All() []*Node {
	if s.dirty {
		s.rebuild()
	}
	return s.ordered
}

// Len returns the number of nodes currently stored.
func (s *NodeStore) Len() int {
	return len(s.byID)
}

func (s *NodeStore) rebuild() {
	s.ordered = make([]*Node, 0, len(s.byID))
	for _, n := range s.byID {
		s.ordered = append(s.ordered, n)
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		return s.ordered[i].Identifier.Compare(s.ordered[j].Identifier) < 0
	})
	s.dirty = false
}
