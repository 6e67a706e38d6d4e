package link

import (
	"net/netip"
	"time"
)

// NeighborKey identifies a neighbor uniquely within one link's table:
// the peer's node identifier plus the peer's own link identifier (a peer
// can appear on more than one of our links, and we track them
// separately).
type NeighborKey struct {
	PeerNodeID string // store.NodeIdentifier.String()
	PeerLinkID ID
}

// Neighbor is a remote endpoint observed on a link.
type Neighbor struct {
	Key NeighborKey

	Addr netip.AddrPort

	// LastSync is the last time a consistent network-state exchange
	// completed with this neighbor.
	LastSync time.Time
	// KeepaliveInterval is the interval this neighbor advertised, or
	// zero if it never published one.
	KeepaliveInterval time.Duration
	// lastSeen is updated on every received datagram, bidirectional or
	// not, and is what keepalive expiry is actually measured against.
	lastSeen time.Time

	// Bidirectional is set once a matching reciprocal neighbor record
	// has been observed from this peer (§4.3); only bidirectional
	// neighbors contribute edges to the reachability graph.
	Bidirectional bool
}

// NeighborTable is a link's set of observed neighbors, keyed by
// NeighborKey.
type NeighborTable struct {
	byKey map[NeighborKey]*Neighbor
}

// NewNeighborTable returns an empty table.
func NewNeighborTable() *NeighborTable {
	return &NeighborTable{byKey: make(map[NeighborKey]*Neighbor)}
}

// Observe records (or updates) a sighting of a neighbor, creating an
// entry on first sight.
func (t *NeighborTable) Observe(key NeighborKey, addr netip.AddrPort, now time.Time) *Neighbor {
	n, ok := t.byKey[key]
	if !ok {
		n = &Neighbor{Key: key}
		t.byKey[key] = n
	}
	n.Addr = addr
	n.lastSeen = now
	return n
}

// Get returns the neighbor for key, if known.
func (t *NeighborTable) Get(key NeighborKey) (*Neighbor, bool) {
	n, ok := t.byKey[key]
	return n, ok
}

// Remove deletes the neighbor entry for key.
func (t *NeighborTable) Remove(key NeighborKey) {
	delete(t.byKey, key)
}

// All returns every neighbor currently tracked, in unspecified order.
func (t *NeighborTable) All() []*Neighbor {
	out := make([]*Neighbor, 0, len(t.byKey))
	for _, n := range t.byKey {
		out = append(out, n)
	}
	return out
}

// keepaliveDeadline is the grace factor applied to a neighbor's
// advertised keepalive interval: it must be heard from again within
// 2.1x that interval (§4.5).
const keepaliveDeadline = 2.1

// Expired reports whether this neighbor's keepalive has lapsed as of
// now: it has a nonzero advertised interval and more than 2.1x that
// interval has elapsed since it was last seen.
func (n *Neighbor) Expired(now time.Time) bool {
	if n.KeepaliveInterval <= 0 {
		return false
	}
	deadline := n.lastSeen.Add(time.Duration(float64(n.KeepaliveInterval) * keepaliveDeadline))
	return now.After(deadline)
}

// ExpireStale removes every neighbor whose keepalive has lapsed as of
// now, returning the removed keys so the caller (the flooder) can mark
// the reachability graph dirty.
func (t *NeighborTable) ExpireStale(now time.Time) []NeighborKey {
	var expired []NeighborKey
	for key, n := range t.byKey {
		if n.Expired(now) {
			expired = append(expired, key)
			delete(t.byKey, key)
		}
	}
	return expired
}
