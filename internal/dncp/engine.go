// Package dncp implements the generic, profile-agnostic flooding
// protocol engine: Trickle-governed multicast exchange, per-node and
// per-network hashing, bidirectional neighbor validation, reachability
// pruning and node-identifier collision handling. The hncp package
// layers the home-network profile's TLV types on top.
package dncp

import (
	"crypto/rand"
	"fmt"
	"net/netip"
	"time"

	"github.com/go-logr/logr"

	"github.com/anvil-networks/hncpd/internal/clock"
	"github.com/anvil-networks/hncpd/internal/dncp/hashutil"
	"github.com/anvil-networks/hncpd/internal/dncp/link"
	"github.com/anvil-networks/hncpd/internal/dncp/store"
	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

// MaxMulticastPayload is the IPv6 minimum-MTU-derived ceiling on a
// multicast datagram (1280 - 40 IPv6 header - 8 UDP header), per §5.
const MaxMulticastPayload = 1232

// MaxPayload is the absolute ceiling on any single datagram, unicast or
// multicast, per §5.
const MaxPayload = 65536

// UnreachableGrace is how long an unreachable node is retained before
// being pruned, long enough to absorb a transient partition (§4.3).
const UnreachableGrace = 60 * time.Second

// IO is the subset of the I/O adapter the engine needs to transmit.
// dncpio.Adapter satisfies this.
type IO interface {
	SendTo(buf []byte, ifIndex int, dst netip.AddrPort) error
}

// Config configures a new Engine.
type Config struct {
	NodeIdentifierLen int // default 8, per §3
	MulticastAddr     netip.AddrPort
	Clock             clock.Clock
	IO                IO
	Log               logr.Logger
}

// Engine is one participant's flooding protocol state: its node store,
// local TLV store, enabled links and subscriber bus.
type Engine struct {
	cfg Config

	ownID store.NodeIdentifier

	nodes *store.NodeStore
	local *store.LocalTLVStore
	bus   *Bus

	links       map[link.ID]*link.Link
	linksByName map[string]*link.Link
	nextLinkID  link.ID

	ownUpdateNumber uint32

	networkHashDirty bool
	networkHash      hashutil.Hash

	collisions *collisionRing

	nextPrune time.Time

	// Metrics hooks, optional; set by cmd/hncpd to wire Prometheus
	// counters without this package importing the metrics package.
	OnTrickleSend func(l *link.Link)
	OnTrickleSkip func(l *link.Link)
	OnCollision   func()
	OnPrune       func(n *store.Node)
}

// New constructs an Engine with the given own node identifier. idLen
// defaults to 8 if cfg.NodeIdentifierLen is zero.
func New(ownID store.NodeIdentifier, cfg Config) *Engine {
	if cfg.NodeIdentifierLen == 0 {
		cfg.NodeIdentifierLen = 8
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	e := &Engine{
		cfg:         cfg,
		ownID:       append(store.NodeIdentifier(nil), ownID...),
		nodes:       store.New(),
		local:       store.NewLocalTLVStore(),
		bus:         NewBus(),
		links:       make(map[link.ID]*link.Link),
		linksByName: make(map[string]*link.Link),
		collisions:  newCollisionRing(),
	}
	e.nodes.Subscribe(nodeStoreBridge{e})
	e.RepublishOwnNode()
	return e
}

// nodeStoreBridge adapts store.Listener to the engine's subscriber bus
// and reachability bookkeeping.
type nodeStoreBridge struct{ e *Engine }

func (b nodeStoreBridge) Added(n *store.Node) {
	b.e.networkHashDirty = true
	b.e.bus.NodeAdded(n)
}
func (b nodeStoreBridge) Removed(n *store.Node) {
	b.e.networkHashDirty = true
	b.e.bus.NodeRemoved(n)
}
func (b nodeStoreBridge) Updated(n *store.Node) {
	b.e.networkHashDirty = true
	b.e.bus.TLVChanged(n)
}

// OwnID returns the engine's current node identifier.
func (e *Engine) OwnID() store.NodeIdentifier {
	return append(store.NodeIdentifier(nil), e.ownID...)
}

// Nodes returns the underlying node store.
func (e *Engine) Nodes() *store.NodeStore {
	return e.nodes
}

// Subscribe registers cb on the subscriber bus.
func (e *Engine) Subscribe(cb Callbacks) int {
	return e.bus.Subscribe(cb)
}

// Unsubscribe removes a prior subscription.
func (e *Engine) Unsubscribe(token int) {
	e.bus.Unsubscribe(token)
}

// PublishLocal adds r to the local TLV store, marking it dirty for the
// next republish.
func (e *Engine) PublishLocal(r tlv.Record) {
	if e.local.Add(r) {
		e.bus.LocalTLVChanged()
	}
}

// RemoveLocal removes r from the local TLV store.
func (e *Engine) RemoveLocal(r tlv.Record) {
	if e.local.Remove(r) {
		e.bus.LocalTLVChanged()
	}
}

// RemoveLocalByType removes every locally published record of the given
// type.
func (e *Engine) RemoveLocalByType(typ uint16) {
	if e.local.RemoveByType(typ) > 0 {
		e.bus.LocalTLVChanged()
	}
}

// EnableLink creates and registers a new link, assigning it the next
// sequential link identifier.
func (e *Engine) EnableLink(ifName string, ifIndex int, cfg link.Config) *link.Link {
	e.nextLinkID++
	l := link.New(e.nextLinkID, ifName, ifIndex, cfg, e.cfg.Clock)
	l.OnSend = func(l *link.Link) {
		e.transmitNetworkState(l, true)
		if e.OnTrickleSend != nil {
			e.OnTrickleSend(l)
		}
	}
	l.OnSkip = func(l *link.Link) {
		if e.OnTrickleSkip != nil {
			e.OnTrickleSkip(l)
		}
	}
	e.links[l.ID] = l
	e.linksByName[ifName] = l
	if cfg.KeepaliveInterv > 0 {
		e.PublishLocal(encodeKeepaliveInterval(cfg.KeepaliveInterv))
	}
	return l
}

// DisableLink stops and forgets the link with the given identifier.
func (e *Engine) DisableLink(id link.ID) {
	l, ok := e.links[id]
	if !ok {
		return
	}
	l.Stop()
	delete(e.links, id)
	delete(e.linksByName, l.IfName)
}

// Link returns the link with the given identifier, if enabled.
func (e *Engine) Link(id link.ID) (*link.Link, bool) {
	l, ok := e.links[id]
	return l, ok
}

// LinkByName returns the enabled link with the given interface name, if
// any. Used by the dispatch loop to map an inbound datagram's arrival
// interface back to its link.
func (e *Engine) LinkByName(ifName string) (*link.Link, bool) {
	l, ok := e.linksByName[ifName]
	return l, ok
}

// RepublishOwnNode rebuilds the own node's TLV container from the local
// TLV store in canonical order, increments the update number, and
// upserts it into the node store. It republishes on every call, whether
// or not the local store is dirty.
func (e *Engine) RepublishOwnNode() {
	e.bus.AboutToRepublish()
	records := e.local.Sorted()
	container := tlv.Marshal(records)
	e.ownUpdateNumber++
	now := e.cfg.Clock.Now()
	e.nodes.Upsert(e.ownID, e.ownUpdateNumber, now, container)
	e.local.Clean()
	e.networkHashDirty = true
}

// NetworkHash returns the digest over (identifier, update number, data
// hash) for every reachable node in identifier order, recomputing it
// lazily if anything has changed since the last call.
func (e *Engine) NetworkHash() hashutil.Hash {
	if e.networkHashDirty {
		e.recomputeReachability()
		var buf []byte
		for _, n := range e.nodes.All() {
			if !n.Reachable {
				continue
			}
			buf = append(buf, n.Identifier...)
			buf = appendUint32(buf, n.UpdateNumber)
			h := n.Hash()
			buf = append(buf, h[:]...)
		}
		e.networkHash = hashutil.Sum(buf)
		e.networkHashDirty = false
	}
	return e.networkHash
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// transmitNetworkState sends our current network-state summary to a
// link's multicast group when multicast is true. With multicast false,
// or with no IO configured, it sends nothing; unicast replies go through
// SendUnicastNetworkState instead.
func (e *Engine) transmitNetworkState(l *link.Link, multicast bool) {
	if e.cfg.IO == nil || !multicast {
		return
	}
	buf := tlv.Marshal(e.envelopeRecords(l))
	if err := e.cfg.IO.SendTo(buf, l.IfIndex, e.cfg.MulticastAddr); err != nil {
		e.cfg.Log.Error(err, "failed to send network-state", "link", l.IfName)
	}
}

// envelopeRecords builds the standard bundle sent with every Trickle
// transmission and request reply: our network hash, plus the sender
// identity/sender link id bootstrap pair described in proto.go.
func (e *Engine) envelopeRecords(l *link.Link) []tlv.Record {
	return []tlv.Record{
		encodeNetworkState(e.NetworkHash()),
		encodeSenderIdentity(e.ownID),
		encodeSenderLinkID(uint32(l.ID)),
	}
}

// SendUnicastNetworkState replies to a specific peer address on l with
// our current network-state summary.
func (e *Engine) SendUnicastNetworkState(l *link.Link, dst netip.AddrPort) error {
	buf := tlv.Marshal(e.envelopeRecords(l))
	return e.cfg.IO.SendTo(buf, l.IfIndex, dst)
}

// requestNetworkState asks a peer for a fresh per-node breakdown,
// triggered when an inbound network-state hash disagrees with ours.
func (e *Engine) requestNetworkState(l *link.Link, dst netip.AddrPort) error {
	rec := tlv.Record{Type: TypeReqNetworkState}
	buf := tlv.Marshal([]tlv.Record{rec})
	return e.cfg.IO.SendTo(buf, l.IfIndex, dst)
}

// requestNodeData asks a peer for the full container of a specific node
// whose update we are missing.
func (e *Engine) requestNodeData(l *link.Link, dst netip.AddrPort, id store.NodeIdentifier) error {
	buf := tlv.Marshal([]tlv.Record{encodeReqNodeData(id)})
	return e.cfg.IO.SendTo(buf, l.IfIndex, dst)
}

// sendOwnNodeState replies with our own node's summary (and, if full is
// true, its full container), used to answer REQ-NODE-DATA for our own
// identifier and to proactively announce ourselves.
func (e *Engine) sendOwnNodeState(l *link.Link, dst netip.AddrPort, full bool) error {
	own, ok := e.nodes.Find(e.ownID)
	if !ok {
		return fmt.Errorf("dncp: own node missing from store")
	}
	msg := nodeStateMsg{
		ID:            own.Identifier,
		UpdateNumber:  own.UpdateNumber,
		MsSinceOrigin: uint32(e.cfg.Clock.Now().Sub(own.OriginTime).Milliseconds()),
		DataHash:      own.Hash(),
	}
	if full {
		msg.Container = own.Container
	}
	rec := encodeNodeState(e.cfg.NodeIdentifierLen, msg)
	buf := tlv.Marshal([]tlv.Record{rec})
	return e.cfg.IO.SendTo(buf, l.IfIndex, dst)
}

// renewIdentifier picks a fresh node identifier and republishes under
// it, clearing the collision ring. The identifier is seedMaterial XORed
// with a crypto/rand salt; the collision path passes nil seedMaterial,
// so there the identifier is purely random and no hardware address
// goes into it.
func (e *Engine) renewIdentifier(seedMaterial []byte) error {
	idLen := e.cfg.NodeIdentifierLen
	newID := make([]byte, idLen)
	if len(seedMaterial) > 0 {
		copy(newID, seedMaterial)
	}
	salt := make([]byte, idLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("dncp: failed to draw identifier salt: %w", err)
	}
	for i := range newID {
		newID[i] ^= salt[i]
	}

	old := e.ownID
	e.nodes.Remove(old)
	e.ownID = newID
	e.ownUpdateNumber = 0
	e.collisions.Clear()
	e.RepublishOwnNode()
	e.cfg.Log.Info("renewed node identifier after collision", "old", fmt.Sprintf("%x", old), "new", fmt.Sprintf("%x", newID))
	return nil
}
