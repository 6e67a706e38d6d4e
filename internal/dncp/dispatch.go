package dncp

import (
	"net/netip"

	"github.com/anvil-networks/hncpd/internal/dncp/link"
	"github.com/anvil-networks/hncpd/internal/dncp/store"
	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

// HandleDatagram processes one inbound datagram received on l from src,
// addressed to dst (so the caller, or this method, can tell multicast
// from unicast traffic apart). A malformed datagram is dropped in its
// entirety and logged; it never partially applies.
func (e *Engine) HandleDatagram(l *link.Link, src, dst netip.AddrPort, data []byte) {
	records, err := tlv.Parse(data)
	for i := 0; err == nil && i < len(records); i++ {
		switch r := records[i]; r.Type {
		case TypeReqNodeData:
			if len(r.Body) != e.cfg.NodeIdentifierLen {
				err = tlv.ErrInvalidRecord
			}
		case TypeNetworkState:
			_, err = decodeNetworkState(r)
		case TypeNodeState:
			_, err = decodeNodeState(r, e.cfg.NodeIdentifierLen)
		}
	}
	if err != nil {
		e.cfg.Log.V(1).Info("dropping malformed datagram", "link", l.IfName, "src", src, "error", err.Error())
		return
	}

	e.observeSenderEnvelope(l, src, records)

	for _, r := range records {
		switch r.Type {
		case TypeReqNetworkState:
			if err := e.SendUnicastNetworkState(l, src); err != nil {
				e.cfg.Log.Error(err, "failed to answer req-network-state", "link", l.IfName)
			}
		case TypeReqNodeData:
			e.handleReqNodeData(l, src, r)
		case TypeNetworkState:
			e.handleNetworkState(l, src, r)
		case TypeNodeState:
			e.handleNodeState(l, src, r)
		default:
			// Profile-specific top-level types are not expected in this
			// protocol: only REQ-NET-STATE/REQ-NODE-DATA/NETWORK-STATE/
			// NODE-STATE ever appear at top level. Anything else is
			// ignored rather than failing the whole datagram, since it
			// may be a newer, still-unrecognised generic type.
		}
	}
}

func (e *Engine) handleReqNodeData(l *link.Link, src netip.AddrPort, r tlv.Record) {
	id := store.NodeIdentifier(r.Body)
	if len(id) != e.cfg.NodeIdentifierLen {
		return
	}
	if id.Equal(e.ownID) {
		if err := e.sendOwnNodeState(l, src, true); err != nil {
			e.cfg.Log.Error(err, "failed to answer req-node-data for own node")
		}
		return
	}
	n, ok := e.nodes.Find(id)
	if !ok {
		return
	}
	msg := nodeStateMsg{
		ID:            n.Identifier,
		UpdateNumber:  n.UpdateNumber,
		MsSinceOrigin: uint32(e.cfg.Clock.Now().Sub(n.OriginTime).Milliseconds()),
		DataHash:      n.Hash(),
		Container:     n.Container,
	}
	rec := encodeNodeState(e.cfg.NodeIdentifierLen, msg)
	buf := tlv.Marshal([]tlv.Record{rec})
	if err := e.cfg.IO.SendTo(buf, l.IfIndex, src); err != nil {
		e.cfg.Log.Error(err, "failed to answer req-node-data")
	}
}

func (e *Engine) handleNetworkState(l *link.Link, src netip.AddrPort, r tlv.Record) {
	peerHash, err := decodeNetworkState(r)
	if err != nil {
		e.cfg.Log.V(1).Info("dropping malformed network-state", "error", err.Error())
		return
	}
	ourHash := e.NetworkHash()
	if peerHash == ourHash {
		l.Consistent()
		return
	}
	l.Inconsistent(e.cfg.Clock)
	if err := e.requestNetworkState(l, src); err != nil {
		e.cfg.Log.Error(err, "failed to request network-state after mismatch")
	}
}

func (e *Engine) handleNodeState(l *link.Link, src netip.AddrPort, r tlv.Record) {
	msg, err := decodeNodeState(r, e.cfg.NodeIdentifierLen)
	if err != nil {
		e.cfg.Log.V(1).Info("dropping malformed node-state", "error", err.Error())
		return
	}

	if msg.ID.Equal(e.ownID) {
		e.handleOwnIdentifierCollisionCandidate(msg)
		return
	}

	if len(msg.Container) == 0 {
		// Summary only: if we don't have this node, or it is stale,
		// fetch the full record.
		n, ok := e.nodes.Find(msg.ID)
		if !ok || n.UpdateNumber < msg.UpdateNumber {
			if err := e.requestNodeData(l, src, msg.ID); err != nil {
				e.cfg.Log.Error(err, "failed to request node data")
			}
		}
		return
	}

	_, _, collided := e.nodes.Upsert(msg.ID, msg.UpdateNumber, e.cfg.Clock.Now(), msg.Container)
	if collided {
		e.cfg.Log.Info("ignoring peer node-state with colliding update number", "node", msg.ID)
	}
}

// handleOwnIdentifierCollisionCandidate implements §4.4: an inbound
// node-state carrying our own identifier but differing content (or an
// equal update number with different content) is a collision.
func (e *Engine) handleOwnIdentifierCollisionCandidate(msg nodeStateMsg) {
	own, ok := e.nodes.Find(e.ownID)
	if !ok {
		return
	}
	if msg.DataHash == own.Hash() {
		return // genuinely us, e.g. our own multicast looped back
	}
	if e.collisions.Record(e.cfg.Clock.Now()) {
		if e.OnCollision != nil {
			e.OnCollision()
		}
		if err := e.renewIdentifier(nil); err != nil {
			e.cfg.Log.Error(err, "failed to renew node identifier after collision")
		}
	}
}
