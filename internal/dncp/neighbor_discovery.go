package dncp

import (
	"net/netip"

	"github.com/anvil-networks/hncpd/internal/dncp/link"
	"github.com/anvil-networks/hncpd/internal/dncp/store"
	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

// observeSenderEnvelope scans an inbound datagram for the sender
// identity/sender link id bootstrap pair (see proto.go) and, if both are
// present, records the sighting in l's neighbor table and ensures a
// matching NODE-DATA-NEIGHBOR record is published in our own container
// so other nodes can learn about this edge transitively.
func (e *Engine) observeSenderEnvelope(l *link.Link, src netip.AddrPort, records []tlv.Record) {
	var (
		senderID     store.NodeIdentifier
		senderLinkID uint32
		haveID       bool
		haveLinkID   bool
	)
	for _, r := range records {
		switch r.Type {
		case TypeSenderIdentity:
			id, err := decodeSenderIdentity(r, e.cfg.NodeIdentifierLen)
			if err == nil {
				senderID = id
				haveID = true
			}
		case TypeSenderLinkID:
			v, err := decodeSenderLinkID(r)
			if err == nil {
				senderLinkID = v
				haveLinkID = true
			}
		}
	}
	if !haveID || !haveLinkID {
		return
	}
	if string(senderID) == e.ownID.String() {
		return
	}

	now := e.cfg.Clock.Now()
	key := link.NeighborKey{PeerNodeID: string(senderID), PeerLinkID: link.ID(senderLinkID)}
	n := l.Neighbors.Observe(key, src, now)
	n.LastSync = now

	rec := encodeNeighbor(e.cfg.NodeIdentifierLen, neighborMsg{
		PeerNodeID:  senderID,
		PeerLinkID:  senderLinkID,
		LocalLinkID: uint32(l.ID),
	})
	e.PublishLocal(rec)
}
