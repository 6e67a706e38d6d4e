package dncp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/anvil-networks/hncpd/internal/dncp/hashutil"
	"github.com/anvil-networks/hncpd/internal/dncp/store"
	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

// Generic, profile-agnostic TLV types. Profile-specific types (the
// hncp package) are numbered from 32 upward so the two registries never
// collide on the wire, mirroring the reference implementation's
// DNCP_T_*/HNCP_T_* split within one enum.
const (
	TypeReqNetworkState   uint16 = 1
	TypeReqNodeData       uint16 = 2
	TypeNetworkState      uint16 = 3
	TypeNodeState         uint16 = 4
	TypeNodeDataNeighbor  uint16 = 5
	TypeKeepaliveInterval uint16 = 6
	// TypeSenderIdentity and TypeSenderLinkID are not part of the
	// registered wire table in §6; they are an internal bootstrap
	// mechanism bundled into every Trickle-triggered and request-reply
	// datagram so a receiver can immediately learn which node and which
	// of that node's links it just heard from, without the multi-round
	// zero-placeholder convergence the reference implementation relies
	// on kernel socket ancillary data for. See DESIGN.md.
	TypeSenderIdentity uint16 = 7
	TypeSenderLinkID   uint16 = 8

	ProfileTypeRangeStart uint16 = 32
)

// reqNetworkState has an empty body.

// reqNodeData carries just the target node identifier.
func encodeReqNodeData(id store.NodeIdentifier) tlv.Record {
	return tlv.Record{Type: TypeReqNodeData, Body: []byte(id)}
}

// networkState carries the 64-bit (hashutil.Len-byte) network hash.
func encodeNetworkState(h hashutil.Hash) tlv.Record {
	return tlv.Record{Type: TypeNetworkState, Body: h[:]}
}

func decodeNetworkState(r tlv.Record) (hashutil.Hash, error) {
	var h hashutil.Hash
	if len(r.Body) != hashutil.Len {
		return h, fmt.Errorf("dncp: network-state length %d, want %d: %w", len(r.Body), hashutil.Len, tlv.ErrInvalidRecord)
	}
	copy(h[:], r.Body)
	return h, nil
}

// nodeState: identifier (variable, caller-known length), update number
// (4 bytes), ms-since-origination (4 bytes), node-data hash
// (hashutil.Len bytes), optionally the full container appended as a
// nested record list.
type nodeStateMsg struct {
	ID            store.NodeIdentifier
	UpdateNumber  uint32
	MsSinceOrigin uint32
	DataHash      hashutil.Hash
	Container     []byte // nil unless full data was requested/attached
}

func encodeNodeState(idLen int, m nodeStateMsg) tlv.Record {
	body := make([]byte, 0, idLen+4+4+hashutil.Len+len(m.Container))
	body = append(body, padID(m.ID, idLen)...)
	body = binary.BigEndian.AppendUint32(body, m.UpdateNumber)
	body = binary.BigEndian.AppendUint32(body, m.MsSinceOrigin)
	body = append(body, m.DataHash[:]...)
	body = append(body, m.Container...)
	return tlv.Record{Type: TypeNodeState, Body: body}
}

func padID(id store.NodeIdentifier, idLen int) []byte {
	out := make([]byte, idLen)
	copy(out, id)
	return out
}

func decodeNodeState(r tlv.Record, idLen int) (nodeStateMsg, error) {
	var m nodeStateMsg
	hdr := idLen + 4 + 4 + hashutil.Len
	if len(r.Body) < hdr {
		return m, fmt.Errorf("dncp: node-state too short (%d < %d): %w", len(r.Body), hdr, tlv.ErrInvalidRecord)
	}
	m.ID = store.NodeIdentifier(append([]byte(nil), r.Body[:idLen]...))
	off := idLen
	m.UpdateNumber = binary.BigEndian.Uint32(r.Body[off : off+4])
	off += 4
	m.MsSinceOrigin = binary.BigEndian.Uint32(r.Body[off : off+4])
	off += 4
	copy(m.DataHash[:], r.Body[off:off+hashutil.Len])
	off += hashutil.Len
	if off < len(r.Body) {
		m.Container = append([]byte(nil), r.Body[off:]...)
	}
	return m, nil
}

// nodeDataNeighbor: peer node id, peer link id (4 bytes), local link id
// (4 bytes).
type neighborMsg struct {
	PeerNodeID   store.NodeIdentifier
	PeerLinkID   uint32
	LocalLinkID  uint32
}

func encodeNeighbor(idLen int, m neighborMsg) tlv.Record {
	body := make([]byte, 0, idLen+8)
	body = append(body, padID(m.PeerNodeID, idLen)...)
	body = binary.BigEndian.AppendUint32(body, m.PeerLinkID)
	body = binary.BigEndian.AppendUint32(body, m.LocalLinkID)
	return tlv.Record{Type: TypeNodeDataNeighbor, Body: body}
}

func decodeNeighbor(r tlv.Record, idLen int) (neighborMsg, error) {
	var m neighborMsg
	want := idLen + 8
	if len(r.Body) != want {
		return m, fmt.Errorf("dncp: neighbor record length %d, want %d: %w", len(r.Body), want, tlv.ErrInvalidRecord)
	}
	m.PeerNodeID = store.NodeIdentifier(append([]byte(nil), r.Body[:idLen]...))
	m.PeerLinkID = binary.BigEndian.Uint32(r.Body[idLen : idLen+4])
	m.LocalLinkID = binary.BigEndian.Uint32(r.Body[idLen+4 : idLen+8])
	return m, nil
}

func encodeKeepaliveInterval(d time.Duration) tlv.Record {
	body := binary.BigEndian.AppendUint32(nil, uint32(d.Milliseconds()))
	return tlv.Record{Type: TypeKeepaliveInterval, Body: body}
}

func decodeKeepaliveInterval(r tlv.Record) (time.Duration, error) {
	if len(r.Body) != 4 {
		return 0, fmt.Errorf("dncp: keepalive-interval length %d, want 4: %w", len(r.Body), tlv.ErrInvalidRecord)
	}
	ms := binary.BigEndian.Uint32(r.Body)
	return time.Duration(ms) * time.Millisecond, nil
}

func encodeSenderIdentity(id store.NodeIdentifier) tlv.Record {
	return tlv.Record{Type: TypeSenderIdentity, Body: append([]byte(nil), id...)}
}

func decodeSenderIdentity(r tlv.Record, idLen int) (store.NodeIdentifier, error) {
	if len(r.Body) != idLen {
		return nil, fmt.Errorf("dncp: sender-identity length %d, want %d: %w", len(r.Body), idLen, tlv.ErrInvalidRecord)
	}
	return store.NodeIdentifier(append([]byte(nil), r.Body...)), nil
}

func encodeSenderLinkID(id uint32) tlv.Record {
	return tlv.Record{Type: TypeSenderLinkID, Body: binary.BigEndian.AppendUint32(nil, id)}
}

func decodeSenderLinkID(r tlv.Record) (uint32, error) {
	if len(r.Body) != 4 {
		return 0, fmt.Errorf("dncp: sender-link-id length %d, want 4: %w", len(r.Body), tlv.ErrInvalidRecord)
	}
	return binary.BigEndian.Uint32(r.Body), nil
}
