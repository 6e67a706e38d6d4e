// Package hncp is the home-network profile layered on the generic dncp
// flooding engine: it registers the PA-specific TLV types from §6 and
// provides typed encode/decode for each, including the prefix bit
// packing shared by every prefix-bearing record.
package hncp

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

// Profile TLV types, numbered from dncp.ProfileTypeRangeStart (32)
// upward, mirroring the reference implementation's HNCP_T_* constants
// layered on top of its DNCP_T_* generic ones.
const (
	TypeAssignedPrefix     uint16 = 32
	TypeNodeAddress        uint16 = 33
	TypeExternalConnection uint16 = 34
	TypeDelegatedPrefix    uint16 = 35
	TypeDHCPOptions        uint16 = 36
	TypeDHCPv6Options      uint16 = 37
	TypePrefixPolicy       uint16 = 38
	TypeDNSDelegatedZone   uint16 = 39
	TypeTrustVerdict       uint16 = 40
)

// packPrefix returns the ceil(plen/8) significant bytes of p's address,
// the wire representation every prefix-bearing record uses (§6: "store
// only ceil(plen/8) bytes of prefix, padded to 4-byte boundary at record
// end" -- the padding itself is handled by the tlv package, this
// function only returns the significant bytes).
func packPrefix(p netip.Prefix) []byte {
	addr := p.Addr()
	full := addr.AsSlice()
	n := (p.Bits() + 7) / 8
	if n > len(full) {
		n = len(full)
	}
	return append([]byte(nil), full[:n]...)
}

// unpackPrefix reconstructs a netip.Prefix from significant bytes plus a
// bit length, zero-extending the address to the correct width (4 bytes
// for v4, 16 for v6).
func unpackPrefix(bits []byte, plen int, v6 bool) (netip.Prefix, error) {
	width := 4
	if v6 {
		width = 16
	}
	if len(bits) > width {
		return netip.Prefix{}, fmt.Errorf("hncp: prefix payload longer than address width")
	}
	buf := make([]byte, width)
	copy(buf, bits)
	addr, ok := netip.AddrFromSlice(buf)
	if !ok {
		return netip.Prefix{}, fmt.Errorf("hncp: failed to reconstruct address")
	}
	if !v6 {
		addr = addr.Unmap()
	}
	if plen < 0 || plen > width*8 {
		return netip.Prefix{}, fmt.Errorf("hncp: invalid prefix length %d", plen)
	}
	return netip.PrefixFrom(addr, plen).Masked(), nil
}

// AssignedPrefix is the on-wire Assigned-Prefix record: the sub-prefix a
// node has allocated to one of its links.
type AssignedPrefix struct {
	EndpointID uint32
	Priority   uint8 // low nibble on the wire, per §6 "flags (priority nibble)"
	Prefix     netip.Prefix
}

// Encode renders a into its TLV record.
func (a AssignedPrefix) Encode() tlv.Record {
	body := binary.BigEndian.AppendUint32(nil, a.EndpointID)
	body = append(body, a.Priority&0x0f)
	body = append(body, byte(a.Prefix.Bits()))
	body = append(body, packPrefix(a.Prefix)...)
	return tlv.Record{Type: TypeAssignedPrefix, Body: body}
}

// DecodeAssignedPrefix parses r, which must carry an IPv6 prefix; v4
// assignments are represented via the IPv4-mapped space (§9) and decoded
// with v6=true as well.
func DecodeAssignedPrefix(r tlv.Record) (AssignedPrefix, error) {
	var a AssignedPrefix
	if len(r.Body) < 6 {
		return a, fmt.Errorf("hncp: assigned-prefix too short: %w", tlv.ErrInvalidRecord)
	}
	a.EndpointID = binary.BigEndian.Uint32(r.Body[0:4])
	a.Priority = r.Body[4] & 0x0f
	plen := int(r.Body[5])
	prefix, err := unpackPrefix(r.Body[6:], plen, true)
	if err != nil {
		return a, fmt.Errorf("hncp: assigned-prefix: %w", err)
	}
	a.Prefix = prefix
	return a, nil
}

// NodeAddress is the on-wire Node-Address record: a single address
// published for one endpoint.
type NodeAddress struct {
	EndpointID uint32
	Addr       netip.Addr
}

// Encode renders a into its TLV record.
func (a NodeAddress) Encode() tlv.Record {
	body := binary.BigEndian.AppendUint32(nil, a.EndpointID)
	addr := a.Addr.As16()
	body = append(body, addr[:]...)
	return tlv.Record{Type: TypeNodeAddress, Body: body}
}

// DecodeNodeAddress parses r.
func DecodeNodeAddress(r tlv.Record) (NodeAddress, error) {
	var a NodeAddress
	if len(r.Body) != 4+16 {
		return a, fmt.Errorf("hncp: node-address length %d, want 20: %w", len(r.Body), tlv.ErrInvalidRecord)
	}
	a.EndpointID = binary.BigEndian.Uint32(r.Body[0:4])
	var raw [16]byte
	copy(raw[:], r.Body[4:20])
	a.Addr = netip.AddrFrom16(raw)
	return a, nil
}

// DelegatedPrefix is the on-wire Delegated-Prefix record, nested inside
// External-Connection.
type DelegatedPrefix struct {
	MsValid     uint32
	MsPreferred uint32
	Prefix      netip.Prefix
}

// Encode renders d into its TLV record.
func (d DelegatedPrefix) Encode() tlv.Record {
	body := binary.BigEndian.AppendUint32(nil, d.MsValid)
	body = binary.BigEndian.AppendUint32(body, d.MsPreferred)
	body = append(body, byte(d.Prefix.Bits()))
	body = append(body, packPrefix(d.Prefix)...)
	return tlv.Record{Type: TypeDelegatedPrefix, Body: body}
}

// DecodeDelegatedPrefix parses r.
func DecodeDelegatedPrefix(r tlv.Record) (DelegatedPrefix, error) {
	var d DelegatedPrefix
	if len(r.Body) < 9 {
		return d, fmt.Errorf("hncp: delegated-prefix too short: %w", tlv.ErrInvalidRecord)
	}
	d.MsValid = binary.BigEndian.Uint32(r.Body[0:4])
	d.MsPreferred = binary.BigEndian.Uint32(r.Body[4:8])
	plen := int(r.Body[8])
	prefix, err := unpackPrefix(r.Body[9:], plen, true)
	if err != nil {
		return d, fmt.Errorf("hncp: delegated-prefix: %w", err)
	}
	d.Prefix = prefix
	return d, nil
}

// ExternalConnection nests a delegated prefix with its DHCP(v6) option
// blob and prefix policy entries.
type ExternalConnection struct {
	Delegated    DelegatedPrefix
	DHCPOptions  []byte // opaque, TypeDHCPOptions or TypeDHCPv6Options depending on family
	DHCPv6       bool
	PrefixPolicy []PrefixPolicy
}

// Encode renders the nested External-Connection record.
func (ec ExternalConnection) Encode() tlv.Record {
	children := []tlv.Record{ec.Delegated.Encode()}
	if len(ec.DHCPOptions) > 0 {
		typ := TypeDHCPOptions
		if ec.DHCPv6 {
			typ = TypeDHCPv6Options
		}
		children = append(children, tlv.Record{Type: typ, Body: ec.DHCPOptions})
	}
	for _, pp := range ec.PrefixPolicy {
		children = append(children, pp.Encode())
	}
	return tlv.EncodeNested(TypeExternalConnection, children)
}

// DecodeExternalConnection parses r's nested children.
func DecodeExternalConnection(r tlv.Record) (ExternalConnection, error) {
	var ec ExternalConnection
	children, err := tlv.ParseNested(r)
	if err != nil {
		return ec, fmt.Errorf("hncp: external-connection: %w", err)
	}
	foundDelegated := false
	for _, c := range children {
		switch c.Type {
		case TypeDelegatedPrefix:
			dp, err := DecodeDelegatedPrefix(c)
			if err != nil {
				return ec, err
			}
			ec.Delegated = dp
			foundDelegated = true
		case TypeDHCPOptions:
			ec.DHCPOptions = append([]byte(nil), c.Body...)
			ec.DHCPv6 = false
		case TypeDHCPv6Options:
			ec.DHCPOptions = append([]byte(nil), c.Body...)
			ec.DHCPv6 = true
		case TypePrefixPolicy:
			pp, err := DecodePrefixPolicy(c)
			if err != nil {
				return ec, err
			}
			ec.PrefixPolicy = append(ec.PrefixPolicy, pp)
		}
	}
	if !foundDelegated {
		return ec, fmt.Errorf("hncp: external-connection missing delegated-prefix: %w", tlv.ErrInvalidRecord)
	}
	return ec, nil
}

// PrefixPolicy describes a routing policy attached to a delegated
// prefix: a policy type byte plus a destination prefix.
type PrefixPolicy struct {
	PolicyType uint8
	Dest       netip.Prefix
}

// Encode renders pp into its TLV record.
func (pp PrefixPolicy) Encode() tlv.Record {
	body := []byte{pp.PolicyType, byte(pp.Dest.Bits())}
	body = append(body, packPrefix(pp.Dest)...)
	return tlv.Record{Type: TypePrefixPolicy, Body: body}
}

// DecodePrefixPolicy parses r.
func DecodePrefixPolicy(r tlv.Record) (PrefixPolicy, error) {
	var pp PrefixPolicy
	if len(r.Body) < 2 {
		return pp, fmt.Errorf("hncp: prefix-policy too short: %w", tlv.ErrInvalidRecord)
	}
	pp.PolicyType = r.Body[0]
	plen := int(r.Body[1])
	dest, err := unpackPrefix(r.Body[2:], plen, true)
	if err != nil {
		return pp, fmt.Errorf("hncp: prefix-policy: %w", err)
	}
	pp.Dest = dest
	return pp, nil
}

// DNSDelegatedZone carries a DNS zone name in label form plus flags.
type DNSDelegatedZone struct {
	Flags uint8
	Zone  []string // DNS labels, most-significant first
}

// Encode renders z into its TLV record, labels joined in standard
// length-prefixed DNS wire form, terminated by a zero length byte.
func (z DNSDelegatedZone) Encode() tlv.Record {
	body := []byte{z.Flags}
	for _, label := range z.Zone {
		body = append(body, byte(len(label)))
		body = append(body, label...)
	}
	body = append(body, 0)
	return tlv.Record{Type: TypeDNSDelegatedZone, Body: body}
}

// DecodeDNSDelegatedZone parses r.
func DecodeDNSDelegatedZone(r tlv.Record) (DNSDelegatedZone, error) {
	var z DNSDelegatedZone
	if len(r.Body) < 2 {
		return z, fmt.Errorf("hncp: dns-delegated-zone too short: %w", tlv.ErrInvalidRecord)
	}
	z.Flags = r.Body[0]
	rest := r.Body[1:]
	for len(rest) > 0 {
		n := int(rest[0])
		rest = rest[1:]
		if n == 0 {
			return z, nil
		}
		if n > len(rest) {
			return z, fmt.Errorf("hncp: dns-delegated-zone label overruns body: %w", tlv.ErrInvalidRecord)
		}
		z.Zone = append(z.Zone, string(rest[:n]))
		rest = rest[n:]
	}
	return z, fmt.Errorf("hncp: dns-delegated-zone missing terminator: %w", tlv.ErrInvalidRecord)
}

// TrustVerdict carries a single verdict byte and a null-terminated
// common name.
type TrustVerdict struct {
	Verdict uint8
	CName   string
}

// Encode renders v into its TLV record.
func (v TrustVerdict) Encode() tlv.Record {
	body := append([]byte{v.Verdict}, v.CName...)
	body = append(body, 0)
	return tlv.Record{Type: TypeTrustVerdict, Body: body}
}

// DecodeTrustVerdict parses r.
func DecodeTrustVerdict(r tlv.Record) (TrustVerdict, error) {
	var v TrustVerdict
	if len(r.Body) < 2 || r.Body[len(r.Body)-1] != 0 {
		return v, fmt.Errorf("hncp: trust-verdict malformed: %w", tlv.ErrInvalidRecord)
	}
	v.Verdict = r.Body[0]
	v.CName = string(r.Body[1 : len(r.Body)-1])
	return v, nil
}
