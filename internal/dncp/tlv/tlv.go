// Package tlv implements the nested type-length-value wire codec shared by
// every record exchanged between nodes.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidRecord is returned for any malformed encoding: a length that
// reaches past the end of the buffer, a header shorter than 4 bytes, or
// (when decoding nested records) payload that is not itself a well-formed
// sequence of records. Callers drop the whole datagram on this error,
// never attempt a partial recovery.
var ErrInvalidRecord = errors.New("tlv: invalid record")

const (
	headerLen = 4
	// Align is the padding boundary every record's total length (header +
	// payload) is rounded up to.
	Align = 4
)

// Record is one decoded type-length-value entry. Body is the raw,
// unpadded payload; padding bytes between Body's end and the next
// record's start are not retained.
type Record struct {
	Type uint16
	Body []byte
}

// padLen returns n rounded up to the next multiple of Align.
func padLen(n int) int {
	rem := n % Align
	if rem == 0 {
		return n
	}
	return n + (Align - rem)
}

// Encode appends a single record to buf and returns the extended slice.
// The payload is padded with zero bytes to a 4-byte boundary.
func Encode(buf []byte, typ uint16, body []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, typ)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(body)))
	buf = append(buf, body...)
	if pad := padLen(len(body)) - len(body); pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

// Parse decodes every top-level record in buf. It never mutates buf; each
// Record.Body aliases the corresponding slice of buf.
func Parse(buf []byte) ([]Record, error) {
	var out []Record
	for len(buf) > 0 {
		if len(buf) < headerLen {
			return nil, fmt.Errorf("tlv: truncated header (%d bytes left): %w", len(buf), ErrInvalidRecord)
		}
		typ := binary.BigEndian.Uint16(buf[0:2])
		length := int(binary.BigEndian.Uint16(buf[2:4]))
		total := headerLen + padLen(length)
		if total > len(buf) || headerLen+length > len(buf) {
			return nil, fmt.Errorf("tlv: record type %d length %d exceeds buffer: %w", typ, length, ErrInvalidRecord)
		}
		out = append(out, Record{Type: typ, Body: buf[headerLen : headerLen+length]})
		buf = buf[total:]
	}
	return out, nil
}

// ParseNested decodes the payload of r as a further sequence of records,
// for profile record types documented as carrying nested TLVs (e.g.
// EXTERNAL-CONNECTION).
func ParseNested(r Record) ([]Record, error) {
	return Parse(r.Body)
}

// EncodeNested encodes child records into a single record of type typ
// whose body is their concatenation, each individually padded as usual.
func EncodeNested(typ uint16, children []Record) Record {
	var body []byte
	for _, c := range children {
		body = Encode(body, c.Type, c.Body)
	}
	return Record{Type: typ, Body: body}
}

// Sort orders records by type, then by byte-wise comparison of their
// payloads (length is not compared separately), the canonical order required before
// hashing or transmitting a network-state summary. It sorts in place.
func Sort(records []Record) {
	sortRecords(records)
}

// Append encodes every record in order and appends the result to buf.
// Callers that need canonical ordering must Sort first.
func Append(buf []byte, records []Record) []byte {
	for _, r := range records {
		buf = Encode(buf, r.Type, r.Body)
	}
	return buf
}

// Marshal is a convenience wrapper equivalent to Append(nil, records).
func Marshal(records []Record) []byte {
	return Append(nil, records)
}
