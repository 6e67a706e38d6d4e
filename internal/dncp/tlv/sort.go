package tlv

import (
	"bytes"
	"sort"
)

// sortRecords implements the byte-wise canonical ordering: compare type
// first (as two big-endian bytes would compare), then payload bytes
// lexicographically. Equal records keep their relative order.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return bytes.Compare(a.Body, b.Body) < 0
	})
}
