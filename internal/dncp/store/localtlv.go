package store

import (
	"bytes"
	"sort"

	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
)

// LocalTLVStore is the ordered set of records the local process wants
// published. Membership is by full record equality (type + body);
// inserting a duplicate is a no-op. Any mutation marks the store dirty so
// the owning engine knows to rebuild and republish its own node.
type LocalTLVStore struct {
	records []tlv.Record
	dirty   bool
}

// NewLocalTLVStore returns an empty store.
func NewLocalTLVStore() *LocalTLVStore {
	return &LocalTLVStore{}
}

// Add inserts r if not already present. Returns true if it was added.
func (s *LocalTLVStore) Add(r tlv.Record) bool {
	for _, existing := range s.records {
		if existing.Type == r.Type && bytes.Equal(existing.Body, r.Body) {
			return false
		}
	}
	s.records = append(s.records, r)
	s.dirty = true
	return true
}

// Remove deletes the first record matching r exactly. Returns true if
// one was removed.
func (s *LocalTLVStore) Remove(r tlv.Record) bool {
	for i, existing := range s.records {
		if existing.Type == r.Type && bytes.Equal(existing.Body, r.Body) {
			s.records = append(s.records[:i], s.records[i+1:]...)
			s.dirty = true
			return true
		}
	}
	return false
}

// RemoveByType deletes every record of the given type, returning the
// count removed.
func (s *LocalTLVStore) RemoveByType(typ uint16) int {
	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		if r.Type == typ {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Dirty reports whether the set has changed since the last call to
// Clean.
func (s *LocalTLVStore) Dirty() bool {
	return s.dirty
}

// Clean clears the dirty flag, called after the owning engine has
// rebuilt and republished its own node.
func (s *LocalTLVStore) Clean() {
	s.dirty = false
}

// Sorted returns every record in canonical (type, then body) order,
// suitable for directly forming a node's TLV container.
func (s *LocalTLVStore) Sorted() []tlv.Record {
	out := make([]tlv.Record, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return bytes.Compare(out[i].Body, out[j].Body) < 0
	})
	return out
}
