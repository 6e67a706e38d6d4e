package pa

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// overlapIndex holds one longest-prefix-match trie per priority tier so
// "does candidate collide with any advertised prefix of priority >= P"
// is a handful of trie lookups instead of a scan over every advertised
// prefix network-wide.
type overlapIndex struct {
	tables map[int]*bart.Table[string]
}

func newOverlapIndex() *overlapIndex {
	return &overlapIndex{tables: make(map[int]*bart.Table[string])}
}

func (o *overlapIndex) tableFor(priority int) *bart.Table[string] {
	t, ok := o.tables[priority]
	if !ok {
		t = new(bart.Table[string])
		o.tables[priority] = t
	}
	return t
}

// Insert records that owner advertises pfx at priority.
func (o *overlapIndex) Insert(pfx netip.Prefix, priority int, owner string) {
	o.tableFor(priority).Insert(pfx, owner)
}

// Remove withdraws a previously inserted advertisement.
func (o *overlapIndex) Remove(pfx netip.Prefix, priority int) {
	if t, ok := o.tables[priority]; ok {
		t.Delete(pfx)
	}
}

// CollidesAtOrAbove reports whether pfx overlaps any advertised prefix
// whose priority is >= minPriority.
func (o *overlapIndex) CollidesAtOrAbove(pfx netip.Prefix, minPriority int) bool {
	for priority, t := range o.tables {
		if priority < minPriority {
			continue
		}
		if t.OverlapsPrefix(pfx) {
			return true
		}
	}
	return false
}

// Owner returns the recorded owner of pfx at priority, if any.
func (o *overlapIndex) Owner(pfx netip.Prefix, priority int) (string, bool) {
	t, ok := o.tables[priority]
	if !ok {
		return "", false
	}
	return t.Get(pfx)
}
