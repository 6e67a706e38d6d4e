package pa

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/netip"
	"time"
)

// ldpKey identifies one (link, DP) pair under consideration.
type ldpKey struct {
	LinkID int
	DP     netip.Prefix
}

// Storage is the stable-storage oracle consulted by the Storage rule
// and updated whenever a fresh assignment is accepted, so restarts
// reuse the same sub-prefix for a given (link, DP) whenever possible.
type Storage interface {
	Lookup(linkID int, dp netip.Prefix) (netip.Prefix, bool)
	Save(linkID int, dp netip.Prefix, assigned netip.Prefix)
}

// nullStorage is used when the caller wires no persistence.
type nullStorage struct{}

func (nullStorage) Lookup(int, netip.Prefix) (netip.Prefix, bool) { return netip.Prefix{}, false }
func (nullStorage) Save(int, netip.Prefix, netip.Prefix)          {}

// Allocator runs the priority rule chain over a set of DPs and links,
// tracking every accepted assignment and the advertised-prefix trie
// used for collision detection.
type Allocator struct {
	OwnerID string
	Storage Storage

	overlap     *overlapIndex
	linkConfigs map[int]LinkConfig
	assignments map[ldpKey]Assignment
	addresses   map[int]netip.Addr // linkID -> allocated address
	adopted     map[string]netip.Prefix // dp.Prefix.String() -> previously-owned sub-prefix
}

// New creates an allocator. ownerID is this node's opaque identity, used
// to tag the assignments and addresses this allocator records in its
// overlap index. The Adopt rule does not consult these tags; it uses the
// pairings registered through SeedAdopted.
func New(ownerID string, storage Storage) *Allocator {
	if storage == nil {
		storage = nullStorage{}
	}
	return &Allocator{
		OwnerID:     ownerID,
		Storage:     storage,
		overlap:     newOverlapIndex(),
		linkConfigs: make(map[int]LinkConfig),
		assignments: make(map[ldpKey]Assignment),
		addresses:   make(map[int]netip.Addr),
		adopted:     make(map[string]netip.Prefix),
	}
}

// SeedAdopted registers a (DP, sub-prefix) pairing this node advertised
// before a restart, learned back from the flooding network under the
// same node identity. The Adopt rule consults this to reclaim a prefix
// still live in other nodes' state instead of picking a fresh one.
func (a *Allocator) SeedAdopted(dp netip.Prefix, assigned netip.Prefix) {
	a.adopted[dp.String()] = assigned
}

// Configure sets (or clears, with a zero LinkConfig) the operator
// overrides consulted for a link.
func (a *Allocator) Configure(linkID int, cfg LinkConfig) {
	a.linkConfigs[linkID] = cfg
}

// ObserveAdvertised records (or updates) a remote node's advertised
// prefix in the overlap index, so subsequent Random/Override decisions
// account for it.
func (a *Allocator) ObserveAdvertised(p AdvertisedPrefix) {
	a.overlap.Insert(p.Prefix, p.Priority, p.Owner)
}

// WithdrawAdvertised removes a previously observed advertisement.
func (a *Allocator) WithdrawAdvertised(p AdvertisedPrefix) {
	a.overlap.Remove(p.Prefix, p.Priority)
}

// Assignments returns every currently accepted assignment.
func (a *Allocator) Assignments() []Assignment {
	out := make([]Assignment, 0, len(a.assignments))
	for _, v := range a.assignments {
		out = append(out, v)
	}
	return out
}

// Unassign drops the assignment for (linkID, dp), if any, withdrawing
// it from the overlap index too.
func (a *Allocator) Unassign(linkID int, dp netip.Prefix) {
	key := ldpKey{linkID, dp}
	asn, ok := a.assignments[key]
	if !ok {
		return
	}
	a.overlap.Remove(asn.Prefix, asn.Priority)
	delete(a.assignments, key)
}

// Evaluate runs the rule chain for one (link, DP) pair and, on success,
// records and returns the accepted assignment. hwSeed salts the
// pseudo-random candidate generator so distinct links/nodes diverge.
func (a *Allocator) Evaluate(linkID int, dp DP, now time.Time, hwSeed []byte) (Assignment, bool, error) {
	key := ldpKey{linkID, dp.Prefix}
	cfg := a.linkConfigs[linkID]

	if existing, ok := a.assignments[key]; ok {
		return existing, true, nil
	}

	plen := desiredPlen(dp, cfg)

	if dp.Excluded != nil {
		a.overlap.Insert(*dp.Excluded, PriorityExclude, "")
	}

	if cfg.StaticPrefix != nil && dp.Prefix.Overlaps(*cfg.StaticPrefix) {
		return a.accept(key, linkID, dp, *cfg.StaticPrefix, PriorityStatic, RuleStatic, now)
	}

	if cfg.HasLinkID {
		cand, err := subPrefix(dp.Prefix, plen, int64(*cfg.LinkIDBits))
		if err == nil && !a.overlap.CollidesAtOrAbove(cand, PriorityLinkID) {
			return a.accept(key, linkID, dp, cand, PriorityLinkID, RuleLinkID, now)
		}
	}

	if cfg.Address != nil && dp.Prefix.Contains(*cfg.Address) {
		if offset, err := offsetOf(dp.Prefix, plen, *cfg.Address); err == nil {
			cand, err := subPrefix(dp.Prefix, plen, offset)
			if err == nil && !a.overlap.CollidesAtOrAbove(cand, PriorityAddress) {
				return a.accept(key, linkID, dp, cand, PriorityAddress, RuleAddress, now)
			}
		}
	}

	if cand, ok := a.adopted[dp.Prefix.String()]; ok && dp.Prefix.Overlaps(cand) && cand.Bits() == plen {
		return a.accept(key, linkID, dp, cand, PriorityAdopt, RuleAdopt, now)
	}

	if stored, ok := a.Storage.Lookup(linkID, dp.Prefix); ok && dp.Prefix.Overlaps(stored) && stored.Bits() == plen {
		if !a.overlap.CollidesAtOrAbove(stored, PriorityStore) {
			return a.accept(key, linkID, dp, stored, PriorityStore, RuleStore, now)
		}
	}

	seed := seedFrom(linkID, dp.Prefix, hwSeed)
	rng := rand.New(rand.NewSource(seed))
	maxOffset := maxOffsetFor(dp.Prefix.Bits(), plen)
	for i := 0; i < RandomTentatives; i++ {
		offset := randomOffset(rng, maxOffset)
		cand, err := subPrefix(dp.Prefix, plen, offset)
		if err != nil {
			continue
		}
		if a.overlap.CollidesAtOrAbove(cand, PriorityCreate) {
			continue
		}
		return a.accept(key, linkID, dp, cand, PriorityCreate, RuleRandom, now)
	}

	// Override: displace the lowest-priority conflicting assignment by
	// forcing acceptance at PriorityScarcity; paglue is responsible for
	// republishing any assignment this invalidates.
	for i := 0; i < RandomTentatives; i++ {
		offset := randomOffset(rng, maxOffset)
		cand, err := subPrefix(dp.Prefix, plen, offset)
		if err != nil {
			continue
		}
		if a.overlap.CollidesAtOrAbove(cand, PriorityScarcity) {
			continue
		}
		return a.accept(key, linkID, dp, cand, PriorityScarcity, RuleOverride, now)
	}

	return Assignment{}, false, fmt.Errorf("pa: exhausted %d candidates for link %d dp %s", RandomTentatives, linkID, dp.Prefix)
}

func (a *Allocator) accept(key ldpKey, linkID int, dp DP, cand netip.Prefix, priority, rule int, now time.Time) (Assignment, bool, error) {
	asn := Assignment{LinkID: linkID, DP: dp, Prefix: cand, Priority: priority, Rule: rule, AssignedAt: now}
	a.assignments[key] = asn
	a.overlap.Insert(cand, priority, a.OwnerID)
	a.Storage.Save(linkID, dp.Prefix, cand)
	return asn, true, nil
}

func maxOffsetFor(baseBits, plen int) int64 {
	n := plen - baseBits
	if n <= 0 {
		return 0
	}
	if n > 32 {
		n = 32 // cap candidate space; random generation doesn't need the full range
	}
	return int64(1) << uint(n)
}

func randomOffset(rng *rand.Rand, maxOffset int64) int64 {
	if maxOffset <= 0 {
		return 0
	}
	return rng.Int63n(maxOffset)
}

func seedFrom(linkID int, dp netip.Prefix, hwSeed []byte) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s", linkID, dp)
	h.Write(hwSeed)
	return int64(h.Sum64())
}

// AllocateAddress hands linkID the first free host address within
// assignedPrefix, skipping the network and all-ones (broadcast
// equivalent) addresses, which are pre-reserved as fake AdvertisedPrefixes
// at PriorityFake so Random naturally steers around them.
func (a *Allocator) AllocateAddress(linkID int, assignedPrefix netip.Prefix) (netip.Addr, error) {
	if addr, ok := a.addresses[linkID]; ok && assignedPrefix.Contains(addr) {
		return addr, nil
	}

	netAddr, err := candidateAddress(assignedPrefix, 0)
	if err != nil {
		return netip.Addr{}, err
	}
	bcastAddr, err := candidateAddress(assignedPrefix, lastOffset(assignedPrefix))
	if err != nil {
		return netip.Addr{}, err
	}
	bits := 128
	if assignedPrefix.Addr().Is4() {
		bits = 32
	}
	netPfx, _ := netAddr.Prefix(bits)
	bcastPfx, _ := bcastAddr.Prefix(bits)
	a.overlap.Insert(netPfx, PriorityFake, "")
	a.overlap.Insert(bcastPfx, PriorityFake, "")

	for offset := int64(1); offset < lastOffset(assignedPrefix); offset++ {
		cand, err := candidateAddress(assignedPrefix, offset)
		if err != nil {
			continue
		}
		bits := 128
		if cand.Is4() {
			bits = 32
		}
		p, _ := cand.Prefix(bits)
		if a.overlap.CollidesAtOrAbove(p, PriorityFake) {
			continue
		}
		a.addresses[linkID] = cand
		a.overlap.Insert(p, PriorityAddress, a.OwnerID)
		return cand, nil
	}
	return netip.Addr{}, fmt.Errorf("pa: no free address in %s for link %d", assignedPrefix, linkID)
}

func lastOffset(p netip.Prefix) int64 {
	bits := 128
	if p.Addr().Is4() {
		bits = 32
	}
	n := bits - p.Bits()
	if n <= 0 {
		return 0
	}
	if n > 32 {
		n = 32
	}
	return (int64(1) << uint(n)) - 1
}
