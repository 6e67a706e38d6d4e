// Package pa is the prefix/address allocator core: given a set of
// delegated prefixes (DPs), a set of local links, and the set of
// prefixes other nodes are advertising, it decides which sub-prefix of
// each DP to assign to each link, free of any flooding-protocol
// concerns.
package pa

import (
	"net/netip"
	"time"
)

// Assignment priorities, ordered low-to-high (ties broken by the
// highest priority value winning). Mirrors the reference allocator's
// HPA_PRIORITY_* constants.
const (
	PriorityPD       = 1
	PriorityAdopt    = 2
	PriorityStore    = 2
	PriorityCreate   = 2
	PriorityFake     = 2
	PriorityScarcity = 3
	PriorityLinkID   = 3
	PriorityAddress  = 3
	PriorityStatic   = 4
	PriorityExclude  = 15
)

// Rule evaluation order, lowest first. A rule's numeric value has no
// meaning beyond ordering; it mirrors HPA_RULE_* only in relative order.
const (
	RuleExclude = iota
	RuleStatic
	RuleLinkID
	RuleAddress
	RuleAdopt
	RuleStore
	RuleRandom
	RuleOverride
)

// RandomTentatives bounds how many pseudo-random candidates the Random
// rule tries before giving up and deferring to Override.
const RandomTentatives = 32

// Timer delays governing how eagerly an assignment is published.
const (
	AdoptDelay        = 200 * time.Millisecond
	BackoffDelay      = 1 * time.Second
	FloodingDelayPA   = 1 * time.Second
	FloodingDelayAddr = 300 * time.Millisecond
)

// DP is a delegated prefix available for sub-allocation to links.
type DP struct {
	Prefix     netip.Prefix
	SourceType string // "dhcpv6-pd", "router-advertisement", "local", "pd-lease"
	ValidUntil time.Time
	PrefUntil  time.Time
	// Excluded carves out a sub-prefix of Prefix that must never be
	// assigned (e.g. the uplink's own point-to-point address range).
	Excluded *netip.Prefix
}

func (d DP) IsV4() bool { return d.Prefix.Addr().Is4() || d.Prefix.Addr().Is4In6() }

// Expired reports whether d's valid lifetime has elapsed as of now.
func (d DP) Expired(now time.Time) bool {
	return !d.ValidUntil.IsZero() && now.After(d.ValidUntil)
}

// LinkConfig carries per-link operator overrides consulted by the rule
// chain ahead of automatic allocation.
type LinkConfig struct {
	// StaticPrefix, if set, is published unconditionally for matching DPs
	// regardless of what any other rule would produce (Static rule).
	StaticPrefix *netip.Prefix
	// LinkIDBits picks a fixed sub-prefix of a DP by its numeric link
	// identifier, occupying the high-order bits after the DP (Link-ID rule).
	LinkIDBits *uint64
	HasLinkID  bool
	// Address, if set, is an operator-configured host address that must
	// fall within the DP; the sub-prefix containing it is assigned
	// (Address rule). Distinct from LinkIDBits, which picks a block by
	// numeric index rather than by a concrete address.
	Address        *netip.Addr
	V6PlenOverride int // 0 = no override
	V4PlenOverride int
}

// Assignment is one applied (link, DP) allocation decision.
type Assignment struct {
	LinkID      int
	DP          DP
	Prefix      netip.Prefix
	Priority    int
	Rule        int
	AssignedAt  time.Time
}

// AdvertisedPrefix is a prefix some node (possibly ourselves) has
// published as assigned or address, used for collision checking.
type AdvertisedPrefix struct {
	Prefix   netip.Prefix
	Priority int
	Owner    string // opaque node identifier; "" denotes unowned/fake reservation
}

// desiredPlen implements the DP-size-dependent desired-length table,
// honoring per-link plen overrides first.
func desiredPlen(dp DP, cfg LinkConfig) int {
	if dp.IsV4() {
		if cfg.V4PlenOverride != 0 {
			return cfg.V4PlenOverride
		}
		switch {
		case dp.Prefix.Bits() <= 112:
			return 120
		case dp.Prefix.Bits() <= 120:
			return 124
		default:
			return dp.Prefix.Bits()
		}
	}
	if cfg.V6PlenOverride != 0 {
		return cfg.V6PlenOverride
	}
	switch {
	case dp.Prefix.Bits() <= 64:
		return 64
	case dp.Prefix.Bits() <= 80:
		return 80
	default:
		return dp.Prefix.Bits()
	}
}
