// Package link implements the per-link state the flooder drives: the
// Trickle timer, the neighbor table and keepalive expiry.
package link

import (
	"math/rand"
	"time"
)

// Trickle is the interval-doubling gossip timer described in the
// glossary: on every consistent exchange the counter increments; on any
// inconsistent exchange the interval collapses back to Imin and restarts.
// Transmission only happens if, at the randomly chosen send instant
// within the interval, fewer than K consistent exchanges have been
// observed so far this interval.
type Trickle struct {
	Imin, Imax time.Duration
	K          int

	i time.Duration
	c int

	// rng is seeded per link (a hash of the interface name XORed with the
	// link id, see seedFor) so that send-time jitter is reproducible in
	// tests without being globally shared across links.
	rng *rand.Rand
}

// NewTrickle returns a Trickle with interval reset to imin, seeded from
// seed for reproducible jitter.
func NewTrickle(imin, imax time.Duration, k int, seed int64) *Trickle {
	t := &Trickle{
		Imin: imin,
		Imax: imax,
		K:    k,
		rng:  rand.New(rand.NewSource(seed)),
	}
	t.Reset()
	return t
}

// Reset collapses the interval to Imin and zeroes the consistency
// counter, as happens on an inconsistent exchange.
func (t *Trickle) Reset() {
	t.i = t.Imin
	t.c = 0
}

// Interval returns the current interval length I.
func (t *Trickle) Interval() time.Duration {
	return t.i
}

// Count returns the current consistency counter c.
func (t *Trickle) Count() int {
	return t.c
}

// Consistent records a consistent exchange (matching hash), incrementing
// c. It does not affect the interval.
func (t *Trickle) Consistent() {
	t.c++
}

// Inconsistent records an inconsistent exchange (differing hash),
// collapsing the interval back to Imin per Reset.
func (t *Trickle) Inconsistent() {
	t.Reset()
}

// ShouldSend reports whether, at the scheduled send instant, a network
// state summary should actually be transmitted: true unless redundancy
// has already been satisfied (c >= K).
func (t *Trickle) ShouldSend() bool {
	return t.c < t.K
}

// NextSendDelay draws the uniform-random instant within the current
// interval, t in [I/2, I], at which the send decision is evaluated.
func (t *Trickle) NextSendDelay() time.Duration {
	half := t.i / 2
	if half <= 0 {
		return t.i
	}
	jitter := time.Duration(t.rng.Int63n(int64(t.i - half + 1)))
	return half + jitter
}

// DoubleInterval doubles I up to Imax and resets c, as happens when the
// current interval ends without any inconsistency having been seen.
func (t *Trickle) DoubleInterval() {
	t.i *= 2
	if t.i > t.Imax {
		t.i = t.Imax
	}
	t.c = 0
}
