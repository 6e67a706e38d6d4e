package link

import (
	"hash/fnv"
	"time"

	"github.com/anvil-networks/hncpd/internal/clock"
)

// ID is the locally-unique, monotonically-assigned link identifier
// (referred to on the wire as the endpoint identifier). It is never
// reused within a process lifetime even if the underlying interface is
// disabled and re-enabled.
type ID uint32

// Config holds the per-link Trickle parameters and keepalive interval,
// normally populated from the process configuration.
type Config struct {
	Imin, Imax      time.Duration
	K               int
	KeepaliveInterv time.Duration // zero disables keepalive on this link
}

// DefaultConfig mirrors the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		Imin: 200 * time.Millisecond,
		Imax: 20 * time.Second,
		K:    1,
	}
}

// Link is one enabled local interface: its Trickle state machine, its
// neighbor table, and its keepalive schedule.
type Link struct {
	ID        ID
	IfName    string
	IfIndex   int
	Config    Config
	Neighbors *NeighborTable

	trickle *Trickle

	sendTimer     clock.Timer
	intervalTimer clock.Timer

	// OnSend is invoked at the Trickle-scheduled instant when
	// ShouldSend() is true: the flooder transmits a network-state
	// summary to the link-local multicast group.
	OnSend func(l *Link)
	// OnSkip is invoked instead of OnSend when the send is suppressed by
	// redundancy (used to drive the num_trickle_skipped metric).
	OnSkip func(l *Link)
}

// New constructs a Link with a fresh Trickle timer seeded deterministically
// from the interface name and link id, and starts its interval.
func New(id ID, ifName string, ifIndex int, cfg Config, clk clock.Clock) *Link {
	l := &Link{
		ID:        id,
		IfName:    ifName,
		IfIndex:   ifIndex,
		Config:    cfg,
		Neighbors: NewNeighborTable(),
		trickle:   NewTrickle(cfg.Imin, cfg.Imax, cfg.K, seedFor(ifName, id)),
	}
	l.scheduleInterval(clk)
	return l
}

func seedFor(ifName string, id ID) int64 {
	h := fnv.New64a()
	h.Write([]byte(ifName))
	return int64(h.Sum64()) ^ int64(id)
}

// Trickle exposes the link's Trickle state machine, mainly for tests and
// metrics.
func (l *Link) Trickle() *Trickle {
	return l.trickle
}

// Consistent forwards a consistent exchange observation to the Trickle
// timer. It does not reschedule anything: the interval only changes at
// its own end or on an inconsistency.
func (l *Link) Consistent() {
	l.trickle.Consistent()
}

// Inconsistent collapses the Trickle interval and restarts it
// immediately, cancelling any pending send/interval timers.
func (l *Link) Inconsistent(clk clock.Clock) {
	l.trickle.Inconsistent()
	l.scheduleInterval(clk)
}

// scheduleInterval (re)starts both the randomized send timer and the
// interval-end timer against the current Trickle interval.
func (l *Link) scheduleInterval(clk clock.Clock) {
	if l.sendTimer != nil {
		l.sendTimer.Stop()
	}
	if l.intervalTimer != nil {
		l.intervalTimer.Stop()
	}

	sendDelay := l.trickle.NextSendDelay()
	l.sendTimer = clk.AfterFunc(sendDelay, func() {
		if l.trickle.ShouldSend() {
			if l.OnSend != nil {
				l.OnSend(l)
			}
		} else if l.OnSkip != nil {
			l.OnSkip(l)
		}
	})

	interval := l.trickle.Interval()
	l.intervalTimer = clk.AfterFunc(interval, func() {
		l.trickle.DoubleInterval()
		l.scheduleInterval(clk)
	})
}

// Stop cancels any pending timers, called when the link is disabled.
func (l *Link) Stop() {
	if l.sendTimer != nil {
		l.sendTimer.Stop()
	}
	if l.intervalTimer != nil {
		l.intervalTimer.Stop()
	}
}
