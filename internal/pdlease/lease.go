// Package pdlease implements downstream DHCPv6-PD lease registration:
// an external DHCPv6-PD server registers an opaque lease, PA treats it
// as a virtual link, and the lease's callback fires whenever PA assigns
// or re-derives a prefix for it.
package pdlease

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/anvil-networks/hncpd/internal/pa"
)

// Callback is invoked whenever a lease's assigned prefix is created,
// changed, or withdrawn. prefix is the zero value on withdrawal.
type Callback func(leaseID string, prefix netip.Prefix, validUntil, preferredUntil time.Time)

// Lease is one registered downstream PD client, modeled as a virtual
// link for the allocator: it has no real interface, just a client
// identifier and a requested hint length.
type Lease struct {
	ID        string
	HintPlen  int // requested prefix length, 0 = no preference
	LinkID    int // the virtual link id assigned to this lease in the allocator
	callback  Callback
}

// Manager tracks registered leases and feeds their assignments back via
// each lease's callback whenever the parent DP it is bound to changes.
type Manager struct {
	Allocator *pa.Allocator
	nextLink  int
	leases    map[string]*Lease
	boundDP   map[string]netip.Prefix // leaseID -> parent DP
}

// New creates an empty lease manager bound to alloc.
func New(alloc *pa.Allocator) *Manager {
	return &Manager{
		Allocator: alloc,
		leases:    make(map[string]*Lease),
		boundDP:   make(map[string]netip.Prefix),
	}
}

// Register admits a new downstream lease, registering it as a virtual
// link in the allocator's configuration.
func (m *Manager) Register(leaseID string, hintPlen int, cb Callback) *Lease {
	m.nextLink++
	l := &Lease{ID: leaseID, HintPlen: hintPlen, LinkID: m.nextLink, callback: cb}
	m.leases[leaseID] = l
	cfg := pa.LinkConfig{}
	if hintPlen != 0 {
		cfg.V6PlenOverride = hintPlen
	}
	m.Allocator.Configure(l.LinkID, cfg)
	return l
}

// Unregister withdraws a lease: any assignment derived for it is removed
// and its callback fires once more with the zero prefix.
func (m *Manager) Unregister(leaseID string) {
	l, ok := m.leases[leaseID]
	if !ok {
		return
	}
	if dp, bound := m.boundDP[leaseID]; bound {
		m.Allocator.Unassign(l.LinkID, dp)
		delete(m.boundDP, leaseID)
	}
	delete(m.leases, leaseID)
	if l.callback != nil {
		l.callback(leaseID, netip.Prefix{}, time.Time{}, time.Time{})
	}
}

// Assign evaluates dp for leaseID's virtual link and fires its callback
// with the resulting prefix and lifetimes derived from the parent DP.
func (m *Manager) Assign(leaseID string, dp pa.DP, now time.Time, hwSeed []byte) error {
	l, ok := m.leases[leaseID]
	if !ok {
		return fmt.Errorf("pdlease: unknown lease %q", leaseID)
	}
	asn, accepted, err := m.Allocator.Evaluate(l.LinkID, dp, now, hwSeed)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("pdlease: allocation not accepted for lease %q", leaseID)
	}
	m.boundDP[leaseID] = dp.Prefix
	if l.callback != nil {
		l.callback(leaseID, asn.Prefix, dp.ValidUntil, dp.PrefUntil)
	}
	return nil
}

// Leases returns every currently registered lease ID.
func (m *Manager) Leases() []string {
	out := make([]string, 0, len(m.leases))
	for id := range m.leases {
		out = append(out, id)
	}
	return out
}
