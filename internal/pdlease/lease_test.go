package pdlease

import (
	"net/netip"
	"testing"
	"time"

	"github.com/anvil-networks/hncpd/internal/pa"
)

func TestAssignFiresCallbackWithDerivedLifetimes(t *testing.T) {
	alloc := pa.New("node-a", nil)
	m := New(alloc)

	var gotPrefix netip.Prefix
	var gotValid time.Time
	m.Register("client-1", 0, func(leaseID string, prefix netip.Prefix, validUntil, preferredUntil time.Time) {
		gotPrefix = prefix
		gotValid = validUntil
	})

	now := time.Unix(0, 0)
	dp := pa.DP{
		Prefix:     netip.MustParsePrefix("2001:db8::/56"),
		ValidUntil: now.Add(time.Hour),
	}
	if err := m.Assign("client-1", dp, now, []byte("seed")); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !gotPrefix.IsValid() {
		t.Fatal("expected callback to receive an assigned prefix")
	}
	if gotValid != dp.ValidUntil {
		t.Fatalf("got validUntil %v, want %v", gotValid, dp.ValidUntil)
	}
}

func TestUnregisterFiresWithdrawalCallback(t *testing.T) {
	alloc := pa.New("node-a", nil)
	m := New(alloc)

	var sawWithdraw bool
	m.Register("client-1", 0, func(leaseID string, prefix netip.Prefix, validUntil, preferredUntil time.Time) {
		if !prefix.IsValid() {
			sawWithdraw = true
		}
	})

	now := time.Unix(0, 0)
	dp := pa.DP{Prefix: netip.MustParsePrefix("2001:db8::/56")}
	if err := m.Assign("client-1", dp, now, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	m.Unregister("client-1")
	if !sawWithdraw {
		t.Fatal("expected withdrawal callback on unregister")
	}
}

func TestAssignUnknownLeaseErrors(t *testing.T) {
	alloc := pa.New("node-a", nil)
	m := New(alloc)
	err := m.Assign("missing", pa.DP{Prefix: netip.MustParsePrefix("2001:db8::/56")}, time.Unix(0, 0), nil)
	if err == nil {
		t.Fatal("expected error for unknown lease")
	}
}
