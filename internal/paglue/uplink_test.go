package paglue

import (
	"net/netip"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/anvil-networks/hncpd/internal/clock"
	"github.com/anvil-networks/hncpd/internal/dncp"
	"github.com/anvil-networks/hncpd/internal/ifacemgr"
	"github.com/anvil-networks/hncpd/internal/pa"
)

func TestWatchUplinkEnablesDPOnAcquiredAndDisablesOnExpiry(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	engine := dncp.New([]byte{1}, dncp.Config{Clock: clk, Log: logr.Discard()})
	alloc := pa.New(engine.OwnID().String(), nil)
	g := New(engine, alloc, clk, logr.Discard())
	g.AddLink(Link{EndpointID: 1, IfName: "eth0"})

	receiver := ifacemgr.NewMockReceiver(ifacemgr.SourceDHCPv6PD)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		g.WatchUplink(receiver, stop)
		close(done)
	}()

	prefix := netip.MustParsePrefix("2001:db8::/56")
	receiver.SimulatePrefix(prefix, time.Hour)

	waitForAssignment(t, alloc, 1)
	waitForDP(t, g, prefix)
	advanceThroughPublish(clk)

	receiver.SimulatePrefixExpiry()
	waitForAssignment(t, alloc, 0)

	close(stop)
	<-done
}

func TestWatchUplinkSwapsDPOnChange(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	engine := dncp.New([]byte{1}, dncp.Config{Clock: clk, Log: logr.Discard()})
	alloc := pa.New(engine.OwnID().String(), nil)
	g := New(engine, alloc, clk, logr.Discard())
	g.AddLink(Link{EndpointID: 1, IfName: "eth0"})

	receiver := ifacemgr.NewMockReceiver(ifacemgr.SourceDHCPv6PD)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		g.WatchUplink(receiver, stop)
		close(done)
	}()

	first := netip.MustParsePrefix("2001:db8:1::/56")
	receiver.SimulatePrefix(first, time.Hour)
	waitForAssignment(t, alloc, 1)
	advanceThroughPublish(clk)

	second := netip.MustParsePrefix("2001:db8:2::/56")
	receiver.SimulatePrefix(second, time.Hour)
	waitForDP(t, g, second)
	advanceThroughPublish(clk)

	asns := alloc.Assignments()
	if len(asns) != 1 {
		t.Fatalf("got %d assignments after DP swap, want 1", len(asns))
	}
	if !second.Overlaps(asns[0].Prefix) {
		t.Fatalf("assignment %s should fall inside the new DP %s", asns[0].Prefix, second)
	}

	close(stop)
	<-done
}

// waitForAssignment polls until the allocator reports the expected
// assignment count; WatchUplink runs on its own goroutine so the event
// it reacted to may not have landed by the time SimulatePrefix returns.
func waitForAssignment(t *testing.T, alloc *pa.Allocator, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(alloc.Assignments()) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d assignments, got %d", want, len(alloc.Assignments()))
}

func waitForDP(t *testing.T, g *Glue, want netip.Prefix) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.lastUplink != nil && *g.lastUplink == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for lastUplink to become %s", want)
}
