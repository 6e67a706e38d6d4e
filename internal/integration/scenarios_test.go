package integration

import (
	"net/netip"
	"testing"
	"time"

	"github.com/anvil-networks/hncpd/internal/clock"
	"github.com/anvil-networks/hncpd/internal/pa"
	"github.com/anvil-networks/hncpd/internal/paglue"
)

func TestTwoNodeHandshakeConverges(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	f := &fabric{}
	n1 := newNode(t, f, "eth0", 1, clk)
	n2 := newNode(t, f, "eth0", 2, clk)

	clk.Advance(400 * time.Millisecond)

	if n1.engine.Nodes().Len() != 2 || n2.engine.Nodes().Len() != 2 {
		t.Fatalf("expected both nodes to learn each other: n1=%d n2=%d",
			n1.engine.Nodes().Len(), n2.engine.Nodes().Len())
	}
	if n1.engine.NetworkHash() != n2.engine.NetworkHash() {
		t.Fatal("network hashes should converge after handshake")
	}
}

func TestDelegatedPrefixFloodsAndAssignsOnBothNodes(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	f := &fabric{}
	n1 := newNode(t, f, "eth0", 1, clk)
	n2 := newNode(t, f, "eth0", 2, clk)

	clk.Advance(400 * time.Millisecond)

	dp := pa.DP{
		Prefix:     netip.MustParsePrefix("2001:db8::/56"),
		SourceType: "dhcpv6-pd",
		ValidUntil: clk.Now().Add(time.Hour),
	}
	n1.glue.EnableDP(dp)
	advanceThroughPublish(clk)
	clk.Advance(400 * time.Millisecond) // let the flood reach n2

	a1 := n1.alloc.Assignments()
	if len(a1) != 1 {
		t.Fatalf("n1 expected 1 assignment, got %d", len(a1))
	}
	if !dp.Prefix.Overlaps(a1[0].Prefix) {
		t.Fatalf("n1's assignment %s should fall inside the delegated prefix %s", a1[0].Prefix, dp.Prefix)
	}

	if len(n1.engine.Nodes().All()) == 0 {
		t.Fatal("expected n1 to have published its own node")
	}
	remote, ok := n2.engine.Nodes().Find(n1.engine.OwnID())
	if !ok {
		t.Fatal("n2 should have learned n1's node entry")
	}
	if len(remote.Container) == 0 {
		t.Fatal("n1's flooded container should carry its assigned-prefix TLV")
	}

	// n2 never called EnableDP itself: it must have learned the DP
	// purely from n1's flooded External-Connection record and derived
	// its own sub-prefix assignment from it independently.
	a2 := n2.alloc.Assignments()
	if len(a2) != 1 {
		t.Fatalf("n2 expected 1 assignment derived from the flooded DP, got %d", len(a2))
	}
	if !dp.Prefix.Overlaps(a2[0].Prefix) {
		t.Fatalf("n2's assignment %s should fall inside the delegated prefix %s", a2[0].Prefix, dp.Prefix)
	}
}

func TestCollisionRenamesOneNode(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	f := &fabric{}
	n1 := newNode(t, f, "eth0", 7, clk)
	n2 := newNode(t, f, "eth0", 7, clk) // identical identifier byte

	renamed := 0
	n1.engine.OnCollision = func() { renamed++ }
	n2.engine.OnCollision = func() { renamed++ }

	for i := 0; i < 5; i++ {
		clk.Advance(200 * time.Millisecond)
	}

	if renamed == 0 {
		t.Fatal("expected at least one collision-triggered rename")
	}
	if n1.engine.OwnID().Equal(n2.engine.OwnID()) {
		t.Fatal("colliding nodes should end up with distinct identifiers")
	}
}

func TestSpontaneousULAGenerationWithoutUplink(t *testing.T) {
	ula, err := paglue.GenerateULA(nil)
	if err != nil {
		t.Fatalf("generate ula: %v", err)
	}
	if ula.Bits() != 48 {
		t.Fatalf("expected a /48, got /%d", ula.Bits())
	}
	if ula.Addr().As16()[0] != 0xfd {
		t.Fatalf("expected fd00::/8, got %s", ula.Addr())
	}

	if paglue.HasBetterUplink(nil) {
		t.Fatal("no remote DPs observed, should not report a better uplink")
	}

	clk := clock.NewVirtual(time.Unix(0, 0))
	f := &fabric{}
	n1 := newNode(t, f, "eth0", 1, clk)

	dp := paglue.SpontaneousDP(ula, clk.Now())
	n1.glue.EnableDP(dp)
	clk.Advance(400 * time.Millisecond)

	if len(n1.alloc.Assignments()) != 1 {
		t.Fatalf("expected the spontaneous ULA to be assigned to the link")
	}
}

func TestSpontaneousGenerationWithdrawnOnBetterUplink(t *testing.T) {
	remote := []pa.DP{{Prefix: netip.MustParsePrefix("2001:db8::/56"), SourceType: "dhcpv6-pd"}}
	if !paglue.HasBetterUplink(remote) {
		t.Fatal("a real external connection should always outrank a local fallback")
	}
}

func TestPartitionHealReconvergesNetworkHash(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	f := &fabric{}
	n1 := newNode(t, f, "eth0", 1, clk)
	n2 := newNode(t, f, "eth0", 2, clk)
	n3 := newNode(t, f, "eth0", 3, clk)

	clk.Advance(400 * time.Millisecond)
	if n1.engine.NetworkHash() != n3.engine.NetworkHash() {
		t.Fatal("expected full convergence before partition")
	}

	f.isolate(n2, n3)

	dp := pa.DP{Prefix: netip.MustParsePrefix("2001:db8:f00d::/56"), SourceType: "dhcpv6-pd", ValidUntil: clk.Now().Add(time.Hour)}
	n2.glue.EnableDP(dp)
	advanceThroughPublish(clk)
	clk.Advance(400 * time.Millisecond)

	if _, ok := n3.engine.Nodes().Find(n2.engine.OwnID()); ok {
		if n1.engine.NetworkHash() == n3.engine.NetworkHash() {
			t.Fatal("n3 should have diverged from n1 while partitioned from n2")
		}
	}

	f.heal(n2, n3)
	clk.Advance(400 * time.Millisecond)

	if n1.engine.NetworkHash() != n2.engine.NetworkHash() || n2.engine.NetworkHash() != n3.engine.NetworkHash() {
		t.Fatal("expected the network to reconverge after the partition healed")
	}
}

func TestExcludedPrefixIsNeverAssigned(t *testing.T) {
	clk := clock.NewVirtual(time.Unix(0, 0))
	f := &fabric{}
	n1 := newNode(t, f, "eth0", 1, clk)

	excluded := netip.MustParsePrefix("2001:db8::/60")
	dp := pa.DP{
		Prefix:     netip.MustParsePrefix("2001:db8::/56"),
		SourceType: "dhcpv6-pd",
		ValidUntil: clk.Now().Add(time.Hour),
		Excluded:   &excluded,
	}
	n1.glue.EnableDP(dp)
	clk.Advance(400 * time.Millisecond)

	for _, a := range n1.alloc.Assignments() {
		if excluded.Overlaps(a.Prefix) {
			t.Fatalf("assignment %s must not overlap the excluded range %s", a.Prefix, excluded)
		}
	}
}

// advanceThroughPublish steps a virtual clock through every debounce
// stage a freshly accepted assignment can pass through (BackoffDelay or
// AdoptDelay, then the prefix/address republish debounce), one Advance
// call per stage since a timer scheduled while firing another only
// becomes due on a later Advance/Set call.
func advanceThroughPublish(clk *clock.Virtual) {
	clk.Advance(pa.BackoffDelay)
	clk.Advance(pa.FloodingDelayPA)
	clk.Advance(pa.FloodingDelayAddr)
}
