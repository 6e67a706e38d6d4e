// Package paglue binds the profile-agnostic flooded database (dncp +
// hncp TLVs) to the PA allocator core: it turns remote Assigned-Prefix/
// External-Connection TLVs into pa.AdvertisedPrefix/pa.DP inputs, and
// turns the allocator's accepted assignments back into local TLVs.
package paglue

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/go-logr/logr"

	"github.com/anvil-networks/hncpd/internal/clock"
	"github.com/anvil-networks/hncpd/internal/dncp"
	"github.com/anvil-networks/hncpd/internal/dncp/store"
	"github.com/anvil-networks/hncpd/internal/dncp/tlv"
	"github.com/anvil-networks/hncpd/internal/hncp"
	"github.com/anvil-networks/hncpd/internal/pa"
)

// Link describes one local interface PA should allocate for.
type Link struct {
	EndpointID int
	IfName     string
	Config     pa.LinkConfig
}

// pendingKey identifies a (link, DP) pair awaiting a debounced publish.
type pendingKey struct {
	EndpointID int
	DP         string
}

// Glue owns the allocator, the set of enabled DPs, and the subscription
// to the flooding engine.
type Glue struct {
	Engine    *dncp.Engine
	Allocator *pa.Allocator
	Clock     clock.Clock
	Log       logr.Logger

	dps        map[string]pa.DP // keyed by Prefix.String()
	links      map[int]Link
	conditions *conditionSet

	// pendingPublish holds the AdoptDelay/BackoffDelay timers gating a
	// freshly accepted assignment's first publish, so a retraction
	// arriving before the delay elapses can cancel it outright instead
	// of publishing something already withdrawn.
	pendingPublish map[pendingKey]clock.Timer
	// prefixRepublish/addrRepublish debounce RepublishOwnNode calls
	// triggered by prefix vs. address changes respectively, coalescing
	// bursts of reconciliation into one flood.
	prefixRepublish clock.Timer
	addrRepublish   clock.Timer

	// selfAssigned holds sub-prefixes this node's own identity was seen
	// advertising in a peer's still-live copy of our container, learned
	// back after a restart before we've re-derived which DP they belong
	// to. reconcileDP drains candidates that overlap the DP at hand into
	// the allocator's adopted set.
	selfAssigned []netip.Prefix

	lastUplink *netip.Prefix
	token      int
}

// New wires a Glue instance to engine, subscribing to its callbacks
// immediately.
func New(engine *dncp.Engine, alloc *pa.Allocator, clk clock.Clock, log logr.Logger) *Glue {
	g := &Glue{
		Engine:         engine,
		Allocator:      alloc,
		Clock:          clk,
		Log:            log,
		dps:            make(map[string]pa.DP),
		links:          make(map[int]Link),
		conditions:     newConditionSet(),
		pendingPublish: make(map[pendingKey]clock.Timer),
	}
	g.token = engine.Subscribe(dncp.Callbacks{
		NodeAdded:   g.onNodeChanged,
		NodeRemoved: g.onNodeRemoved,
		TLVChanged:  g.onNodeChanged,
	})
	return g
}

// Close unsubscribes from the engine and cancels any pending timers.
func (g *Glue) Close() {
	g.Engine.Unsubscribe(g.token)
	for _, t := range g.pendingPublish {
		t.Stop()
	}
	if g.prefixRepublish != nil {
		g.prefixRepublish.Stop()
	}
	if g.addrRepublish != nil {
		g.addrRepublish.Stop()
	}
}

// AddLink registers a local link as a PA consumer.
func (g *Glue) AddLink(l Link) {
	g.links[l.EndpointID] = l
	g.Allocator.Configure(l.EndpointID, l.Config)
}

// EnableDP admits dp for allocation across every registered link,
// floods it to the rest of the network as an External-Connection (this
// node is the one that learned it from its uplink), and immediately
// evaluates assignments for it.
func (g *Glue) EnableDP(dp pa.DP) {
	g.publishExternalConnection(dp)
	g.admitDP(dp)
}

// admitDP records dp as a candidate for local sub-allocation without
// flooding an External-Connection for it, used both for locally-owned
// DPs (via EnableDP) and DPs learned from a peer's flooded record.
func (g *Glue) admitDP(dp pa.DP) {
	g.dps[dp.Prefix.String()] = dp
	g.reconcileDP(dp)
}

// DisableDP withdraws dp: every assignment derived from it is removed
// and its local TLVs retracted.
func (g *Glue) DisableDP(prefix netip.Prefix) {
	dp, ok := g.dps[prefix.String()]
	if !ok {
		return
	}
	delete(g.dps, prefix.String())
	for linkID := range g.links {
		g.Allocator.Unassign(linkID, dp.Prefix)
		key := pendingKey{EndpointID: linkID, DP: dp.Prefix.String()}
		if t, ok := g.pendingPublish[key]; ok {
			t.Stop()
			delete(g.pendingPublish, key)
		}
	}
	g.republishAssignedPrefixes()
	g.republishExternalConnections()
	// Withdrawal floods immediately: unlike a fresh publish, there is no
	// collision or restart race to wait out before telling the network
	// a prefix is no longer in use.
	if g.prefixRepublish != nil {
		g.prefixRepublish.Stop()
		g.prefixRepublish = nil
	}
	g.republish()
}

// reconcileDP evaluates the allocator for dp against every registered
// link and schedules the resulting Assigned-Prefix/Node-Address TLVs
// for publication.
func (g *Glue) reconcileDP(dp pa.DP) {
	g.seedAdoption(dp)

	now := g.Clock.Now()
	for endpointID, l := range g.links {
		asn, ok, err := g.Allocator.Evaluate(endpointID, dp, now, []byte(l.IfName))
		if err != nil {
			g.Log.Error(err, "pa: allocation failed", "link", l.IfName, "dp", dp.Prefix)
			g.setDegraded(err)
			continue
		}
		if !ok {
			continue
		}
		g.schedulePublish(endpointID, dp, asn, l)
	}
	g.setHealthy()
}

// seedAdoption matches any previously-advertised sub-prefix of our own
// that overlaps dp into the allocator's adopted set, so the Adopt rule
// can reclaim it instead of Random picking a fresh one.
func (g *Glue) seedAdoption(dp pa.DP) {
	for _, cand := range g.selfAssigned {
		if dp.Prefix.Overlaps(cand) {
			g.Allocator.SeedAdopted(dp.Prefix, cand)
		}
	}
}

// schedulePublish defers a freshly accepted assignment's first publish
// by the rule-appropriate delay: an adopted prefix waits AdoptDelay so
// a restart doesn't immediately re-flood what the network may still be
// flooding back to us, and a freshly created one waits BackoffDelay so
// simultaneous candidate generation on other nodes has a chance to
// settle before anyone commits. Anything else (Static/LinkID/Address/
// Store) publishes at once, since no random or cross-restart race is
// involved.
func (g *Glue) schedulePublish(endpointID int, dp pa.DP, asn pa.Assignment, l Link) {
	var delay time.Duration
	switch asn.Rule {
	case pa.RuleAdopt:
		delay = pa.AdoptDelay
	case pa.RuleRandom, pa.RuleOverride:
		delay = pa.BackoffDelay
	}

	key := pendingKey{EndpointID: endpointID, DP: dp.Prefix.String()}
	if t, ok := g.pendingPublish[key]; ok {
		t.Stop()
		delete(g.pendingPublish, key)
	}

	publish := func() {
		delete(g.pendingPublish, key)
		g.publishAssignment(asn)
		g.scheduleRepublish(&g.prefixRepublish, pa.FloodingDelayPA)

		addr, err := g.Allocator.AllocateAddress(endpointID, asn.Prefix)
		if err != nil {
			g.Log.Error(err, "pa: address allocation failed", "link", l.IfName)
			return
		}
		g.Engine.PublishLocal(hncp.NodeAddress{EndpointID: uint32(endpointID), Addr: addr}.Encode())
		g.scheduleRepublish(&g.addrRepublish, pa.FloodingDelayAddr)
	}

	if delay == 0 {
		publish()
		return
	}
	g.pendingPublish[key] = g.Clock.AfterFunc(delay, publish)
}

func (g *Glue) publishAssignment(asn pa.Assignment) {
	rec := hncp.AssignedPrefix{
		EndpointID: uint32(asn.LinkID),
		Priority:   uint8(asn.Priority),
		Prefix:     asn.Prefix,
	}
	g.Engine.PublishLocal(rec.Encode())
}

// publishExternalConnection floods dp as an External-Connection record,
// wrapping its Delegated-Prefix child with the relative lifetimes the
// wire format expects. Only the node that owns dp's uplink calls this;
// every other node only consumes it via onNodeChanged.
func (g *Glue) publishExternalConnection(dp pa.DP) {
	now := g.Clock.Now()
	ec := hncp.ExternalConnection{
		Delegated: hncp.DelegatedPrefix{
			MsValid:     msUntil(now, dp.ValidUntil),
			MsPreferred: msUntil(now, dp.PrefUntil),
			Prefix:      dp.Prefix,
		},
	}
	g.Engine.PublishLocal(ec.Encode())
	g.scheduleRepublish(&g.prefixRepublish, pa.FloodingDelayPA)
}

// msUntil converts an absolute deadline to the milliseconds-remaining
// form the wire format uses, with the all-ones sentinel for "no expiry".
func msUntil(now, deadline time.Time) uint32 {
	if deadline.IsZero() {
		return 0xffffffff
	}
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms >= 0xffffffff {
		return 0xfffffffe
	}
	return uint32(ms)
}

// sinceMs is the inverse of msUntil: it turns a wire-relative deadline
// back into an absolute time.Time given when it was observed.
func sinceMs(now time.Time, ms uint32) time.Time {
	if ms == 0xffffffff {
		return time.Time{}
	}
	return now.Add(time.Duration(ms) * time.Millisecond)
}

func (g *Glue) republish() {
	g.Engine.RepublishOwnNode()
}

// scheduleRepublish debounces a republish into *slot: a call that
// arrives before the previous one's delay elapses cancels and replaces
// it, so a burst of reconciliation floods only once.
func (g *Glue) scheduleRepublish(slot *clock.Timer, delay time.Duration) {
	if *slot != nil {
		(*slot).Stop()
	}
	*slot = g.Clock.AfterFunc(delay, func() {
		*slot = nil
		g.republish()
	})
}

// republishAssignedPrefixes rebuilds the local Assigned-Prefix TLV set
// from the allocator's current assignments, since RemoveLocalByType
// clears every TLV of that type regardless of which DP it came from.
func (g *Glue) republishAssignedPrefixes() {
	g.Engine.RemoveLocalByType(hncp.TypeAssignedPrefix)
	for _, asn := range g.Allocator.Assignments() {
		g.publishAssignment(asn)
	}
}

// republishExternalConnections rebuilds the local External-Connection
// TLV set from the DPs still enabled, for the same reason.
func (g *Glue) republishExternalConnections() {
	g.Engine.RemoveLocalByType(hncp.TypeExternalConnection)
	for _, dp := range g.dps {
		if dp.SourceType == "external-connection" {
			continue // learned from a peer's flood, not ours to publish
		}
		g.publishExternalConnection(dp)
	}
}

// onNodeChanged decodes a node's container for Assigned-Prefix,
// Node-Address and External-Connection records. For a remote node these
// feed the allocator's overlap index (AdvertisedPrefix) and admit any
// flooded DP for local sub-allocation. For our own node -- reachable
// once a peer echoes back a still-live copy of our pre-restart
// container -- Assigned-Prefix records instead seed the Adopt rule via
// selfAssigned, so a restarted process can reclaim what it previously
// held instead of colliding with itself.
func (g *Glue) onNodeChanged(n *store.Node) {
	records, err := tlv.Parse(n.Container)
	if err != nil {
		return
	}
	own := n.Identifier.Equal(g.Engine.OwnID())
	owner := n.Identifier.String()

	for _, r := range records {
		switch r.Type {
		case hncp.TypeAssignedPrefix:
			ap, err := hncp.DecodeAssignedPrefix(r)
			if err != nil {
				continue
			}
			if own {
				g.rememberSelfAssigned(ap.Prefix)
				continue
			}
			g.Allocator.ObserveAdvertised(pa.AdvertisedPrefix{
				Prefix:   ap.Prefix,
				Priority: int(ap.Priority),
				Owner:    owner,
			})
		case hncp.TypeNodeAddress:
			if own {
				continue
			}
			na, err := hncp.DecodeNodeAddress(r)
			if err != nil {
				continue
			}
			bits := 128
			if na.Addr.Is4() {
				bits = 32
			}
			p, err := na.Addr.Prefix(bits)
			if err != nil {
				continue
			}
			g.Allocator.ObserveAdvertised(pa.AdvertisedPrefix{
				Prefix:   p,
				Priority: pa.PriorityAddress,
				Owner:    owner,
			})
		case hncp.TypeExternalConnection:
			if own {
				continue
			}
			ec, err := hncp.DecodeExternalConnection(r)
			if err != nil {
				continue
			}
			now := g.Clock.Now()
			g.admitDP(pa.DP{
				Prefix:     ec.Delegated.Prefix,
				SourceType: "external-connection",
				ValidUntil: sinceMs(now, ec.Delegated.MsValid),
				PrefUntil:  sinceMs(now, ec.Delegated.MsPreferred),
			})
		}
	}

	if !own {
		g.reevaluateAll()
	}
}

// rememberSelfAssigned records cand if it isn't already tracked.
func (g *Glue) rememberSelfAssigned(cand netip.Prefix) {
	for _, existing := range g.selfAssigned {
		if existing == cand {
			return
		}
	}
	g.selfAssigned = append(g.selfAssigned, cand)
}

func (g *Glue) onNodeRemoved(n *store.Node) {
	g.reevaluateAll()
}

func (g *Glue) reevaluateAll() {
	for _, dp := range g.dps {
		g.reconcileDP(dp)
	}
}

func (g *Glue) setHealthy() {
	g.conditions.Set(Condition{
		Type:    ConditionTypeDegraded,
		Status:  ConditionFalse,
		Reason:  "Healthy",
		Message: "allocator operating normally",
	}, g.Clock.Now())
}

func (g *Glue) setDegraded(err error) {
	g.conditions.Set(Condition{
		Type:    ConditionTypeDegraded,
		Status:  ConditionTrue,
		Reason:  "AllocationFailed",
		Message: err.Error(),
	}, g.Clock.Now())
}

// Conditions returns the current health observations, for a status
// endpoint to render.
func (g *Glue) Conditions() []Condition {
	return g.conditions.All()
}

// NextRenewal computes when a DP-backed lease should next be
// reconsidered: 80% of its remaining valid lifetime, clamped to
// [1min, 5min], or a flat 5 minutes for a lease with no expiry. Ported
// from the reconciler's lease-requeue heuristic.
func NextRenewal(dp pa.DP, now time.Time) time.Duration {
	if dp.ValidUntil.IsZero() {
		return 5 * time.Minute
	}
	remaining := dp.ValidUntil.Sub(now)
	requeue := time.Duration(float64(remaining) * 0.8)
	if requeue < time.Minute {
		requeue = time.Minute
	}
	if requeue > 5*time.Minute {
		requeue = 5 * time.Minute
	}
	return requeue
}

// String renders a Glue's current link/DP bindings for debugging.
func (g *Glue) String() string {
	return fmt.Sprintf("paglue{links=%d dps=%d}", len(g.links), len(g.dps))
}
