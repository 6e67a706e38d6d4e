package metrics

import (
	"github.com/anvil-networks/hncpd/internal/dncp"
	"github.com/anvil-networks/hncpd/internal/dncp/link"
	"github.com/anvil-networks/hncpd/internal/dncp/store"
)

// WireEngine attaches r's counters to engine's Trickle/collision hooks.
// Call once, before the engine starts running.
func WireEngine(r *Registry, e *dncp.Engine) {
	e.OnTrickleSend = func(l *link.Link) {
		r.TrickleSends.WithLabelValues(l.IfName).Inc()
	}
	e.OnTrickleSkip = func(l *link.Link) {
		r.TrickleSkips.WithLabelValues(l.IfName).Inc()
	}
	e.OnCollision = func() {
		r.CollisionRenames.Inc()
	}
}

// ObserveStore updates the node-store size and reachable-node gauges from
// a snapshot of the engine's current node store. Call periodically (e.g.
// after every processed datagram or on a timer tick).
func ObserveStore(r *Registry, nodes *store.NodeStore) {
	all := nodes.All()
	r.NodeStoreSize.Set(float64(len(all)))
	reachable := 0
	for _, n := range all {
		if n.Reachable {
			reachable++
		}
	}
	r.ReachableNodes.Set(float64(reachable))
}
