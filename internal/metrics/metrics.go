// Package metrics exposes the daemon's Prometheus instrumentation:
// Trickle sends/skips per link, node-store size, reachable-node count,
// PA assignment count, and collision-rename count. Carried as ambient
// observability alongside the rest of the daemon's runtime state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the daemon updates.
type Registry struct {
	TrickleSends     *prometheus.CounterVec
	TrickleSkips     *prometheus.CounterVec
	NodeStoreSize    prometheus.Gauge
	ReachableNodes   prometheus.Gauge
	PAAssignments    prometheus.Gauge
	CollisionRenames prometheus.Counter

	reg *prometheus.Registry
}

// New registers all metrics against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		TrickleSends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hncpd",
			Subsystem: "trickle",
			Name:      "sends_total",
			Help:      "Trickle-triggered network state sends, per link.",
		}, []string{"link"}),
		TrickleSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hncpd",
			Subsystem: "trickle",
			Name:      "skips_total",
			Help:      "Trickle intervals where a send was suppressed (hash already consistent), per link.",
		}, []string{"link"}),
		NodeStoreSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hncpd",
			Subsystem: "store",
			Name:      "nodes",
			Help:      "Number of nodes currently held in the node store.",
		}),
		ReachableNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hncpd",
			Subsystem: "store",
			Name:      "reachable_nodes",
			Help:      "Number of nodes currently marked reachable.",
		}),
		PAAssignments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hncpd",
			Subsystem: "pa",
			Name:      "assignments",
			Help:      "Number of prefixes currently assigned by this node's allocator.",
		}),
		CollisionRenames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hncpd",
			Subsystem: "dncp",
			Name:      "collision_renames_total",
			Help:      "Number of times this node renewed its node identifier after a collision.",
		}),
		reg: reg,
	}
}

// Handler returns the http.Handler to serve at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics at addr. It blocks until
// the server stops or errors; run it in its own goroutine.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return http.ListenAndServe(addr, mux)
}
