// Package metrics exposes the Prometheus collectors the control plane
// updates as it runs. The core control plane is low-volume by design
// (spec.md §4.1), so these are gauges and counters sampled on state
// transitions rather than histograms.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every collector a single overlay process registers.
// Each process gets its own instance (and its own registry) so that running
// several nodes in one test binary never collides on metric names.
type Collectors struct {
	BusDepth          prometheus.Gauge
	Children          prometheus.Gauge
	Siblings          prometheus.Gauge
	HandshakeAttempts prometheus.Counter
	HandshakeFailures prometheus.Counter
	ParentChanges     prometheus.Counter
}

// New creates a fresh set of collectors registered against reg. Passing a
// dedicated *prometheus.Registry (rather than the global default) keeps
// multiple in-process nodes, as spawned by internal/testutil, independent.
func New(reg *prometheus.Registry) *Collectors {
	c := &Collectors{
		BusDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_event_bus_depth",
			Help: "Number of events currently queued on the control loop's event bus.",
		}),
		Children: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_children",
			Help: "Number of children currently attached to this node.",
		}),
		Siblings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overlay_siblings",
			Help: "Number of siblings currently known to this node.",
		}),
		HandshakeAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_handshake_attempts_total",
			Help: "Number of join handshakes attempted by this node.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_handshake_failures_total",
			Help: "Number of join handshakes that failed (bad key, transport error, protocol error).",
		}),
		ParentChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overlay_parent_changes_total",
			Help: "Number of parent-change recovery procedures executed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.BusDepth, c.Children, c.Siblings, c.HandshakeAttempts, c.HandshakeFailures, c.ParentChanges)
	}
	return c
}

// Noop returns a Collectors instance that is never registered with any
// registry, for callers (mostly tests) that don't want to observe metrics.
func Noop() *Collectors {
	return New(nil)
}
