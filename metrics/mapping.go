// Package metrics holds the prometheus collectors of the mapping protocol.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Proposals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapring_proposals_total",
		Help: "Proposals emitted by local registrations",
	})

	Accepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapring_accepted_total",
		Help: "Bindings installed into the accepted store",
	})

	Conflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapring_conflicts_total",
		Help: "Mapping conflicts by where they were detected",
	}, []string{"stage"})

	Duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapring_duplicate_proposals_total",
		Help: "Proposals marked as duplicates while passing this node",
	})

	Timeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapring_timeouts_total",
		Help: "Pending registrations failed by the timeout window",
	})

	InvariantViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapring_invariant_violations_total",
		Help: "Accepted messages that disagreed with the accepted store",
	})

	StoreFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapring_store_failures_total",
		Help: "Accepted bindings the durable store failed to write",
	})

	Aborts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapring_aborted_proposals_total",
		Help: "Proposals withdrawn after a failed ring traversal",
	})

	Pending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapring_pending_entries",
		Help: "Entries in the pending registry",
	})

	TopologyVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapring_topology_major_version",
		Help: "Major topology version last seen by the coordinator",
	})

	HopLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapring_ring_traversal_ms",
		Help:    "Time for a discovery message to traverse the ring",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Register adds the collectors to reg (default registerer when nil).
// Collectors that are already registered are skipped.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		Proposals, Accepted, Conflicts, Duplicates, Timeouts,
		InvariantViolations, StoreFailures, Aborts, Pending, TopologyVersion, HopLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
