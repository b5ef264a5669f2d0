// Package metrics exposes the prometheus collectors the core and
// broker update as events flow through the system.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters and histograms the runtime reports.
type Metrics struct {
	EventsApplied    *prometheus.CounterVec
	EventsRecorded   *prometheus.CounterVec
	SyncCycles       prometheus.Counter
	SyncDuration     prometheus.Histogram
	BusTerminations  prometheus.Counter
}

// New registers and returns a Metrics bundle on reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "events_applied_total",
			Help:      "Number of events applied to an aggregate store, by aggregate type and operation.",
		}, []string{"aggregate_type", "operation"}),
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "events_recorded_total",
			Help:      "Number of events successfully recorded on the event server, by aggregate type.",
		}, []string{"aggregate_type"}),
		SyncCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "sync_cycles_total",
			Help:      "Number of broker sync cycles executed.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventcore",
			Name:      "sync_duration_seconds",
			Help:      "Duration of a single broker sync cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		BusTerminations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventcore",
			Name:      "bus_terminations_total",
			Help:      "Number of times the event bus transitioned into the terminated state.",
		}),
	}

	reg.MustRegister(m.EventsApplied, m.EventsRecorded, m.SyncCycles, m.SyncDuration, m.BusTerminations)
	return m
}
