// Package metrics exports Prometheus metrics for the command pipeline: a chain stage
// timing every command, and Hooks counting availability events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "splitcache"

type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	CommandsInFlight prometheus.Gauge

	DeniedTotal         *prometheus.CounterVec
	MaskedReadsTotal    prometheus.Counter
	SuspectAbsenceTotal prometheus.Counter
	Degraded            prometheus.Gauge
	ModeChangesTotal    prometheus.Counter
	ChainSize           prometheus.Gauge
	PartialCommitsTotal prometheus.Counter
}

// New registers every metric with reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_total",
			Help:      "Commands that went through the chain, by kind and outcome",
		}, []string{"kind", "status"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from entering the metrics stage to the command's result",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"kind"}),

		CommandsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_in_flight",
			Help:      "Commands currently in the chain",
		}),

		DeniedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "denied_total",
			Help:      "Operations refused by the partition stage",
		}, []string{"op"}),

		MaskedReadsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "masked_reads_total",
			Help:      "Read transport failures reported as unavailable keys",
		}),

		SuspectAbsenceTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "suspect_absence_total",
			Help:      "Empty reads refused because no owner was live",
		}),

		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "degraded",
			Help:      "Whether this node is in degraded mode (1) or available (0)",
		}),

		ModeChangesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "mode_changes_total",
			Help:      "Availability mode transitions",
		}),

		ChainSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "stages",
			Help:      "Number of stages in the interceptor chain",
		}),

		PartialCommitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "partial_commits_total",
			Help:      "Commits that reached only part of their owners",
		}),
	}
}
