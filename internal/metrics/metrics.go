// Package metrics records decoding activity on a private Prometheus
// registry and dumps it in the node-exporter textfile format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/diegofornalha/specedit/internal/edit"
)

const namespace = "specedit"

// Collector implements edit.Observer.
type Collector struct {
	reg *prometheus.Registry

	rounds     prometheus.Counter
	drafted    prometheus.Counter
	accepted   prometheus.Counter
	generated  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	acceptance prometheus.Histogram
	edits      *prometheus.CounterVec
}

// New creates a Collector with its metrics registered.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "rounds_total",
			Help:      "Total number of speculative rounds",
		}),
		drafted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "draft",
			Name:      "tokens_total",
			Help:      "Total number of tokens proposed by the draft source",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accepted",
			Name:      "tokens_total",
			Help:      "Total number of drafted tokens accepted by the target",
		}),
		generated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generated",
			Name:      "tokens_total",
			Help:      "Total number of generated tokens",
		}, []string{"strategy"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "duration_seconds",
			Help:      "Duration of generation calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		acceptance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acceptance_rate",
			Help:      "Per-call fraction of drafted tokens accepted",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Total number of completed edits",
		}, []string{"strategy", "stopped"}),
	}
	c.reg.MustRegister(c.rounds, c.drafted, c.accepted, c.generated, c.duration, c.acceptance, c.edits)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// ObserveEdit records one finished generation call.
func (c *Collector) ObserveEdit(res *edit.Result) {
	if res == nil {
		return
	}
	strategy := string(res.Strategy)
	st := res.Stats

	c.generated.WithLabelValues(strategy).Add(float64(st.TokensGenerated))
	c.duration.WithLabelValues(strategy).Observe(st.Duration.Seconds())
	c.edits.WithLabelValues(strategy, boolLabel(res.Stopped)).Inc()

	if res.Strategy != edit.StrategySpeculative {
		return
	}
	c.rounds.Add(float64(st.Rounds))
	c.drafted.Add(float64(st.Drafted))
	c.accepted.Add(float64(st.Accepted))
	if st.Drafted > 0 {
		c.acceptance.Observe(st.AcceptanceRate())
	}
}

// WriteTextfile writes the current metric values to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
