package scheduler

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK    = "ok"
	resultError = "error"
	resultPanic = "panic"
)

func resultFor(err error) string {
	switch {
	case err == nil:
		return resultOK
	case IsPanic(err):
		return resultPanic
	default:
		return resultError
	}
}

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	submitted  *prometheus.CounterVec
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	iterations prometheus.Counter
	live       prometheus.Gauge
	pending    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swbf2sched",
			Subsystem: "scheduler",
			Name:      "submitted_total",
			Help:      "Units submitted, by kind.",
		}, []string{"kind"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swbf2sched",
			Subsystem: "scheduler",
			Name:      "executions_total",
			Help:      "Action executions, by kind and result.",
		}, []string{"kind", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swbf2sched",
			Subsystem: "scheduler",
			Name:      "execution_duration_seconds",
			Help:      "Action execution time.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swbf2sched",
			Subsystem: "scheduler",
			Name:      "iterations_total",
			Help:      "Worker loop iterations.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swbf2sched",
			Subsystem: "scheduler",
			Name:      "live_units",
			Help:      "Repeating and delayed units currently ticked.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swbf2sched",
			Subsystem: "scheduler",
			Name:      "queued_units",
			Help:      "Units waiting in the submission queue.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("scheduler metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.submitted, m.executions, m.duration, m.iterations, m.live, m.pending}
}

func (m *Metrics) submit(k Kind, queued int) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(k.String()).Inc()
	m.pending.Set(float64(queued))
}

func (m *Metrics) observe(k Kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(k.String(), result).Inc()
	m.duration.WithLabelValues(k.String()).Observe(d.Seconds())
}

func (m *Metrics) iteration(live int) {
	if m == nil {
		return
	}
	m.iterations.Inc()
	m.live.Set(float64(live))
}

func (m *Metrics) setLive(n int) {
	if m == nil {
		return
	}
	m.live.Set(float64(n))
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
