package workpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pool's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	enqueued    *prometheus.CounterVec
	completed   *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	inFlight    prometheus.Gauge
	queueDepth  prometheus.Gauge
	jobDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workpool_enqueue_total",
			Help: "Enqueue calls by outcome (accepted, full, closed).",
		}, []string{"outcome"}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workpool_jobs_completed_total",
			Help: "Jobs reported to their completion callback, by result kind.",
		}, []string{"kind"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "workpool_job_attempts_total",
			Help: "Individual job attempts by outcome.",
		}, []string{"outcome"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "workpool_jobs_in_flight",
			Help: "Jobs currently held by a worker.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "workpool_queue_depth",
			Help: "Jobs waiting for a worker.",
		}),
		jobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "workpool_job_duration_seconds",
			Help:    "Time from first attempt to completion, backoff included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (m *Metrics) enqueue(outcome string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(outcome).Inc()
}

func (m *Metrics) complete(kind ResultKind, seconds float64) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(string(kind)).Inc()
	m.jobDuration.Observe(seconds)
}

func (m *Metrics) attempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
