package workflow

import (
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts dispatch lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	createdTotal    *prometheus.CounterVec
	dedupedTotal    *prometheus.CounterVec
	suppressedTotal *prometheus.CounterVec
	completedTotal  *prometheus.CounterVec
	fallbackTotal   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		createdTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_created_total",
			Help: "Dispatch records created, by event, channel, recipient type and initial status.",
		}, []string{"event", "channel", "recipient_type", "status"}),
		dedupedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_deduplicated_total",
			Help: "Candidates that matched an existing dedupe key.",
		}, []string{"event"}),
		suppressedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_event_suppressed_total",
			Help: "Events that produced no dispatch at all, by reason.",
		}, []string{"event", "reason"}),
		completedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_completed_total",
			Help: "Dispatch records moved to a terminal status after being queued.",
		}, []string{"status"}),
		fallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_fallback_total",
			Help: "One-shot fallback deliveries by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) created(rec *models.NotificationDispatch) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(string(rec.Event), string(rec.Channel), string(rec.RecipientType), string(rec.Status)).Inc()
}

func (m *Metrics) deduplicated(event models.NotificationEvent) {
	if m == nil {
		return
	}
	m.dedupedTotal.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) suppressed(event models.NotificationEvent, reason string) {
	if m == nil {
		return
	}
	m.suppressedTotal.WithLabelValues(string(event), reason).Inc()
}

func (m *Metrics) completed(status models.DispatchStatus) {
	if m == nil {
		return
	}
	m.completedTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) fallback(outcome string) {
	if m == nil {
		return
	}
	m.fallbackTotal.WithLabelValues(outcome).Inc()
}
