package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "topic_finder"

// Metrics holds the plugin's Prometheus counters.
type Metrics struct {
	TopicsSent          *prometheus.CounterVec
	FallbacksUsed       *prometheus.CounterVec
	DuplicatesDetected  prometheus.Counter
	FetchErrors         *prometheus.CounterVec
	SilenceTriggers     prometheus.Counter
	ScheduledSlotsFired prometheus.Counter
}

// NewMetrics registers the plugin metrics on reg, or on the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		TopicsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "topics_sent_total",
			Help:      "Topics posted to chat streams",
		}, []string{"reason"}),
		FallbacksUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fallbacks_used_total",
			Help:      "Fallback topics used instead of a generated one, by cause",
		}, []string{"cause"}),
		DuplicatesDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplicates_detected_total",
			Help:      "Generated topics that matched a recent topic",
		}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_errors_total",
			Help:      "Source fetch failures",
		}, []string{"source"}),
		SilenceTriggers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "silence_triggers_total",
			Help:      "Silent groups detected",
		}),
		ScheduledSlotsFired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scheduled_slots_fired_total",
			Help:      "Daily schedule slots that triggered a send",
		}),
	}
}

// FetchFailed counts a failure for source. It matches the OnFetchError hooks.
func (m *Metrics) FetchFailed(source string) {
	m.FetchErrors.WithLabelValues(source).Inc()
}
