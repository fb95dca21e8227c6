// File: internal/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters and gauges recorded by the history core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	traversals      *prometheus.CounterVec
	entriesAppended *prometheus.CounterVec
	pendingTrackers prometheus.Gauge
	queueDepth      *prometheus.GaugeVec
	messages        *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg under the given namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		traversals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_steps_applied_total",
			Help:      "History step applications by outcome.",
		}, []string{"result"}),
		entriesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_entries_appended_total",
			Help:      "Session history entries added to traversables, by history handling.",
		}, []string{"handling"}),
		pendingTrackers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "navigation_method_trackers_pending",
			Help:      "Navigation API method trackers whose finished promise has not settled.",
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_depth",
			Help:      "Tasks waiting in a serial task queue.",
		}, []string{"queue"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "constellation_messages_total",
			Help:      "Script to constellation messages handled, by type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) RecordStepApplied(result string) {
	if m == nil {
		return
	}
	m.traversals.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEntryAppended(handling string) {
	if m == nil {
		return
	}
	m.entriesAppended.WithLabelValues(handling).Inc()
}

func (m *Metrics) TrackerAdded() {
	if m == nil {
		return
	}
	m.pendingTrackers.Inc()
}

func (m *Metrics) TrackerSettled() {
	if m == nil {
		return
	}
	m.pendingTrackers.Dec()
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) RecordMessage(msgType, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType, outcome).Inc()
}
