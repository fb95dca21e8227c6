// internal/observability/metrics_test.go
package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "histcore")

	m.RecordStepApplied("applied")
	m.RecordStepApplied("applied")
	m.RecordStepApplied("canceled-by-beforeunload")
	m.RecordEntryAppended("push")
	m.TrackerAdded()
	m.TrackerAdded()
	m.TrackerSettled()
	m.SetQueueDepth("traversal", 4)
	m.RecordMessage("TraverseHistory", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.traversals.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.traversals.WithLabelValues("canceled-by-beforeunload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesAppended.WithLabelValues("push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingTrackers))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("traversal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("TraverseHistory", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStepApplied("applied")
		m.RecordEntryAppended("replace")
		m.TrackerAdded()
		m.TrackerSettled()
		m.SetQueueDepth("q", 1)
		m.RecordMessage("LoadURL", "error")
	})
}
