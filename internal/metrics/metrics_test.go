package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordToggle("applied")
		m.RecordReconcile("confirmed")
		m.RecordPersistenceError("ns", "write")
		m.RecordBuild("cache")
		m.ObserveBuild(time.Second)
		m.RecordSourceFailure("latest")
		m.RecordFeedItem("primary")
		m.RecordDemotion()
		m.SetEngagementEntries(3)
	})
}

func TestMetrics_CountsByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordToggle("applied")
	m.RecordToggle("applied")
	m.RecordToggle("already_pending")
	m.RecordFeedItem("fallback")
	m.SetEngagementEntries(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Toggles.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Toggles.WithLabelValues("already_pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedItems.WithLabelValues("fallback")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EngagementEntries))
}
