// Package metrics provides Prometheus metrics for spotlight.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spotlight"

// Metrics holds every collector spotlight exports.
type Metrics struct {
	Toggles           *prometheus.CounterVec
	Reconciles        *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	Builds            *prometheus.CounterVec
	BuildDuration     prometheus.Histogram
	SourceFailures    *prometheus.CounterVec
	FeedItems         *prometheus.CounterVec
	ExposureDemotions prometheus.Counter
	EngagementEntries prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Toggles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_total",
			Help:      "Optimistic like toggles by result",
		}, []string{"result"}),
		Reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciles_total",
			Help:      "Toggle reconciliations by outcome",
		}, []string{"outcome"}),
		PersistenceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failed persistence reads and writes",
		}, []string{"namespace", "operation"}),
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mix_builds_total",
			Help:      "Mixed feed build requests by how they were served",
		}, []string{"served"}),
		BuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mix_build_duration_seconds",
			Help:      "Duration of full mixed feed builds",
			Buckets:   prometheus.DefBuckets,
		}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Fetcher failures treated as empty sources",
		}, []string{"source"}),
		FeedItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mix_items_total",
			Help:      "Items emitted into mixed feeds by provenance",
		}, []string{"provenance"}),
		ExposureDemotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exposure_demotions_total",
			Help:      "Candidates demoted because they were shown recently",
		}),
		EngagementEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engagement_entries",
			Help:      "Engagement entries held in memory",
		}),
	}
}

// RecordToggle records a toggle attempt ("applied" or "already_pending").
func (m *Metrics) RecordToggle(result string) {
	if m == nil {
		return
	}
	m.Toggles.WithLabelValues(result).Inc()
}

// RecordReconcile records a reconciliation ("confirmed" or "rolled_back").
func (m *Metrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(outcome).Inc()
}

// RecordPersistenceError records a failed read or write.
func (m *Metrics) RecordPersistenceError(ns, operation string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(ns, operation).Inc()
}

// RecordBuild records how a build request was served ("cache", "cooldown",
// "built", "discarded").
func (m *Metrics) RecordBuild(served string) {
	if m == nil {
		return
	}
	m.Builds.WithLabelValues(served).Inc()
}

// ObserveBuild records the duration of a full build.
func (m *Metrics) ObserveBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.BuildDuration.Observe(d.Seconds())
}

// RecordSourceFailure records a fetcher that failed during a build.
func (m *Metrics) RecordSourceFailure(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

// RecordFeedItem records one emitted item.
func (m *Metrics) RecordFeedItem(provenance string) {
	if m == nil {
		return
	}
	m.FeedItems.WithLabelValues(provenance).Inc()
}

// RecordDemotion records a candidate demoted by the exposure window.
func (m *Metrics) RecordDemotion() {
	if m == nil {
		return
	}
	m.ExposureDemotions.Inc()
}

// SetEngagementEntries sets the in-memory entry gauge.
func (m *Metrics) SetEngagementEntries(n int) {
	if m == nil {
		return
	}
	m.EngagementEntries.Set(float64(n))
}
