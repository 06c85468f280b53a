// Package exposure remembers when, and how often, a quote and its owner
// were last shown, so a freshly built feed can avoid repeating them.
package exposure

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gauthierbraillon/spotlight/internal/kv"
	"github.com/gauthierbraillon/spotlight/internal/metrics"
)

const (
	// Namespace is the persistence namespace of the exposure history.
	Namespace = "spotlight.exposure"

	// SchemaVersion tags persisted exposure snapshots.
	SchemaVersion = 1
)

// Record is the exposure history of one key or owner.
type Record struct {
	LastShownAt time.Time `json:"last_shown_at"`
	Impressions uint      `json:"impressions"`
}

type snapshot struct {
	Keys   map[string]Record `json:"keys"`
	Owners map[string]Record `json:"owners"`
}

// Tracker records exposures by identity key and by owner id.
type Tracker struct {
	mu     sync.Mutex
	keys   map[string]Record
	owners map[string]Record

	persistMu sync.Mutex
	kv        kv.Store
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates an empty Tracker persisting to store (nil for memory
// only).
func NewTracker(store kv.Store, opts ...Option) *Tracker {
	t := &Tracker{
		keys:   make(map[string]Record),
		owners: make(map[string]Record),
		kv:     store,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkShown records one exposure of key and, when ownerID is not empty, of
// its owner.
func (t *Tracker) MarkShown(key, ownerID string) {
	t.MarkShownBatch([]Shown{{Key: key, OwnerID: ownerID}})
}

// Shown is one exposure for MarkShownBatch.
type Shown struct {
	Key     string
	OwnerID string
}

// MarkShownBatch records several exposures and persists once.
func (t *Tracker) MarkShownBatch(shown []Shown) {
	if len(shown) == 0 {
		return
	}

	now := t.now()
	t.mu.Lock()
	for _, s := range shown {
		if s.Key != "" {
			t.keys[s.Key] = bump(t.keys[s.Key], now)
		}
		if s.OwnerID != "" {
			t.owners[s.OwnerID] = bump(t.owners[s.OwnerID], now)
		}
	}
	t.mu.Unlock()

	t.persist()
}

func bump(r Record, now time.Time) Record {
	r.Impressions++
	// A clock that steps backwards must not move lastShownAt into the past.
	if now.After(r.LastShownAt) {
		r.LastShownAt = now
	}
	return r
}

// WasShownRecently reports whether key was shown less than window ago.
func (t *Tracker) WasShownRecently(key string, window time.Duration) bool {
	t.mu.Lock()
	r, ok := t.keys[key]
	t.mu.Unlock()
	return ok && t.within(r, window)
}

// OwnerShownRecently reports whether ownerID was shown less than window ago.
func (t *Tracker) OwnerShownRecently(ownerID string, window time.Duration) bool {
	t.mu.Lock()
	r, ok := t.owners[ownerID]
	t.mu.Unlock()
	return ok && t.within(r, window)
}

func (t *Tracker) within(r Record, window time.Duration) bool {
	return t.now().Sub(r.LastShownAt) < window
}

// OwnerImpressions returns how many times ownerID has been shown.
func (t *Tracker) OwnerImpressions(ownerID string) uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owners[ownerID].Impressions
}

// Get returns the exposure record of key.
func (t *Tracker) Get(key string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.keys[key]
	return r, ok
}

// Load restores the persisted history. Missing or unreadable history leaves
// the tracker empty.
func (t *Tracker) Load() bool {
	if t.kv == nil {
		return false
	}

	var snap snapshot
	err := kv.LoadSnapshot(t.kv, Namespace, SchemaVersion, &snap)
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrNotFound):
		return false
	case errors.Is(err, kv.ErrVersionMismatch):
		t.logger.Info("exposure_snapshot_discarded", slog.String("reason", err.Error()))
		return false
	default:
		t.logger.Warn("exposure_snapshot_load_failed", slog.String("error", err.Error()))
		t.metrics.RecordPersistenceError(Namespace, "read")
		return false
	}

	t.mu.Lock()
	t.keys = nonNil(snap.Keys)
	t.owners = nonNil(snap.Owners)
	t.mu.Unlock()
	return true
}

func nonNil(m map[string]Record) map[string]Record {
	if m == nil {
		return make(map[string]Record)
	}
	return m
}

func (t *Tracker) persist() {
	if t.kv == nil {
		return
	}

	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	snap := snapshot{
		Keys:   make(map[string]Record, len(t.keys)),
		Owners: make(map[string]Record, len(t.owners)),
	}
	for k, r := range t.keys {
		snap.Keys[k] = r
	}
	for k, r := range t.owners {
		snap.Owners[k] = r
	}
	t.mu.Unlock()

	if err := kv.SaveSnapshot(t.kv, Namespace, SchemaVersion, snap); err != nil {
		t.logger.Warn("exposure_persist_failed", slog.String("error", err.Error()))
		t.metrics.RecordPersistenceError(Namespace, "write")
	}
}
