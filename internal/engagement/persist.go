package engagement

import (
	"errors"
	"log/slog"

	"github.com/gauthierbraillon/spotlight/internal/kv"
)

type snapshot struct {
	Entries map[string]Entry `json:"entries"`
}

// Load restores the persisted snapshot, replacing in-memory entries. A
// missing, corrupt or version-mismatched snapshot leaves the store cold;
// none of these is an error for the caller. Load reports whether a snapshot
// was restored.
func (s *Store) Load() bool {
	if s.kv == nil {
		return false
	}

	var snap snapshot
	err := kv.LoadSnapshot(s.kv, Namespace, SchemaVersion, &snap)
	switch {
	case err == nil:
	case errors.Is(err, kv.ErrNotFound):
		return false
	case errors.Is(err, kv.ErrVersionMismatch):
		s.logger.Info("engagement_snapshot_discarded",
			slog.String("namespace", Namespace),
			slog.String("reason", err.Error()))
		return false
	default:
		s.logger.Warn("engagement_snapshot_load_failed",
			slog.String("namespace", Namespace),
			slog.String("error", err.Error()))
		s.metrics.RecordPersistenceError(Namespace, "read")
		return false
	}

	s.mu.Lock()
	s.entries.reset()
	for k, e := range snap.Entries {
		// A lock never survives a reload.
		e.Pending = false
		s.entries.put(k, &record{Entry: e})
	}
	s.loaded = true
	n := s.entries.len()
	s.mu.Unlock()

	s.metrics.SetEngagementEntries(n)
	s.logger.Debug("engagement_snapshot_loaded", slog.Int("entries", n))
	return true
}

// Loaded reports whether a persisted snapshot was restored this session.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// persist writes the current entries. Failures are logged and counted; the
// in-memory state keeps working without durability.
func (s *Store) persist() {
	if s.kv == nil {
		return
	}

	// Snapshot and write under one lock so writes land in mutation order.
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	snap := snapshot{Entries: make(map[string]Entry, s.entries.len())}
	s.entries.each(func(k string, r *record) {
		e := r.Entry
		e.Pending = false
		snap.Entries[k] = e
	})
	s.mu.Unlock()

	if err := kv.SaveSnapshot(s.kv, Namespace, SchemaVersion, snap); err != nil {
		s.logger.Warn("engagement_persist_failed",
			slog.String("namespace", Namespace),
			slog.String("error", err.Error()))
		s.metrics.RecordPersistenceError(Namespace, "write")
	}
}
