// Package engagement is the single source of truth for like/favorite state.
//
// Every feed section that shows a quote reads its liked flag and count from
// one Store, keyed by identity key. Mutations are optimistic: Toggle applies
// the change immediately and locks the key until Reconcile confirms or rolls
// it back.
package engagement

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gauthierbraillon/spotlight/internal/identity"
	"github.com/gauthierbraillon/spotlight/internal/kv"
	"github.com/gauthierbraillon/spotlight/internal/metrics"
)

const (
	// Namespace is the persistence namespace of the engagement snapshot.
	Namespace = "spotlight.engagement"

	// SchemaVersion tags persisted snapshots. Bump it whenever the persisted
	// shape changes; older snapshots are then discarded on load.
	SchemaVersion = 2
)

// ErrAlreadyPending is returned by Toggle while a mutation for the same key
// is still in flight.
var ErrAlreadyPending = errors.New("engagement: toggle already pending")

// Entry is the engagement state of one identity key.
type Entry struct {
	Liked           bool `json:"liked"`
	Count           uint `json:"count"`
	Pending         bool `json:"-"`
	LastServerCount uint `json:"last_server_count"`
}

// Result is what the network reported for a toggle.
type Result struct {
	OK bool
	// Count is the authoritative count, when the server returned one.
	Count *uint
}

// Confirmed builds a successful Result. count may be nil.
func Confirmed(count *uint) Result {
	return Result{OK: true, Count: count}
}

// Rejected builds a failed Result.
func Rejected() Result {
	return Result{}
}

// Observer is notified with the current entry whenever a key changes.
type Observer func(key string, e Entry)

type record struct {
	Entry
	prevLiked bool
	prevCount uint
}

// Store holds engagement entries, their observers, and their persisted
// snapshot.
type Store struct {
	mu        sync.Mutex
	entries   *table
	observers map[string]map[uint64]Observer
	nextObs   uint64
	loaded    bool

	persistMu sync.Mutex
	kv        kv.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithCapacity bounds the number of entries held, evicting the least
// recently used entry that has no toggle in flight. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(s *Store) { s.entries = newTable(n) }
}

// NewStore creates an empty Store persisting to store. A nil store keeps
// state in memory only.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		entries:   newTable(0),
		observers: make(map[string]map[uint64]Observer),
		kv:        store,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries.get(key)
	if !ok {
		return Entry{}, false
	}
	return r.Entry, true
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.len()
}

// Entries returns a copy of every entry.
func (s *Store) Entries() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, s.entries.len())
	s.entries.each(func(k string, r *record) {
		out[k] = r.Entry
	})
	return out
}

// SeedFromServer records the server-reported state of item.
//
// A missing entry is created. An existing entry is overwritten only when no
// toggle is pending and the store has not restored a persisted snapshot this
// session; after a restore, local state stands until Reconcile, because each
// endpoint may return its own stale count for the same quote.
func (s *Store) SeedFromServer(item identity.Item) {
	if item.Key == "" {
		return
	}

	s.mu.Lock()
	r, ok := s.entries.get(item.Key)
	switch {
	case !ok:
		r = &record{Entry: Entry{Liked: item.Liked, Count: item.Count, LastServerCount: item.Count}}
		s.entries.put(item.Key, r)
		s.metrics.SetEngagementEntries(s.entries.len())
	case r.Pending || s.loaded:
		s.mu.Unlock()
		return
	default:
		next := Entry{Liked: item.Liked, Count: item.Count, LastServerCount: item.Count}
		if r.Entry == next {
			s.mu.Unlock()
			return
		}
		r.Entry = next
	}
	entry := r.Entry
	obs := s.observersLocked(item.Key)
	s.mu.Unlock()

	s.persist()
	notify(obs, item.Key, entry)
}

// Toggle flips the liked state of key. A key with no entry starts from the
// zero entry; use ToggleFrom to seed it from what is on screen.
func (s *Store) Toggle(key string) (Entry, error) {
	return s.ToggleFrom(key, Entry{})
}

// ToggleFrom flips the liked state of key, adjusts the count by one, and
// locks the key until Reconcile. visible seeds the entry when none exists.
// The returned entry is the new optimistic state. Observers are notified
// before ToggleFrom returns.
func (s *Store) ToggleFrom(key string, visible Entry) (Entry, error) {
	s.mu.Lock()
	r, ok := s.entries.get(key)
	if !ok {
		r = &record{Entry: Entry{Liked: visible.Liked, Count: visible.Count, LastServerCount: visible.Count}}
		s.entries.put(key, r)
		s.metrics.SetEngagementEntries(s.entries.len())
	}
	if r.Pending {
		current := r.Entry
		s.mu.Unlock()
		s.metrics.RecordToggle("already_pending")
		return current, ErrAlreadyPending
	}

	r.prevLiked, r.prevCount = r.Liked, r.Count
	r.Liked = !r.Liked
	if r.Liked {
		r.Count++
	} else if r.Count > 0 {
		r.Count--
	}
	r.Pending = true

	entry := r.Entry
	obs := s.observersLocked(key)
	s.mu.Unlock()

	s.metrics.RecordToggle("applied")
	s.persist()
	notify(obs, key, entry)
	return entry, nil
}

// Reconcile settles the pending toggle of key. On success the pending lock
// is cleared and an authoritative count, if present, replaces the local
// one. On failure the pre-toggle liked/count are restored. Reconcile on a
// key with nothing pending is a no-op.
func (s *Store) Reconcile(key string, res Result) Entry {
	s.mu.Lock()
	r, ok := s.entries.get(key)
	if !ok || !r.Pending {
		var current Entry
		if ok {
			current = r.Entry
		}
		s.mu.Unlock()
		return current
	}

	r.Pending = false
	if res.OK {
		if res.Count != nil {
			r.Count = *res.Count
		}
		r.LastServerCount = r.Count
	} else {
		r.Liked, r.Count = r.prevLiked, r.prevCount
	}

	entry := r.Entry
	obs := s.observersLocked(key)
	s.mu.Unlock()

	if res.OK {
		s.metrics.RecordReconcile("confirmed")
	} else {
		s.metrics.RecordReconcile("rolled_back")
	}
	s.persist()
	notify(obs, key, entry)
	return entry
}

// Subscribe binds fn to key. The returned func removes the binding and is
// safe to call more than once.
func (s *Store) Subscribe(key string, fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	s.nextObs++
	id := s.nextObs
	if s.observers[key] == nil {
		s.observers[key] = make(map[uint64]Observer)
	}
	s.observers[key][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.observers[key], id)
			if len(s.observers[key]) == 0 {
				delete(s.observers, key)
			}
		})
	}
}

// ForEachObserver calls fn with every observer bound to key.
func (s *Store) ForEachObserver(key string, fn func(Observer)) {
	s.mu.Lock()
	obs := s.observersLocked(key)
	s.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

// Notify pushes the current entry of key to its observers.
func (s *Store) Notify(key string) {
	s.mu.Lock()
	r, ok := s.entries.get(key)
	if !ok {
		s.mu.Unlock()
		return
	}
	entry := r.Entry
	obs := s.observersLocked(key)
	s.mu.Unlock()
	notify(obs, key, entry)
}

func (s *Store) observersLocked(key string) []Observer {
	bound := s.observers[key]
	if len(bound) == 0 {
		return nil
	}
	out := make([]Observer, 0, len(bound))
	for _, o := range bound {
		out = append(out, o)
	}
	return out
}

func notify(obs []Observer, key string, e Entry) {
	for _, o := range obs {
		o(key, e)
	}
}
