package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gauthierbraillon/spotlight/internal/identity"
	"github.com/gauthierbraillon/spotlight/internal/kv"
)

// LastMutationNamespace holds the time of the last confirmed mutation.
// Other layers read it to bust their own caches.
const LastMutationNamespace = "spotlight.last_mutation"

// Liker is the network side of a toggle.
type Liker interface {
	// Like and Unlike return the authoritative count when the server
	// reports one, nil otherwise.
	Like(ctx context.Context, item identity.Item) (*uint, error)
	Unlike(ctx context.Context, item identity.Item) (*uint, error)
}

// Notifier surfaces the single, generic notice shown when a toggle fails.
type Notifier interface {
	TransientFailure(key string, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(key string, err error)

func (f NotifierFunc) TransientFailure(key string, err error) { f(key, err) }

// Synchronizer runs the full optimistic round-trip for a toggle: local
// flip, network call, then reconciliation or rollback.
type Synchronizer struct {
	store    *Store
	liker    Liker
	notifier Notifier
	marker   kv.Store
	now      func() time.Time
	logger   *slog.Logger
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithNotifier sets the failure notifier.
func WithNotifier(n Notifier) SyncOption {
	return func(s *Synchronizer) { s.notifier = n }
}

// WithMutationMarker writes the last-mutation timestamp to store.
func WithMutationMarker(store kv.Store) SyncOption {
	return func(s *Synchronizer) { s.marker = store }
}

// WithSyncClock overrides the clock used for the mutation marker.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

// WithSyncLogger sets the logger.
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = l }
}

// NewSynchronizer creates a Synchronizer for store and liker.
func NewSynchronizer(store *Store, liker Liker, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		store:  store,
		liker:  liker,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Toggle flips item's liked state and settles it against the server.
//
// ErrAlreadyPending is returned untouched when a toggle for the same key is
// in flight. A network failure rolls back and is returned wrapped; the store
// is always left unlocked. The notifier is skipped when ctx is already done,
// since nobody is left to see the notice.
func (s *Synchronizer) Toggle(ctx context.Context, item identity.Item) (Entry, error) {
	if item.Key == "" {
		item.Key = identity.Key(item.Text, item.Attribution)
	}

	optimistic, err := s.store.ToggleFrom(item.Key, Entry{Liked: item.Liked, Count: item.Count})
	if err != nil {
		return optimistic, err
	}

	var count *uint
	if optimistic.Liked {
		count, err = s.liker.Like(ctx, item)
	} else {
		count, err = s.liker.Unlike(ctx, item)
	}

	if err != nil {
		settled := s.store.Reconcile(item.Key, Rejected())
		s.logger.Warn("toggle_rolled_back",
			slog.String("key", item.Key),
			slog.Bool("liked", settled.Liked),
			slog.String("error", err.Error()))
		if s.notifier != nil && ctx.Err() == nil {
			s.notifier.TransientFailure(item.Key, err)
		}
		return settled, fmt.Errorf("toggle %s: %w", item.Key, err)
	}

	settled := s.store.Reconcile(item.Key, Confirmed(count))
	s.markMutation()
	s.logger.Debug("toggle_confirmed",
		slog.String("key", item.Key),
		slog.Bool("liked", settled.Liked),
		slog.Uint64("count", uint64(settled.Count)))
	return settled, nil
}

// LastMutation returns the time of the last confirmed mutation, if known.
func LastMutation(store kv.Store) (time.Time, bool) {
	if store == nil {
		return time.Time{}, false
	}
	v, ok, err := store.Get(LastMutationNamespace)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (s *Synchronizer) markMutation() {
	if s.marker == nil {
		return
	}
	if err := s.marker.Set(LastMutationNamespace, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		s.logger.Warn("mutation_marker_failed", slog.String("error", err.Error()))
	}
}

// IsAlreadyPending reports whether err is ErrAlreadyPending.
func IsAlreadyPending(err error) bool {
	return errors.Is(err, ErrAlreadyPending)
}
