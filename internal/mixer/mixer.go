package mixer

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gauthierbraillon/spotlight/internal/engagement"
	"github.com/gauthierbraillon/spotlight/internal/exposure"
	"github.com/gauthierbraillon/spotlight/internal/identity"
	"github.com/gauthierbraillon/spotlight/internal/metrics"
)

const (
	DefaultTTL                 = 5 * time.Minute
	DefaultCooldown            = 2 * time.Second
	DefaultOverfetch           = 2
	DefaultExposureWindow      = 4 * time.Hour
	DefaultMaxOwnerImpressions = 3
)

// Engagement is the part of the engagement store the mixer reads and seeds.
type Engagement interface {
	SeedFromServer(item identity.Item)
	Get(key string) (engagement.Entry, bool)
}

// Exposure is the part of the exposure tracker the mixer consults.
type Exposure interface {
	WasShownRecently(key string, window time.Duration) bool
	OwnerShownRecently(ownerID string, window time.Duration) bool
	OwnerImpressions(ownerID string) uint
	MarkShownBatch(shown []exposure.Shown)
}

// Mixer builds mixed feeds and caches the last one.
type Mixer struct {
	mu           sync.Mutex
	cache        []FeedItem
	builtAt      time.Time
	buildStarted time.Time
	building     bool
	generation   uint64

	engagement          Engagement
	exposure            Exposure
	ttl                 time.Duration
	cooldown            time.Duration
	overfetch           int
	window              time.Duration
	maxOwnerImpressions uint
	markShown           bool
	now                 func() time.Time
	logger              *slog.Logger
	metrics             *metrics.Metrics
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithEngagement seeds emitted items into e and overlays its state.
func WithEngagement(e Engagement) Option {
	return func(m *Mixer) { m.engagement = e }
}

// WithExposure enables anti-repeat demotion and marks emitted items shown.
func WithExposure(e Exposure) Option {
	return func(m *Mixer) { m.exposure = e }
}

// WithTTL sets how long a built feed stays fresh.
func WithTTL(d time.Duration) Option {
	return func(m *Mixer) { m.ttl = d }
}

// WithCooldown sets the window during which repeated builds are ignored.
func WithCooldown(d time.Duration) Option {
	return func(m *Mixer) { m.cooldown = d }
}

// WithOverfetch sets the extra items requested per source.
func WithOverfetch(n int) Option {
	return func(m *Mixer) { m.overfetch = n }
}

// WithExposureWindow sets the anti-repeat window; zero disables demotion.
func WithExposureWindow(d time.Duration) Option {
	return func(m *Mixer) { m.window = d }
}

// WithMaxOwnerImpressions sets how many impressions an owner may collect
// inside the window before their items are demoted.
func WithMaxOwnerImpressions(n uint) Option {
	return func(m *Mixer) { m.maxOwnerImpressions = n }
}

// WithMarkShown controls whether emitted items are recorded as shown.
func WithMarkShown(on bool) Option {
	return func(m *Mixer) { m.markShown = on }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Mixer) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mixer) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mixer) { m.metrics = mt }
}

// New creates a Mixer.
func New(opts ...Option) *Mixer {
	m := &Mixer{
		ttl:                 DefaultTTL,
		cooldown:            DefaultCooldown,
		overfetch:           DefaultOverfetch,
		window:              DefaultExposureWindow,
		maxOwnerImpressions: DefaultMaxOwnerImpressions,
		markShown:           true,
		now:                 time.Now,
		logger:              slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Build returns a mixed feed of at most req.Target items.
//
// A fresh cache holding at least Target items is served, cut to Target,
// unless ForceReload is set. While a build is running, or within the
// cooldown after one started, further non-forced calls return the last
// known feed instead of starting another build. A build superseded by a
// newer one, by Invalidate or by its context ending is discarded before it
// seeds engagement or records exposure. Build never fails: sources that
// error count as empty, and an empty feed is a valid result.
func (m *Mixer) Build(ctx context.Context, req Request) []FeedItem {
	if len(req.Ratio) > 0 {
		req.Sources = WithRatio(req.Sources, req.Ratio)
	}

	m.mu.Lock()
	now := m.now()
	if !req.ForceReload {
		if m.freshLocked(now) && len(m.cache) >= req.Target {
			out := m.cachedLocked(req.Target)
			m.mu.Unlock()
			m.metrics.RecordBuild("cache")
			return out
		}
		if m.building || (!m.buildStarted.IsZero() && now.Sub(m.buildStarted) < m.cooldown) {
			out := m.cachedLocked(req.Target)
			m.mu.Unlock()
			m.metrics.RecordBuild("cooldown")
			return out
		}
	}
	m.building = true
	m.buildStarted = now
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	buildID := uuid.NewString()
	start := time.Now()
	m.logger.Debug("mix_build_started",
		slog.String("build_id", buildID),
		slog.Int("target", req.Target),
		slog.Bool("force_reload", req.ForceReload))

	items := m.compose(ctx, buildID, req)

	m.mu.Lock()
	if gen != m.generation || ctx.Err() != nil {
		if gen == m.generation {
			m.building = false
		}
		out := m.cachedLocked(req.Target)
		m.mu.Unlock()
		m.metrics.RecordBuild("discarded")
		m.logger.Debug("mix_build_discarded", slog.String("build_id", buildID))
		return out
	}
	m.mu.Unlock()

	// building stays set, so overlapping calls keep being ignored while the
	// result is applied. Observers run without the mixer lock held.
	m.settle(items)

	m.mu.Lock()
	if gen == m.generation {
		m.building = false
		m.cache = items
		m.builtAt = m.now()
	}
	out := slices.Clone(items)
	m.mu.Unlock()

	m.metrics.RecordBuild("built")
	m.metrics.ObserveBuild(time.Since(start))
	m.logger.Info("mix_build_completed",
		slog.String("build_id", buildID),
		slog.Int("items", len(out)),
		slog.Int("target", req.Target))
	return out
}

// cachedLocked returns a copy of at most target cached items.
func (m *Mixer) cachedLocked(target int) []FeedItem {
	n := min(max(target, 0), len(m.cache))
	return slices.Clone(m.cache[:n:n])
}

// Cached returns the last built feed without building.
func (m *Mixer) Cached() []FeedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.cache)
}

// State reports the cache lifecycle state.
func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.building:
		return StateBuilding
	case m.builtAt.IsZero():
		return StateEmpty
	case m.freshLocked(m.now()):
		return StateFresh
	default:
		return StateStale
	}
}

// Invalidate drops the cache. A build still in flight will discard its
// result; use it when the user leaves the feed or changes its filter.
func (m *Mixer) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	m.building = false
	m.buildStarted = time.Time{}
	m.cache = nil
	m.builtAt = time.Time{}
}

func (m *Mixer) freshLocked(now time.Time) bool {
	return !m.builtAt.IsZero() && now.Sub(m.builtAt) < m.ttl
}
