// Package mixer composes the spotlight feed: a ranked, de-duplicated blend
// of several content sources under a target ratio, topped up from a
// fallback chain when the primary sources run short.
package mixer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gauthierbraillon/spotlight/internal/identity"
)

// Provenance tags where an emitted item came from, for UI badges.
type Provenance string

const (
	ProvenancePrimary   Provenance = "primary"
	ProvenanceSecondary Provenance = "secondary"
	ProvenanceFallback  Provenance = "fallback"
)

// FeedItem is one entry of a mixed feed.
type FeedItem struct {
	identity.Item
	Provenance Provenance `json:"provenance"`
	Source     string     `json:"source"`
}

// Fetcher pulls up to limit items from one upstream source. noCache asks
// the source to bypass any cache of its own.
type Fetcher func(ctx context.Context, limit int, noCache bool) ([]identity.Item, error)

// Source is a named fetcher. Weight is its share of the target ratio among
// primary sources; zero counts as one.
type Source struct {
	Name   string
	Weight int
	Fetch  Fetcher
}

// Request describes one build.
type Request struct {
	Target int
	// Ratio, when set, overrides the weights of Sources in order, as
	// WithRatio does.
	Ratio []int
	// Sources are the primary sources in priority order. The first one is
	// tagged primary, the rest secondary.
	Sources []Source
	// Fallbacks are consulted in order only when Sources cannot fill Target.
	Fallbacks   []Source
	ForceReload bool
}

// WithRatio assigns ratio weights to sources in order. Sources beyond the
// ratio keep their weight.
func WithRatio(sources []Source, ratio []int) []Source {
	out := make([]Source, len(sources))
	copy(out, sources)
	for i := range out {
		if i < len(ratio) {
			out[i].Weight = ratio[i]
		}
	}
	return out
}

// ParseRatio parses ratios written as "1:1" or "2:1:1".
func ParseRatio(s string) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	ratio := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid ratio %q: parts must be positive integers", s)
		}
		ratio = append(ratio, n)
	}
	return ratio, nil
}

// State is the lifecycle state of the mixer cache.
type State string

const (
	StateEmpty    State = "empty"
	StateBuilding State = "building"
	StateFresh    State = "fresh"
	StateStale    State = "stale"
)
