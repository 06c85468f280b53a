package mixer

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/gauthierbraillon/spotlight/internal/exposure"
	"github.com/gauthierbraillon/spotlight/internal/identity"
)

// candidate is an item still waiting to be placed, with where it came from.
type candidate struct {
	item       identity.Item
	source     string
	provenance Provenance
}

// selection accumulates emitted items and guarantees key uniqueness.
type selection struct {
	target int
	items  []FeedItem
	seen   map[string]struct{}
}

func newSelection(target int) *selection {
	return &selection{
		target: target,
		items:  make([]FeedItem, 0, target),
		seen:   make(map[string]struct{}, target),
	}
}

func (s *selection) full() bool { return len(s.items) >= s.target }

// add places c unless its key is already selected or the target is met.
func (s *selection) add(c candidate) bool {
	if s.full() {
		return false
	}
	if _, dup := s.seen[c.item.Key]; dup {
		return false
	}
	s.seen[c.item.Key] = struct{}{}
	s.items = append(s.items, FeedItem{Item: c.item, Provenance: c.provenance, Source: c.source})
	return true
}

func (m *Mixer) compose(ctx context.Context, buildID string, req Request) []FeedItem {
	sel := newSelection(max(req.Target, 0))
	if req.Target <= 0 {
		return sel.items
	}

	quotas := quotas(req.Target, req.Sources)
	lists := m.fetchPrimary(ctx, buildID, req, quotas)
	softDedupe(lists)

	fresh := make([][]candidate, len(lists))
	var repeats []candidate
	for i, list := range lists {
		prov := ProvenanceSecondary
		if i == 0 {
			prov = ProvenancePrimary
		}
		f, r := m.partition(list, req.Sources[i].Name, prov)
		fresh[i] = f
		repeats = append(repeats, r...)
	}

	interleave(sel, fresh, quotas)

	// Leftovers from the overfetch margin come before any fallback.
	for _, list := range fresh {
		for _, c := range list {
			if sel.full() {
				break
			}
			sel.add(c)
		}
	}

	for _, fb := range req.Fallbacks {
		if sel.full() || ctx.Err() != nil {
			break
		}
		items := m.fetch(ctx, buildID, fb, req.Target-len(sel.items)+m.overfetch, req.ForceReload)
		f, r := m.partition(identity.Dedupe(items), fb.Name, ProvenanceFallback)
		for _, c := range f {
			sel.add(c)
		}
		repeats = append(repeats, r...)
	}

	// Recently shown items only fill what is still missing.
	for _, c := range repeats {
		if sel.full() {
			break
		}
		sel.add(c)
	}

	return sel.items
}

// quotas splits target across sources by weight, rounding up.
func quotas(target int, sources []Source) []int {
	total := 0
	for _, s := range sources {
		total += weight(s)
	}
	out := make([]int, len(sources))
	if total == 0 {
		return out
	}
	for i, s := range sources {
		out[i] = (target*weight(s) + total - 1) / total
	}
	return out
}

func weight(s Source) int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

// fetchPrimary fetches every primary source concurrently. A failing source
// yields an empty list.
func (m *Mixer) fetchPrimary(ctx context.Context, buildID string, req Request, quotas []int) [][]identity.Item {
	lists := make([][]identity.Item, len(req.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range req.Sources {
		g.Go(func() error {
			lists[i] = identity.Dedupe(m.fetch(gctx, buildID, src, quotas[i]+m.overfetch, req.ForceReload))
			return nil
		})
	}
	_ = g.Wait()
	return lists
}

func (m *Mixer) fetch(ctx context.Context, buildID string, src Source, limit int, noCache bool) []identity.Item {
	if src.Fetch == nil {
		return nil
	}
	items, err := src.Fetch(ctx, limit, noCache)
	if err != nil {
		m.logger.Warn("mix_source_failed",
			slog.String("build_id", buildID),
			slog.String("source", src.Name),
			slog.String("error", err.Error()))
		m.metrics.RecordSourceFailure(src.Name)
		return nil
	}
	// The fetcher may hand out a slice it keeps, so keys go on a copy.
	out := slices.Clone(items)
	for i := range out {
		if out[i].Key == "" {
			out[i].Key = identity.Key(out[i].Text, out[i].Attribution)
		}
	}
	return out
}

// softDedupe drops items of each lower-priority list whose key already
// appears in a higher-priority list, unless that would empty the list.
func softDedupe(lists [][]identity.Item) {
	seen := make(map[string]struct{})
	for i, list := range lists {
		if i > 0 {
			filtered := make([]identity.Item, 0, len(list))
			for _, it := range list {
				if _, dup := seen[it.Key]; !dup {
					filtered = append(filtered, it)
				}
			}
			if len(filtered) > 0 {
				lists[i] = filtered
			}
		}
		for _, it := range list {
			seen[it.Key] = struct{}{}
		}
	}
}

// partition splits items into fresh candidates and ones shown too recently.
func (m *Mixer) partition(items []identity.Item, source string, prov Provenance) (fresh, repeats []candidate) {
	fresh = make([]candidate, 0, len(items))
	for _, it := range items {
		c := candidate{item: it, source: source, provenance: prov}
		if m.recentlyShown(it) {
			m.metrics.RecordDemotion()
			repeats = append(repeats, c)
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, repeats
}

func (m *Mixer) recentlyShown(it identity.Item) bool {
	if m.exposure == nil || m.window <= 0 {
		return false
	}
	if m.exposure.WasShownRecently(it.Key, m.window) {
		return true
	}
	return it.OwnerID != "" &&
		m.maxOwnerImpressions > 0 &&
		m.exposure.OwnerImpressions(it.OwnerID) >= m.maxOwnerImpressions &&
		m.exposure.OwnerShownRecently(it.OwnerID, m.window)
}

// interleave takes one item per source in strict rotation, skipping sources
// that are exhausted or have met their quota, until no source can give more.
func interleave(sel *selection, lists [][]candidate, quotas []int) {
	next := make([]int, len(lists))
	taken := make([]int, len(lists))
	for !sel.full() {
		progressed := false
		for i := range lists {
			if sel.full() {
				break
			}
			for next[i] < len(lists[i]) && taken[i] < quotas[i] {
				c := lists[i][next[i]]
				next[i]++
				if sel.add(c) {
					taken[i]++
					progressed = true
					break
				}
			}
		}
		if !progressed {
			break
		}
	}
	for i := range lists {
		lists[i] = lists[i][next[i]:]
	}
}

// settle seeds every emitted item into the engagement store, overlays the
// store's state so all sections agree, and records the exposures.
func (m *Mixer) settle(items []FeedItem) {
	shown := make([]exposure.Shown, 0, len(items))
	for i := range items {
		if m.engagement != nil {
			m.engagement.SeedFromServer(items[i].Item)
			if e, ok := m.engagement.Get(items[i].Key); ok {
				items[i].Liked = e.Liked
				items[i].Count = e.Count
			}
		}
		m.metrics.RecordFeedItem(string(items[i].Provenance))
		shown = append(shown, exposure.Shown{Key: items[i].Key, OwnerID: items[i].OwnerID})
	}
	if m.exposure != nil && m.markShown {
		m.exposure.MarkShownBatch(shown)
	}
}
