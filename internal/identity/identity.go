// Package identity turns heterogeneous content records into one stable
// identity key and one canonical item shape.
//
// The same quote can arrive from several endpoints with different field
// names and casing. Everything downstream (engagement state, exposure
// history, feed dedup) correlates items by Key only.
package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Separator joins normalized text and attribution. The ASCII unit separator
// does not occur in human-entered text.
const Separator = "\x1f"

// Key derives the identity key for a text/attribution pair. It never fails;
// an empty attribution is simply the empty string.
func Key(text, attribution string) string {
	return normalize(text) + Separator + normalize(attribution)
}

func normalize(s string) string {
	// A Caser carries state and must not be shared between goroutines.
	return cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(s)))
}

// Dedupe keeps the first item for every key, preserving input order.
// Callers list their highest-priority source first so it wins.
func Dedupe(items []Item) []Item {
	return DedupeBy(items, func(it Item) string { return it.Key })
}

// DedupeBy keeps the first element for every key returned by key.
func DedupeBy[T any](items []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, it)
	}
	return out
}
