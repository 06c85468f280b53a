// Package rss reads quotes from RSS and Atom feeds.
//
// Entries carrying an author element use it as the attribution. Entries
// without one are read the way quote-of-the-day feeds publish them: the
// quote in the description and the author as the title.
package rss

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/gauthierbraillon/spotlight/internal/identity"
)

// Source fetches one feed URL.
type Source struct {
	url    string
	client *http.Client
	parser *gofeed.Parser
	policy *bluemonday.Policy
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient sets the client used to download the feed.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// NewSource creates a Source reading url.
func NewSource(url string, opts ...Option) *Source {
	s := &Source{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		parser: gofeed.NewParser(),
		policy: bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch downloads and parses the feed, returning at most limit items.
func (s *Source) Fetch(ctx context.Context, limit int, noCache bool) ([]identity.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9")
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", s.url, resp.StatusCode)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.url, err)
	}

	items := make([]identity.Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		it, ok := s.toItem(fi)
		if !ok {
			continue
		}
		items = append(items, it)
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (s *Source) toItem(fi *gofeed.Item) (identity.Item, bool) {
	title := s.plain(fi.Title)
	body := s.plain(fi.Description)
	if body == "" {
		body = s.plain(fi.Content)
	}

	var it identity.Item
	switch author := feedAuthor(fi); {
	case author != "" && body != "":
		it.Text, it.Attribution = body, author
	case author != "":
		it.Text, it.Attribution = title, author
	case body != "":
		it.Text, it.Attribution = body, title
	default:
		it.Text = title
	}
	it.Text = strings.TrimSpace(strings.Trim(it.Text, `"“”`))
	if it.Text == "" {
		return identity.Item{}, false
	}

	switch {
	case fi.PublishedParsed != nil:
		it.CreatedAt = *fi.PublishedParsed
	case fi.UpdatedParsed != nil:
		it.CreatedAt = *fi.UpdatedParsed
	}

	it.Key = identity.Key(it.Text, it.Attribution)
	return it, true
}

func feedAuthor(fi *gofeed.Item) string {
	if len(fi.Authors) > 0 && fi.Authors[0] != nil {
		return strings.TrimSpace(fi.Authors[0].Name)
	}
	if fi.Author != nil {
		return strings.TrimSpace(fi.Author.Name)
	}
	return ""
}

// plain strips markup and entities and collapses whitespace.
func (s *Source) plain(v string) string {
	v = html.UnescapeString(s.policy.Sanitize(v))
	return strings.Join(strings.Fields(v), " ")
}
