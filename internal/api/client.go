// Package api provides a client for the spotlight quotes API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/gauthierbraillon/spotlight/internal/identity"
)

const defaultBaseURL = "https://api.spotlight.app"

// ErrNetwork wraps failures that never produced an HTTP response.
var ErrNetwork = errors.New("api: network unavailable")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string { return e.Message }

// HTTPClient interface for making HTTP requests (allows injection for testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithRateLimit caps outgoing requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Client is a spotlight quotes API client.
type Client struct {
	token      string
	baseURL    string
	httpClient HTTPClient
	limiter    *rate.Limiter
}

// NewClient creates a new API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchLatest retrieves the most recently posted quotes.
func (c *Client) FetchLatest(ctx context.Context, limit int, noCache bool) ([]identity.Item, error) {
	return c.fetchList(ctx, "/v1/quotes/latest", url.Values{}, limit, noCache)
}

// FetchFavorites retrieves favorited quotes. scope is "mine" or "all".
func (c *Client) FetchFavorites(ctx context.Context, scope string, limit int, noCache bool) ([]identity.Item, error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	return c.fetchList(ctx, "/v1/quotes/favorites", q, limit, noCache)
}

// FetchPopular retrieves the most favorited quotes overall.
func (c *Client) FetchPopular(ctx context.Context, limit int, noCache bool) ([]identity.Item, error) {
	return c.fetchList(ctx, "/v1/quotes/popular", url.Values{}, limit, noCache)
}

// Like favorites item. The returned count is nil when the server did not
// report one.
func (c *Client) Like(ctx context.Context, item identity.Item) (*uint, error) {
	return c.mutate(ctx, http.MethodPost, item)
}

// Unlike removes the favorite on item.
func (c *Client) Unlike(ctx context.Context, item identity.Item) (*uint, error) {
	return c.mutate(ctx, http.MethodDelete, item)
}

func (c *Client) fetchList(ctx context.Context, path string, q url.Values, limit int, noCache bool) ([]identity.Item, error) {
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if noCache {
		q.Set("nocache", "1")
	}
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, noCache)
	if err != nil {
		return nil, err
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", path, err)
	}

	items := identity.IngestAll(records)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type mutationRequest struct {
	Key    string `json:"key"`
	Text   string `json:"text"`
	Author string `json:"author"`
}

type mutationResponse struct {
	Count *uint `json:"count"`
}

func (c *Client) mutate(ctx context.Context, method string, item identity.Item) (*uint, error) {
	if item.Key == "" {
		item.Key = identity.Key(item.Text, item.Attribution)
	}
	payload, err := json.Marshal(mutationRequest{Key: item.Key, Text: item.Text, Author: item.Attribution})
	if err != nil {
		return nil, fmt.Errorf("failed to encode like request: %w", err)
	}

	body, err := c.doRequest(ctx, method, c.baseURL+"/v1/quotes/like", payload, true)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var resp mutationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse like response: %w", err)
	}
	return resp.Count, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, payload []byte, noCache bool) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleAPIError(resp.StatusCode)
	}

	return body, nil
}

// decodeRecords accepts a bare array or an object wrapping the array under
// one of the envelope keys the endpoints use.
func decodeRecords(body []byte) ([]identity.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var records []identity.Record
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var envelope map[string]json.RawMessage
	if err := dec.Decode(&envelope); err != nil {
		return nil, err
	}
	for _, k := range []string{"quotes", "items", "data", "results"} {
		raw, ok := envelope[k]
		if !ok {
			continue
		}
		inner := json.NewDecoder(bytes.NewReader(raw))
		inner.UseNumber()
		var records []identity.Record
		if err := inner.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}
	return nil, nil
}

func handleAPIError(statusCode int) error {
	var msg string
	switch statusCode {
	case http.StatusUnauthorized:
		msg = "spotlight API authentication failed - check SPOTLIGHT_API_TOKEN"
	case http.StatusForbidden:
		msg = "spotlight API access denied"
	case http.StatusNotFound:
		msg = "spotlight API resource not found"
	case http.StatusTooManyRequests:
		msg = "spotlight API rate limit exceeded - please try again later"
	case http.StatusServiceUnavailable:
		msg = "spotlight API temporarily unavailable - please try again in a few minutes"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		msg = "spotlight API server error - please try again later"
	default:
		msg = fmt.Sprintf("spotlight API error (status %d) - please try again", statusCode)
	}
	return &StatusError{StatusCode: statusCode, Message: msg}
}
