package coinapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinboard/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrNotFound is returned when the upstream has no record for the requested
// address.
var ErrNotFound = errors.New("coin not found")

// StatusError reports a non-success upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to the coined-posts REST API.
type Client struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithAPIKey sets the API key sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// NewClient creates a new coined-posts API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List fetches one page of coin records.
func (c *Client) List(ctx context.Context, p ListParams) ([]domain.Coin, error) {
	q := url.Values{}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	if p.SortBy != "" {
		q.Set("sortBy", p.SortBy)
	}
	if p.SortOrder != "" {
		q.Set("sortOrder", p.SortOrder)
	}
	if p.FilterBy != "" {
		q.Set("filterBy", p.FilterBy)
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}

	body, err := c.get(ctx, "/coins", q)
	if err != nil {
		return nil, err
	}

	raws, err := decodeCoinList(body)
	if err != nil {
		return nil, err
	}
	return toCoins(raws), nil
}

// ByAddress fetches a single record by contract address.
// Returns ErrNotFound when the upstream has none.
func (c *Client) ByAddress(ctx context.Context, address string) (*domain.Coin, error) {
	body, err := c.get(ctx, "/coins/"+url.PathEscape(address), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}

	raw, err := decodeCoin(body)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	coin := raw.Coin()
	return &coin, nil
}

// SearchQuery runs the upstream's dedicated text search.
func (c *Client) SearchQuery(ctx context.Context, query string, limit int) ([]domain.Coin, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/coins/search", q)
	if err != nil {
		return nil, err
	}

	raws, err := decodeCoinList(body)
	if err != nil {
		return nil, err
	}
	return toCoins(raws), nil
}

// Trending fetches the upstream's trending list.
func (c *Client) Trending(ctx context.Context, limit int) ([]domain.Coin, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/coins/trending", q)
	if err != nil {
		return nil, err
	}

	raws, err := decodeCoinList(body)
	if err != nil {
		return nil, err
	}
	return toCoins(raws), nil
}

// get performs a GET with bounded retry and exponential backoff on
// transport errors, 429 and 5xx. Any other non-success status fails
// immediately with a *StatusError.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
			if statusErr.retryable() {
				lastErr = statusErr
				continue
			}
			return nil, statusErr
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// truncateBody keeps error messages readable when the upstream sends a page
// of HTML with its failure status.
func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
