package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/foxace/ajax-sync-core/internal/transport"
)

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Response header names carrying scheduler hints.
const (
	headerSuggestedInterval = "X-Suggested-Interval"
	headerCacheStatus       = "X-Cache"
	headerCacheTTL          = "X-Cache-TTL"
	headerBypassCache       = "X-Bypass-Cache"
	headerRetryAfter        = "Retry-After"
)

// Hints are optional scheduling hints parsed from response headers. Zero
// values mean the header was absent.
type Hints struct {
	// SuggestedInterval is the cloud's preferred light-poll cadence.
	SuggestedInterval time.Duration

	// CacheHit reports whether the response was served from an
	// intermediate cache.
	CacheHit bool

	// CacheTTL is how long the cached representation remains valid.
	CacheTTL time.Duration

	// RetryAfter is the server's requested delay on a 429 response; zero
	// when absent.
	RetryAfter time.Duration
}

// HubRef identifies one hub in the account's hub list.
type HubRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Options configures a Client.
type Options struct {
	// BaseURL is the REST API root, without trailing slash.
	BaseURL string

	// AccountID selects the account whose hubs are polled.
	AccountID string

	// Tokens supplies session tokens.
	Tokens transport.TokenSource

	// RateRequests/RateWindow describe the shared token bucket
	// (default 60 requests per 60s).
	RateRequests int
	RateWindow   time.Duration

	// BackoffBase/BackoffCap bound the transient-retry delays.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// MaxRetries bounds transient retries per call.
	MaxRetries int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	Logger Logger
}

// Client is the REST poller transport. All methods are safe for concurrent
// use; the rate limiter serializes quota consumption internally.
type Client struct {
	baseURL    string
	accountID  string
	tokens     transport.TokenSource
	limiter    *rate.Limiter
	httpClient *http.Client
	maxRetries int
	backoff    func() *transport.Backoff
	logger     Logger
}

// Default request tuning.
const (
	defaultRateRequests = 60
	defaultRateWindow   = 60 * time.Second
	defaultBackoffBase  = 5 * time.Second
	defaultBackoffCap   = 30 * time.Second
	defaultMaxRetries   = 3
	defaultTimeout      = 15 * time.Second
)

// New creates a REST client.
//
// Returns:
//   - *Client: Ready for use
//   - error: If the options are incomplete
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("rest: base URL is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("rest: token source is required")
	}
	if opts.RateRequests <= 0 {
		opts.RateRequests = defaultRateRequests
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = defaultRateWindow
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	// One token per (window/requests); burst allows the full quota.
	interval := opts.RateWindow / time.Duration(opts.RateRequests)
	base, maxDelay := opts.BackoffBase, opts.BackoffCap

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		accountID:  opts.AccountID,
		tokens:     opts.Tokens,
		limiter:    rate.NewLimiter(rate.Every(interval), opts.RateRequests),
		httpClient: opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		backoff:    func() *transport.Backoff { return transport.NewBackoff(base, maxDelay) },
		logger:     opts.Logger,
	}, nil
}

// ListHubs fetches the account's hub list. Used by the scheduler at startup
// and on metadata refresh to discover hubs.
func (c *Client) ListHubs(ctx context.Context) ([]HubRef, Hints, error) {
	body, hints, err := c.get(ctx, fmt.Sprintf("/accounts/%s/hubs", c.accountID), false)
	if err != nil {
		return nil, hints, err
	}

	var payload struct {
		Hubs []HubRef `json:"hubs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, hints, fmt.Errorf("rest: decoding hub list: %w", err)
	}
	return payload.Hubs, hints, nil
}

// LightPoll fetches hub and device state for one hub. When bypassCache is
// set the request carries the cache-bypass header so intermediate caches
// are skipped and the read reflects freshly changed state.
//
// Returns the raw response body for the normalizer, plus scheduler hints.
func (c *Client) LightPoll(ctx context.Context, hubID string, bypassCache bool) ([]byte, Hints, error) {
	return c.get(ctx, fmt.Sprintf("/hubs/%s/state", hubID), bypassCache)
}

// FullMetadata fetches the complete metadata snapshot (rooms, users,
// groups, authoritative device list) for one hub.
func (c *Client) FullMetadata(ctx context.Context, hubID string) ([]byte, Hints, error) {
	return c.get(ctx, fmt.Sprintf("/hubs/%s/metadata", hubID), false)
}

// get performs a GET with rate limiting, auth, and retries for transient
// and rate-limited responses.
func (c *Client) get(ctx context.Context, path string, bypassCache bool) ([]byte, Hints, error) {
	bo := c.backoff()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		body, hints, err := c.doOnce(ctx, path, bypassCache)
		if err == nil {
			return body, hints, nil
		}
		if !transport.IsRetryable(err) {
			return nil, hints, err
		}
		lastErr = err

		if attempt == c.maxRetries {
			break
		}

		delay := bo.Next()
		// On 429 the server's own pacing takes precedence over the local
		// backoff sequence.
		if errors.Is(err, transport.ErrRateLimited) && hints.RetryAfter > 0 {
			delay = hints.RetryAfter
		}
		c.logger.Debug("retrying request", "path", path, "attempt", attempt+1, "delay", delay)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, Hints{}, err
		}
	}

	return nil, Hints{}, fmt.Errorf("rest: %d retries exhausted for %s: %w", c.maxRetries, path, lastErr)
}

// sleepCtx waits for the given delay or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// doOnce performs exactly one request attempt.
func (c *Client) doOnce(ctx context.Context, path string, bypassCache bool) ([]byte, Hints, error) {
	// Wait for quota. Exhaustion delays the call; it never drops it.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, Hints{}, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, Hints{}, fmt.Errorf("rest: obtaining token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, Hints{}, fmt.Errorf("rest: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if bypassCache {
		req.Header.Set(headerBypassCache, "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Hints{}, transport.Classify(0, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	hints := parseHints(resp.Header)

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		classified := transport.Classify(resp.StatusCode, nil)
		if errors.Is(classified, transport.ErrAuthentication) {
			c.tokens.Invalidate()
		}
		return nil, hints, classified
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hints, transport.Classify(0, err)
	}
	return body, hints, nil
}

// parseHints extracts scheduler hints from response headers. Absent or
// malformed headers leave zero values; the scheduler is forward-compatible
// with their absence.
func parseHints(h http.Header) Hints {
	var hints Hints

	if v := h.Get(headerSuggestedInterval); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			hints.SuggestedInterval = time.Duration(secs) * time.Second
		}
	}
	if v := h.Get(headerCacheStatus); v != "" {
		hints.CacheHit = strings.EqualFold(v, "HIT")
	}
	if v := h.Get(headerCacheTTL); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			hints.CacheTTL = time.Duration(secs) * time.Second
		}
	}
	if v := h.Get(headerRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			hints.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	return hints
}
