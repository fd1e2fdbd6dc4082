package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/darkroom/internal/metrics"
	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts         = 5
	WriteMaxAttempts           = 6
	DefaultMaxConcurrentWrites = 3

	baseBackoff = 250 * time.Millisecond
	maxBackoff  = 10 * time.Second
	maxJitter   = 250 * time.Millisecond
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Err returns nil for a 2xx response and a [shared.ErrAPIRequest] carrying the status and a truncated body otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, r.StatusCode, shared.Truncate(string(r.Body), 1000))
}

// RequestOpts describes one logical request, which may take several attempts.
type RequestOpts struct {
	Method      string
	Header      http.Header
	Body        []byte
	MaxAttempts int
	// Write requests hold a slot of the shared write semaphore while in flight.
	Write bool
}

// RetryClientOpts configures a [RetryClient].
type RetryClientOpts struct {
	Provider            string
	HTTPClient          *http.Client
	MaxConcurrentWrites int
	RequestsPerSecond   float64
	Logger              *log.Logger
}

// RetryClient retries 429 and 5xx responses with backoff and bounds concurrent writes.
type RetryClient struct {
	provider   string
	httpClient *http.Client
	writes     *semaphore.Weighted
	limiter    *rate.Limiter
	logger     *log.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewRetryClient creates a [RetryClient]. Zero options take the package defaults.
func NewRetryClient(opts RetryClientOpts) *RetryClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.MaxConcurrentWrites <= 0 {
		opts.MaxConcurrentWrites = DefaultMaxConcurrentWrites
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}

	c := &RetryClient{
		provider:   opts.Provider,
		httpClient: opts.HTTPClient,
		writes:     semaphore.NewWeighted(int64(opts.MaxConcurrentWrites)),
		logger:     opts.Logger,
		sleep:      sleepContext,
		jitter:     randomJitter,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

// Do sends the request, retrying retryable statuses until attempts run out.
// The last response is returned as-is whatever its status; transport errors are returned unretried.
func (c *RetryClient) Do(ctx context.Context, url string, opts RequestOpts) (*Response, error) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, url, opts)
		if err != nil {
			metrics.IntegrationRequests.WithLabelValues(c.provider, "error").Inc()
			return nil, err
		}
		metrics.IntegrationRequests.WithLabelValues(c.provider, metrics.StatusClass(resp.StatusCode)).Inc()

		if resp.OK() {
			return resp, nil
		}

		if !retryable(resp.StatusCode) || attempt >= maxAttempts {
			c.logger.Error("request failed",
				"provider", c.provider,
				"method", opts.Method,
				"url", url,
				"status", resp.StatusCode,
				"attempts", attempt,
				"headers", maskHeaders(opts.Header),
				"body", shared.Truncate(string(resp.Body), 500),
			)
			return resp, nil
		}

		wait := Backoff(attempt, resp.Headers.Get("Retry-After"), c.jitter())
		c.logger.Warn("retrying request", "provider", c.provider, "status", resp.StatusCode, "attempt", attempt, "wait", wait)
		metrics.IntegrationRetries.WithLabelValues(c.provider).Inc()

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt performs one HTTP exchange, holding a write slot for its duration when required.
func (c *RetryClient) attempt(ctx context.Context, url string, opts RequestOpts) (*Response, error) {
	if opts.Write {
		if err := c.writes.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.writes.Release(1)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if opts.Header != nil {
		req.Header = opts.Header.Clone()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// Backoff returns how long to wait before retry number attempt (1-based).
// A positive Retry-After in seconds wins; otherwise the delay doubles from 250ms, capped at 10s, plus jitter.
func Backoff(attempt int, retryAfter string, jitter time.Duration) time.Duration {
	if secs, err := strconv.ParseFloat(strings.TrimSpace(retryAfter), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}

	d := maxBackoff
	if attempt < 1 {
		attempt = 1
	}
	if attempt <= 16 {
		d = min(maxBackoff, baseBackoff<<(attempt-1))
	}
	return d + jitter
}

// maskHeaders flattens h for logging with credentials hidden.
func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		value := strings.Join(v, ",")
		switch strings.ToLower(k) {
		case "authorization":
			scheme, _, _ := strings.Cut(value, " ")
			value = scheme + " ***"
		case "x-api-key", "cookie":
			value = "***"
		}
		out[k] = value
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter)))
}
