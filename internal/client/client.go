// Package client is the shared HTTP caller behind every upstream collaborator
// (forecast provider, language model, speech, messaging). It applies a
// per-attempt timeout, bounded retry with exponential backoff and jitter on
// transient failures, an optional circuit breaker, status-code error mapping
// and per-provider metrics.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/field-advisory/internal/circuitbreaker"
	"github.com/kjstillabower/field-advisory/internal/observability"
)

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrNotFound        = errors.New("not found")
	ErrRejected        = errors.New("request rejected")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrCircuitOpen     = circuitbreaker.ErrOpen
)

// maxBodyBytes bounds response reads; speech audio is the largest payload.
const maxBodyBytes = 32 << 20

// maxErrorDetail bounds how much of an error body is quoted in error messages.
const maxErrorDetail = 512

// RequestFunc builds a fresh request for each attempt so bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Options configures a Caller. Zero retry values take defaults (3 attempts, 100ms, 2s).
type Options struct {
	Provider       string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	HTTPClient     *http.Client
}

// Caller executes requests against one provider.
type Caller struct {
	provider       string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewCaller returns a Caller for opts.Provider.
func NewCaller(opts Options) *Caller {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Caller{
		provider:       opts.Provider,
		timeout:        opts.Timeout,
		client:         hc,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
	}
}

// SetCircuitBreaker installs a breaker around every attempt. Only transient
// failures (see IsRetryable) count against it.
func (c *Caller) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Provider returns the metrics label for this caller.
func (c *Caller) Provider() string {
	return c.provider
}

// Do executes the request with retries and returns the 2xx response body.
func (c *Caller) Do(ctx context.Context, build RequestFunc) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(c.provider).Inc()
			timer := time.NewTimer(c.calculateBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, err := c.attempt(ctx, build)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			c.recordError(err)
			return nil, err
		}
	}

	c.recordError(lastErr)
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *Caller) attempt(ctx context.Context, build RequestFunc) ([]byte, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, build)
	}

	var body []byte
	var callErr error
	err := c.breaker.Call(ctx, func() error {
		body, callErr = c.callAPI(ctx, build)
		if callErr != nil && IsRetryable(callErr) {
			return callErr
		}
		return nil
	})
	if err != nil && callErr == nil {
		return nil, fmt.Errorf("%s: %w", c.provider, err)
	}
	return body, callErr
}

func (c *Caller) callAPI(ctx context.Context, build RequestFunc) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(reqCtx)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(c.provider, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}
	if corrID := CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(c.provider, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(c.provider, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(c.provider, status).Inc()
	observability.UpstreamDuration.WithLabelValues(c.provider, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, fmt.Errorf("read response body: %w", readErr)
	}
	return body, nil
}

func (c *Caller) recordError(err error) {
	observability.UpstreamErrorsTotal.WithLabelValues(c.provider, string(CategorizeError(err))).Inc()
}

func (c *Caller) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// IsRetryable reports whether err is transient: rate limiting, 5xx, or a timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	detail := errorDetail(body)
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d%s", ErrInvalidAPIKey, statusCode, detail)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d%s", ErrNotFound, statusCode, detail)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d%s", ErrRateLimited, statusCode, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d%s", ErrUpstreamFailure, statusCode, detail)
	default:
		return fmt.Errorf("%w: HTTP %d%s", ErrRejected, statusCode, detail)
	}
}

func errorDetail(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return ""
	}
	if len(s) > maxErrorDetail {
		s = s[:maxErrorDetail]
	}
	return ": " + s
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
