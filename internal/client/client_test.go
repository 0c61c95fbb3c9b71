package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/field-advisory/internal/circuitbreaker"
)

func getRequest(url string) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func newTestCaller(attempts int) *Caller {
	return NewCaller(Options{
		Provider:       "test",
		Timeout:        2 * time.Second,
		RetryAttempts:  attempts,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
}

func TestCaller_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	ctx := WithCorrelationID(context.Background(), "corr-1")
	body, err := newTestCaller(3).Do(ctx, getRequest(server.URL))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("Do() body = %s", body)
	}
}

func TestCaller_Do_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"401 unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"403 forbidden", http.StatusForbidden, ErrInvalidAPIKey},
		{"404 not found", http.StatusNotFound, ErrNotFound},
		{"400 bad request", http.StatusBadRequest, ErrRejected},
		{"429 rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"500 server error", http.StatusInternalServerError, ErrUpstreamFailure},
		{"503 unavailable", http.StatusServiceUnavailable, ErrUpstreamFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer server.Close()

			_, err := newTestCaller(1).Do(context.Background(), getRequest(server.URL))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Do() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), "nope") {
				t.Errorf("Do() error should quote upstream detail, got %v", err)
			}
		})
	}
}

func TestCaller_Do_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("done"))
	}))
	defer server.Close()

	body, err := newTestCaller(3).Do(context.Background(), getRequest(server.URL))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if string(body) != "done" {
		t.Errorf("Do() body = %q, want done", body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestCaller_Do_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestCaller(2).Do(context.Background(), getRequest(server.URL))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Do() error = %v, want ErrRateLimited", err)
	}
	if !strings.Contains(err.Error(), "exhausted retries") {
		t.Errorf("Do() error = %v, want exhausted retries", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

func TestCaller_Do_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestCaller(3).Do(context.Background(), getRequest(server.URL))
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("Do() error = %v, want ErrInvalidAPIKey", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestCaller_Do_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer server.Close()

	c := NewCaller(Options{Provider: "test", Timeout: 20 * time.Millisecond, RetryAttempts: 1})
	_, err := c.Do(context.Background(), getRequest(server.URL))
	if err == nil {
		t.Fatal("Do() expected timeout error, got nil")
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError(%v) = %q, want timeout", err, CategorizeError(err))
	}
}

func TestCaller_Do_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestCaller(1)
	c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute, Component: "test"}))

	for i := 0; i < 2; i++ {
		if _, err := c.Do(context.Background(), getRequest(server.URL)); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v, want ErrUpstreamFailure", i, err)
		}
	}
	_, err := c.Do(context.Background(), getRequest(server.URL))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do() error = %v, want ErrCircuitOpen", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2 (breaker should short-circuit)", got)
	}
}

func TestCaller_Do_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1})
	c := newTestCaller(1)
	c.SetCircuitBreaker(cb)

	for i := 0; i < 3; i++ {
		_, _ = c.Do(context.Background(), getRequest(server.URL))
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", cb.State())
	}
}

func TestCaller_CalculateBackoff(t *testing.T) {
	c := NewCaller(Options{RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: 300 * time.Millisecond})
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{3, 300 * time.Millisecond, 330 * time.Millisecond},
		{6, 300 * time.Millisecond, 330 * time.Millisecond},
	}
	for _, tt := range tests {
		got := c.calculateBackoff(tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateBackoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestCorrelationID_Empty(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID() = %q, want empty", got)
	}
}
