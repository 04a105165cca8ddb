package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func buildGet(t *testing.T, url string) func() (*http.Request, error) {
	t.Helper()
	return func() (*http.Request, error) {
		return http.NewRequest("GET", url, nil)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), buildGet(t, srv.URL), fastRetryConfig())
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestDoFailsFastOnClientError(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := Do(context.Background(), buildGet(t, srv.URL), fastRetryConfig())
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := Do(context.Background(), buildGet(t, srv.URL), fastRetryConfig()); err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

// trackedBody flips its flag on Close so tests can see whether a response
// body was released.
type trackedBody struct {
	*strings.Reader
	closed *atomic.Bool
}

func (b trackedBody) Close() error {
	b.closed.Store(true)
	return nil
}

// alwaysFailTransport answers every request with a 500 and records each
// body it hands out.
type alwaysFailTransport struct {
	mu     sync.Mutex
	bodies []*atomic.Bool
}

func (tr *alwaysFailTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	closed := new(atomic.Bool)
	tr.mu.Lock()
	tr.bodies = append(tr.bodies, closed)
	tr.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusInternalServerError,
		Header:     http.Header{},
		Body:       trackedBody{strings.NewReader("boom"), closed},
		Request:    req,
	}, nil
}

func TestDoClosesEveryRetryableBody(t *testing.T) {
	t.Parallel()
	tr := &alwaysFailTransport{}
	client := &http.Client{Transport: tr}
	cfg := fastRetryConfig()

	if _, err := do(context.Background(), client, buildGet(t, "http://forge.test/api"), cfg); err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if len(tr.bodies) != cfg.MaxAttempts {
		t.Fatalf("attempts = %d, want %d", len(tr.bodies), cfg.MaxAttempts)
	}
	// The last attempt's body leaks the easiest: it is never handed to the
	// caller and there is no next retry to clean it up.
	for i, closed := range tr.bodies {
		if !closed.Load() {
			t.Fatalf("attempt %d body never closed", i+1)
		}
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}
	if _, err := Do(ctx, buildGet(t, srv.URL), cfg); err == nil {
		t.Fatalf("expected context error")
	}
}
