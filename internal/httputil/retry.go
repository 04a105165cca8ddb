// Package httputil provides retry/backoff around HTTP requests to the
// forge API. Network errors, 429, and 5xx are retried with exponential
// backoff and jitter; other 4xx responses are returned to the caller.
package httputil

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls the retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // fraction of delay to randomize (0..1)
}

// DefaultRetryConfig returns sensible defaults for API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// Do executes an HTTP request with retries. buildReq is invoked per attempt
// because request bodies are consumed on read.
func Do(ctx context.Context, buildReq func() (*http.Request, error), cfg RetryConfig) (*http.Response, error) {
	return do(ctx, http.DefaultClient, buildReq, cfg)
}

func do(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), cfg RetryConfig) (*http.Response, error) {
	var lastErr error
	for attempt := range cfg.MaxAttempts {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
		default:
			// Success or a non-retryable 4xx; body stays intact for the caller.
			return resp, nil
		}

		// A retryable response is never handed to the caller, so its body
		// must be drained here, the final attempt's included. Headers stay
		// readable for backoff after the close.
		if resp != nil {
			resp.Body.Close()
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := backoff(cfg, attempt, resp)
		slog.Warn("httputil: retrying request",
			"attempt", attempt+1, "max", cfg.MaxAttempts, "delay", delay, "err", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all %d attempts exhausted: %w", cfg.MaxAttempts, lastErr)
}

// backoff computes the delay before the next attempt. A Retry-After header
// on the response takes precedence over the exponential schedule.
func backoff(cfg RetryConfig, attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterFactor > 0 {
		jitter := time.Duration(rand.Float64() * cfg.JitterFactor * float64(delay))
		delay += jitter
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
