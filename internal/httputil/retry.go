// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil holds the HTTP plumbing shared by provider adapters:
// per-provider rate limiting and retry on throttling responses.
package httputil

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// BackoffBase is the first backoff delay; each further attempt doubles it.
// Tests lower it to avoid real sleeps.
var BackoffBase = 2 * time.Second

const (
	defaultMaxRetries = 3
	maxBackoff        = 30 * time.Second
)

// Retrier sends requests for one provider, waiting on its rate limit before
// every attempt and retrying throttled or briefly unavailable responses.
type Retrier struct {
	Client *http.Client
	// Limiter may be nil.
	Limiter *Limiter
	// MaxRetries of 0 means 3.
	MaxRetries int
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends req on behalf of key (the provider name). Throttled responses
// are retried with exponential backoff, shortened by a Retry-After header.
// When the wait would outlast ctx's deadline the throttled response is
// returned immediately instead, so a provider timeout is reported as an HTTP
// status rather than a context error. Transport errors are not retried.
func (r Retrier) Do(ctx context.Context, key string, req *http.Request) (*http.Response, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	retries := r.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		if err := r.Limiter.Wait(ctx, key); err != nil {
			return nil, err
		}
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}
		if !retryable(resp.StatusCode) || attempt >= retries {
			return resp, nil
		}

		wait := backoff(attempt)
		if ra := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ra > 0 && ra < wait {
			wait = ra
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func backoff(attempt int) time.Duration {
	d := BackoffBase << attempt
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// retryAfter parses a Retry-After value given either as delay seconds or as
// an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
