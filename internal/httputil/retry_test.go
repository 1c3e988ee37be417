// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	BackoffBase = time.Millisecond
}

// scripted serves the given statuses in order, repeating the last one, and
// counts requests.
func scripted(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		if n > len(statuses) {
			n = len(statuses)
		}
		w.WriteHeader(statuses[n-1])
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func TestRetrier_Do(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		maxRetries int
		wantStatus int
		wantCalls  int32
	}{
		{"success first try", []int{200}, 5, 200, 1},
		{"throttled then ok", []int{429, 429, 200}, 5, 200, 3},
		{"unavailable then ok", []int{503, 200}, 5, 200, 2},
		{"gateway timeout then ok", []int{504, 200}, 5, 200, 2},
		{"gives up after max retries", []int{429}, 2, 429, 3},
		{"zero max retries means three", []int{503}, 0, 503, 4},
		{"server error is final", []int{500}, 5, 500, 1},
		{"not found is final", []int{404}, 5, 404, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, calls := scripted(t, tt.statuses...)
			r := Retrier{Client: ts.Client(), MaxRetries: tt.maxRetries}

			resp, err := r.Do(context.Background(), "pubmed", get(t, ts.URL))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(calls))
		})
	}
}

func TestRetrier_RetryAfterShortensBackoff(t *testing.T) {
	old := BackoffBase
	BackoffBase = time.Hour
	t.Cleanup(func() { BackoffBase = old })

	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	resp, err := Retrier{Client: ts.Client()}.Do(context.Background(), "openalex", get(t, ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetrier_ReturnsThrottledResponseWhenDeadlineTooClose(t *testing.T) {
	old := BackoffBase
	BackoffBase = time.Second
	t.Cleanup(func() { BackoffBase = old })

	ts, calls := scripted(t, 429)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp, err := Retrier{Client: ts.Client()}.Do(ctx, "semantic_scholar", get(t, ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestRetrier_CancelDuringBackoff(t *testing.T) {
	old := BackoffBase
	BackoffBase = 500 * time.Millisecond
	t.Cleanup(func() { BackoffBase = old })

	ts, _ := scripted(t, 503)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Retrier{Client: ts.Client()}.Do(ctx, "arxiv", get(t, ts.URL))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrier_WaitsOnLimiterEveryAttempt(t *testing.T) {
	ts, calls := scripted(t, 429, 200)
	// One token, refilled far slower than the deadline: the retry must block.
	r := Retrier{Client: ts.Client(), Limiter: NewLimiter(0.001, 1)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer waitCancel()

	_, err := r.Do(waitCtx, "pubmed", get(t, ts.URL))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), retryAfter("", now))
	assert.Equal(t, 2*time.Second, retryAfter("2", now))
	assert.Equal(t, 1500*time.Millisecond, retryAfter("1.5", now))
	assert.Equal(t, time.Duration(0), retryAfter("-1", now))
	assert.Equal(t, 10*time.Second, retryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), retryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), retryAfter("soon", now))
}

func TestBackoffIsCapped(t *testing.T) {
	old := BackoffBase
	BackoffBase = time.Second
	t.Cleanup(func() { BackoffBase = old })

	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, maxBackoff, backoff(10))
	assert.Equal(t, maxBackoff, backoff(80))
}
