// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package provider adapts heterogeneous knowledge sources (literature
// databases, a preprint server, a trial registry, web search) to one
// interface consumed by the round executor.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Request is one provider query.
type Request struct {
	// Query is the free-text query variant for this round.
	Query string

	// Keywords are appended to Query (e.g. plan focus areas).
	Keywords []string

	Filters    map[string]string
	MaxResults int
}

// Text returns the query joined with its keywords.
func (r Request) Text() string {
	parts := []string{strings.TrimSpace(r.Query)}
	for _, kw := range r.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			parts = append(parts, kw)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Response is what a provider returned for one Request.
type Response struct {
	// Found is the provider-reported total hit count.
	Found   int
	Results []types.SourceItem
}

// Provider searches a single knowledge source. Each adapter implements this
// interface; the round executor measures latency and isolates failures.
type Provider interface {
	Name() string
	Type() types.SourceType
	Search(ctx context.Context, req Request) (Response, error)
}

// HTTP bundles the transport shared by HTTP-backed adapters.
type HTTP struct {
	Client    *http.Client
	UserAgent string
	Limiter   *httputil.Limiter
}

func (h HTTP) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

// get issues a rate-limited GET that retries throttling responses and
// returns the response only on HTTP 200.
func (h HTTP) get(ctx context.Context, provider, reqURL string, header map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := httputil.Retrier{Client: h.client(), Limiter: h.Limiter}.Do(ctx, provider, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

// positionScore is the relevance for the i-th of total results from a
// provider that returns results sorted by relevance without a score.
func positionScore(i, total int) float64 {
	if total > 1 {
		return 1.0 - float64(i)/float64(total-1)*0.9
	}
	return 1.0
}

func clampMax(n, def, limit int) int {
	if n <= 0 {
		n = def
	}
	if n > limit {
		n = limit
	}
	return n
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndex(s[:max], " ")
	if cut < max/2 {
		cut = max
	}
	return s[:cut] + "..."
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	t, err := time.Parse("2006", date[:4])
	if err != nil {
		return 0
	}
	return t.Year()
}
