// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Build constructs the named providers from cfg. When rdb is non-nil every
// provider is wrapped in a response Cache.
func Build(names []string, cfg types.ProvidersConfig, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) ([]Provider, error) {
	h := HTTP{
		Client:    &http.Client{Timeout: cfg.Timeout},
		UserAgent: cfg.UserAgent,
		Limiter:   httputil.NewLimiter(cfg.RatePerSecond, 2),
	}

	out := make([]Provider, 0, len(names))
	for _, name := range names {
		var p Provider
		switch name {
		case "pubmed":
			p = &PubMed{HTTP: h, APIKey: cfg.NCBIAPIKey}
		case "openalex":
			p = &OpenAlex{HTTP: h, Email: cfg.OpenAlexEmail}
		case "semantic_scholar":
			p = &SemanticScholar{HTTP: h, APIKey: cfg.SemanticScholarAPIKey}
		case "arxiv":
			p = &Arxiv{HTTP: h}
		case "clinicaltrials":
			p = &ClinicalTrials{HTTP: h}
		case "web":
			p = &Web{HTTP: h, SerpAPIKey: cfg.SerpAPIKey}
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		if rdb != nil {
			p = NewCache(p, rdb, ttl, logger)
		}
		out = append(out, p)
	}
	return out, nil
}
