// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/metrics"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const cacheKeyPrefix = "evidence-engine:provider:"

// Cache decorates a Provider with a Redis-backed response cache. Redis
// failures are logged and bypassed; they never fail the search.
type Cache struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache wraps p. A zero ttl means 24h.
func NewCache(p Provider, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{inner: p, client: client, ttl: ttl, logger: logging.OrNop(logger)}
}

func (c *Cache) Name() string           { return c.inner.Name() }
func (c *Cache) Type() types.SourceType { return c.inner.Type() }

// Search returns a cached Response when one exists, otherwise calls the
// wrapped provider and stores a successful result.
func (c *Cache) Search(ctx context.Context, req Request) (Response, error) {
	key := c.key(req)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var resp Response
		if jerr := json.Unmarshal(data, &resp); jerr == nil {
			metrics.ProviderCacheHits.WithLabelValues(c.Name(), "hit").Inc()
			return resp, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("provider", c.Name()))
	case errors.Is(err, redis.Nil):
	default:
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		c.logger.Warn("provider cache read failed", zap.String("provider", c.Name()), zap.Error(err))
	}
	metrics.ProviderCacheHits.WithLabelValues(c.Name(), "miss").Inc()

	resp, err := c.inner.Search(ctx, req)
	if err != nil {
		return resp, err
	}

	if data, err := json.Marshal(resp); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("provider cache write failed", zap.String("provider", c.Name()), zap.Error(err))
		}
	}
	return resp, nil
}

// key hashes provider, query, filters, and result budget.
func (c *Cache) key(req Request) string {
	filterKeys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		filterKeys = append(filterKeys, k)
	}
	sort.Strings(filterKeys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|", c.Name(), strings.ToLower(req.Text()))
	for _, k := range filterKeys {
		fmt.Fprintf(&b, "%s=%s;", k, req.Filters[k])
	}
	fmt.Fprintf(&b, "|%d", req.MaxResults)

	sum := sha256.Sum256([]byte(b.String()))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
