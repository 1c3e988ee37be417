// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

type countingProvider struct {
	calls int32
	err   error
}

func (c *countingProvider) Name() string           { return "pubmed" }
func (c *countingProvider) Type() types.SourceType { return types.SourceArticle }
func (c *countingProvider) Search(_ context.Context, req Request) (Response, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return Response{}, c.err
	}
	return Response{Found: 1, Results: []types.SourceItem{{Title: req.Query, PMID: "1"}}}, nil
}

func TestCache_HitAfterMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{}
	c := NewCache(inner, rdb, time.Hour, nil)

	req := Request{Query: "creatine", MaxResults: 5}
	first, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
	assert.Equal(t, "pubmed", c.Name())

	// Different budget is a different key.
	_, err = c.Search(context.Background(), Request{Query: "creatine", MaxResults: 6})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestCache_ExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{}
	c := NewCache(inner, rdb, time.Minute, nil)

	_, err := c.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = c.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{err: errors.New("HTTP 500")}
	c := NewCache(inner, rdb, time.Hour, nil)

	_, err := c.Search(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCache_RedisDownBypasses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	inner := &countingProvider{}
	c := NewCache(inner, rdb, time.Hour, nil)
	resp, err := c.Search(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestCacheKey_FilterOrderIndependent(t *testing.T) {
	c := NewCache(&countingProvider{}, nil, 0, nil)
	a := c.key(Request{Query: "Q", Filters: map[string]string{"a": "1", "b": "2"}})
	b := c.key(Request{Query: "q", Filters: map[string]string{"b": "2", "a": "1"}})
	assert.Equal(t, a, b)
}
