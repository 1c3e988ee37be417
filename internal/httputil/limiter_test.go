// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background(), "pubmed"))
}

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	l := NewLimiter(0, 1)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background(), "pubmed"))
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(0.001, 1)

	// First token for each key is available immediately from the burst.
	require.NoError(t, l.Wait(context.Background(), "pubmed"))
	require.NoError(t, l.Wait(context.Background(), "openalex"))

	// A second pubmed request must wait far longer than the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "pubmed"))
}
