// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

// --- Sequencer ---

func TestSequencer_StartsAtOneAndIncrements(t *testing.T) {
	s := NewSequencer("req-1", fixedNow)
	a := s.Wrap(Routing{Query: "q"})
	b := s.Wrap(TierSelected{Tier: types.TierModelOnly})

	assert.Equal(t, uint64(1), a.Sequence)
	assert.Equal(t, uint64(2), b.Sequence)
	assert.Equal(t, TypeRouting, a.Type)
	assert.Equal(t, TypeTierSelected, b.Type)
	assert.Equal(t, "req-1", b.RequestID)
	assert.Equal(t, fixedNow(), a.Timestamp)
}

func TestSequencer_ConcurrentWrapIsUnique(t *testing.T) {
	s := NewSequencer("r", nil)
	const n = 200
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.Wrap(Token{Content: "x"}).Sequence
		}()
	}
	wg.Wait()
	close(seen)

	got := map[uint64]bool{}
	for seq := range seen {
		assert.False(t, got[seq], "duplicate sequence %d", seq)
		got[seq] = true
	}
	assert.Len(t, got, n)
	assert.True(t, got[1])
	assert.True(t, got[n])
}

// --- Envelope JSON ---

func TestEnvelopeMarshal(t *testing.T) {
	s := NewSequencer("req-9", fixedNow)
	env := s.Wrap(APICompleted{Round: 1, Provider: "pubmed", Count: 7, DurationMS: 120, Success: true})

	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Marshal(), &got))
	assert.Equal(t, "api_completed", got["type"])
	assert.Equal(t, float64(1), got["sequence"])
	assert.Equal(t, "req-9", got["requestId"])
	payload := got["payload"].(map[string]any)
	assert.Equal(t, "pubmed", payload["provider"])
	assert.Equal(t, float64(7), payload["count"])
	assert.Equal(t, true, payload["success"])
	assert.NotContains(t, payload, "error")
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		e    Event
		want bool
	}{
		{Complete{}, true},
		{Error{Message: "request cancelled"}, true},
		{Token{Content: "a"}, false},
		{RoundComplete{}, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.e.Type()), func(t *testing.T) {
			assert.Equal(t, tt.want, Terminal(tt.e))
		})
	}
}

// --- Ring ---

func TestRingReplaySince(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 4; i++ {
		r.Push(Envelope{Sequence: uint64(i)})
	}

	evs := r.Since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Sequence)
	assert.Equal(t, uint64(4), evs[2].Sequence)

	evs = r.Since(2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Sequence)
}

func TestRingZeroCapacity(t *testing.T) {
	r := NewRing(0)
	r.Push(Envelope{Sequence: 1})
	assert.Empty(t, r.Since(0))
}

// --- History ---

func TestHistory_ReplayAndEviction(t *testing.T) {
	h := NewHistory(10, 2)
	for i, id := range []string{"a", "a", "b", "c"} {
		h.Record(Envelope{RequestID: id, Sequence: uint64(i + 1)})
	}

	_, ok := h.ReplaySince("a", 0)
	assert.False(t, ok, "oldest request should be evicted")

	evs, ok := h.ReplaySince("c", 0)
	require.True(t, ok)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(4), evs[0].Sequence)
}

func TestHistory_UnknownRequest(t *testing.T) {
	h := NewHistory(4, 0)
	evs, ok := h.ReplaySince(fmt.Sprintf("missing-%d", 1), 0)
	assert.False(t, ok)
	assert.Nil(t, evs)
}
