// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Envelope carries one Event with its position in the journey's stream.
type Envelope struct {
	Type      Type      `json:"type"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
	Payload   Event     `json:"payload"`
}

// Marshal returns the JSON form used by SSE and WebSocket transports.
func (e Envelope) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sequencer stamps events for one request with strictly increasing sequence
// numbers starting at 1. Safe for concurrent use.
type Sequencer struct {
	mu        sync.Mutex
	requestID string
	next      uint64
	now       func() time.Time
}

// NewSequencer returns a Sequencer for requestID. A nil now uses time.Now.
func NewSequencer(requestID string, now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{requestID: requestID, next: 1, now: now}
}

// Wrap assigns the next sequence number to e.
func (s *Sequencer) Wrap(e Event) Envelope {
	s.mu.Lock()
	seq := s.next
	s.next++
	s.mu.Unlock()
	return Envelope{
		Type:      e.Type(),
		Sequence:  seq,
		Timestamp: s.now().UTC(),
		RequestID: s.requestID,
		Payload:   e,
	}
}

// Ring is a fixed-capacity buffer of envelopes kept for replay.
type Ring struct {
	buf   []Envelope
	start int
	count int
}

// NewRing returns a Ring holding at most capacity envelopes.
func NewRing(capacity int) *Ring {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring{buf: make([]Envelope, capacity)}
}

// Push appends e, overwriting the oldest entry when full.
func (r *Ring) Push(e Envelope) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// Since returns the buffered envelopes with Sequence > seq, oldest first.
func (r *Ring) Since(seq uint64) []Envelope {
	if r.count == 0 {
		return nil
	}
	out := make([]Envelope, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Sequence > seq {
			out = append(out, ev)
		}
	}
	return out
}

// History keeps a Ring per request so a reconnecting client can resume
// with Last-Event-ID. The oldest request is evicted past maxRequests.
type History struct {
	mu          sync.RWMutex
	rings       map[string]*Ring
	order       []string
	capacity    int
	maxRequests int
}

// NewHistory returns a History with per-request ring capacity.
func NewHistory(capacity, maxRequests int) *History {
	if maxRequests <= 0 {
		maxRequests = 64
	}
	return &History{rings: make(map[string]*Ring), capacity: capacity, maxRequests: maxRequests}
}

// Record stores e under its request.
func (h *History) Record(e Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rg := h.rings[e.RequestID]
	if rg == nil {
		rg = NewRing(h.capacity)
		h.rings[e.RequestID] = rg
		h.order = append(h.order, e.RequestID)
		for len(h.order) > h.maxRequests {
			delete(h.rings, h.order[0])
			h.order = h.order[1:]
		}
	}
	rg.Push(e)
}

// ReplaySince returns the recorded envelopes of requestID after seq. The
// second result is false when the request is unknown.
func (h *History) ReplaySince(requestID string, seq uint64) ([]Envelope, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rg, ok := h.rings[requestID]
	if !ok {
		return nil, false
	}
	return rg.Since(seq), true
}
