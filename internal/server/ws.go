// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"context"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/events"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Client message types.
const (
	msgQuery  = "query"
	msgCancel = "cancel"
)

// wsMessage is a client frame: {"type": "query", "query": ..., "userId": ...}
// or {"type": "cancel"}.
type wsMessage struct {
	Type string `json:"type"`
	types.Request
}

// wsConn serializes writes; the read loop and the journey stream both write.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) sendError(msg string) {
	_ = w.send(map[string]string{"type": string(events.TypeError), "error": msg})
}

// handleWS runs one journey at a time per connection. Closing the
// connection cancels the running journey.
func (s *Server) handleWS(c *websocket.Conn) {
	conn := &wsConn{conn: c}
	s.logger.Info("websocket connected", zap.String("remote", c.RemoteAddr().String()))

	var (
		mu     sync.Mutex
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	stop := func() {
		mu.Lock()
		if cancel != nil {
			cancel()
		}
		mu.Unlock()
	}
	defer func() {
		stop()
		wg.Wait()
		c.Close()
		s.logger.Info("websocket closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case msgCancel:
			stop()
		case msgQuery:
			if strings.TrimSpace(msg.Query) == "" {
				conn.sendError("query is required")
				continue
			}
			mu.Lock()
			if cancel != nil {
				mu.Unlock()
				conn.sendError("a query is already running")
				continue
			}
			ctx, cf := context.WithCancel(context.Background())
			cancel = cf
			mu.Unlock()

			stream := s.runner.Run(ctx, msg.Request)
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.pump(conn, stream, cf)
				mu.Lock()
				cancel = nil
				mu.Unlock()
				cf()
			}()
		default:
			conn.sendError("unknown message type")
		}
	}
}

// pump forwards envelopes to the socket until the stream closes. A failed
// write cancels the journey and drains the rest into the replay history.
func (s *Server) pump(conn *wsConn, stream <-chan events.Envelope, cancel context.CancelFunc) {
	for env := range stream {
		s.history.Record(env)
		if err := conn.send(env); err != nil {
			s.abandon(cancel, stream, s.logger.With(zap.String("request_id", env.RequestID)), err)
			return
		}
	}
}
