// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"bufio"
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/events"
)

// handleAsk starts a journey and streams its envelopes as server-sent
// events. The SSE id is the envelope sequence. A write failure means the
// client went away and cancels the journey.
func (s *Server) handleAsk(c *fiber.Ctx) error {
	req, err := parseRequest(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := s.runner.Run(ctx, req)

	// The first envelope carries the request id, which resume needs.
	first, ok := <-stream
	if !ok {
		cancel()
		return fiber.NewError(fiber.StatusInternalServerError, "journey produced no events")
	}
	c.Set("X-Request-ID", first.RequestID)
	setSSEHeaders(c)

	logger := s.logger.With(zap.String("request_id", first.RequestID))
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		s.history.Record(first)
		if err := writeEvent(w, first); err != nil {
			s.abandon(cancel, stream, logger, err)
			return
		}
		for env := range stream {
			s.history.Record(env)
			if err := writeEvent(w, env); err != nil {
				s.abandon(cancel, stream, logger, err)
				return
			}
		}
	}))
	return nil
}

// handleResume replays the recorded events of a journey after the
// Last-Event-ID header (or ?after=) sequence.
func (s *Server) handleResume(c *fiber.Ctx) error {
	after := c.Get("Last-Event-ID", c.Query("after", "0"))
	seq, err := strconv.ParseUint(after, 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid Last-Event-ID")
	}
	envs, ok := s.history.ReplaySince(c.Params("id"), seq)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown request")
	}
	setSSEHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		for _, env := range envs {
			if writeEvent(w, env) != nil {
				return
			}
		}
	}))
	return nil
}

// abandon cancels the journey after a client disconnect and keeps
// recording its remaining events for resume.
func (s *Server) abandon(cancel context.CancelFunc, stream <-chan events.Envelope, logger *zap.Logger, err error) {
	logger.Info("client disconnected; cancelling journey", zap.Error(err))
	cancel()
	for env := range stream {
		s.history.Record(env)
	}
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

// writeEvent writes one SSE frame and flushes it.
func writeEvent(w *bufio.Writer, env events.Envelope) error {
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", env.Sequence, env.Type, env.Marshal()); err != nil {
		return err
	}
	return w.Flush()
}
