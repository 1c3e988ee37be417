// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the streaming API (SSE, WebSocket, metrics)",
	Long: `Serve starts the HTTP server:

  POST /v1/ask               stream a journey as server-sent events
  GET  /v1/ask/:id/events    replay a journey's events after Last-Event-ID
  GET  /v1/ws                WebSocket stream (query and cancel messages)
  POST /v1/route             routing decision only
  GET  /healthz, /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(buildOptions{dryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.New(a.engine, a.router, a.cfg.Server, a.logger)
		errc := make(chan error, 1)
		go func() { errc <- srv.Listen(addr) }()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errc:
			return err
		case <-quit:
		}

		a.logger.Info("server shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().Bool("dry-run", false, "use the scripted offline model")

	rootCmd.AddCommand(serveCmd)
}
