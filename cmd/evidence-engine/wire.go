// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/engine"
	"github.com/pdiddy/evidence-engine/internal/journey"
	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/planner"
	"github.com/pdiddy/evidence-engine/internal/provider"
	"github.com/pdiddy/evidence-engine/internal/reflect"
	"github.com/pdiddy/evidence-engine/internal/research"
	"github.com/pdiddy/evidence-engine/internal/router"
	"github.com/pdiddy/evidence-engine/internal/synth"
	"github.com/pdiddy/evidence-engine/internal/verify"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    types.EngineConfig
	logger *zap.Logger
	router *router.Router
	engine *engine.Engine
	store  *journey.Store

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// buildOptions adjust wiring for a single invocation.
type buildOptions struct {
	// dryRun swaps the model backend for the scripted fake.
	dryRun bool

	// noStore skips opening the journey store.
	noStore bool
}

func newApp(opts buildOptions) (*app, error) {
	cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return nil, err
	}
	if opts.dryRun {
		cfg.Models.Backend = "fake"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	model, err := llm.New(cfg.Models, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	rdb := connectRedis(cfg.Redis, logger)
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	names := providerNames(cfg.Research)
	providers, err := provider.Build(names, cfg.Providers, rdb, cfg.Redis.TTL, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var rec journey.Recorder
	if !opts.noStore && cfg.Store.Path != "" {
		store, err := journey.NewStore(cfg.Store)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, func() {
			// Journeys are recorded after their stream closes.
			if a.engine != nil {
				ctx, cancel := context.WithTimeout(context.Background(), recordWait)
				defer cancel()
				if err := a.engine.Wait(ctx); err != nil {
					a.logger.Warn("pending journey writes abandoned", zap.Error(err))
				}
			}
			_ = store.Close()
		})
		rec = store
	}

	a.router = router.New(model, cfg.Models, cfg.Router, logger)
	a.engine, err = engine.New(engine.Deps{
		Router:   a.router,
		Planner:  planner.New(model, cfg.Models, cfg.Planner, logger),
		Executor: research.NewExecutor(providers, cfg.Research, logger),
		Analyzer: reflect.New(model, cfg.Models, cfg.Reflection, logger),
		Streamer: synth.New(model, cfg.Models, cfg.Synthesis, logger),
		Verifier: verify.New(cfg.Verification, logger),
		Recorder: rec,
		Logger:   logger,
	}, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// recordWait bounds how long shutdown waits for pending journey writes.
const recordWait = 10 * time.Second

// providerNames is the deep allow-list plus the hybrid provider.
func providerNames(cfg types.ResearchConfig) []string {
	names := append([]string(nil), cfg.Providers...)
	if cfg.HybridProvider == "" {
		return names
	}
	for _, n := range names {
		if n == cfg.HybridProvider {
			return names
		}
	}
	return append(names, cfg.HybridProvider)
}

// connectRedis returns a client when a cache address is configured and
// reachable. An unreachable cache is logged and disabled.
func connectRedis(cfg types.RedisConfig, logger *zap.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("provider cache unavailable; continuing without it", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// openStore opens the journey store alone, for commands that only read it.
func openStore() (*journey.Store, error) {
	cfg, err := loadConfig(viper.GetViper(), loadedSecrets)
	if err != nil {
		return nil, err
	}
	return journey.NewStore(cfg.Store)
}
