// Pinsync - PinMap Interaction Sync Engine
// Copyright 2026 PinMap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pinmapapp/pinsync

// Package main is the entry point for the Pinsync daemon.
//
// Pinsync keeps a user's like/bookmark/rating/comment state for PinMap
// posts consistent across optimistic local mutations, authoritative server
// responses, a persistent 24h-expiry cache, and realtime push events.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered sources (env > config.yaml > defaults)
//  2. Logging: zerolog, structured JSON by default
//  3. Cache: BadgerDB interaction store, swept of entries older than 24h
//  4. Backend client: rate-limited REST client, circuit breaker optional
//  5. Realtime: shared websocket channel manager
//  6. Supervisor tree: sweeper (data), realtime keeper (messaging), and
//     binding API (api) under suture with per-layer failure isolation
//
// # Configuration
//
// Every setting can come from the environment with the PINSYNC_ prefix:
//
//	export PINSYNC_BACKEND_URL=https://api.pinmap.example
//	export PINSYNC_REALTIME_URL=wss://api.pinmap.example/ws
//	export PINSYNC_CACHE_PATH=/data/pinsync/cache
//	./syncd
//
// # Signal handling
//
// SIGINT and SIGTERM shut the daemon down gracefully: bound views close,
// the realtime channel disconnects, in-flight requests get the configured
// shutdown timeout, and the cache is flushed and closed.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/pinmapapp/pinsync/internal/api"
	"github.com/pinmapapp/pinsync/internal/binding"
	"github.com/pinmapapp/pinsync/internal/config"
	"github.com/pinmapapp/pinsync/internal/logging"
	"github.com/pinmapapp/pinsync/internal/realtime"
	"github.com/pinmapapp/pinsync/internal/store"
	"github.com/pinmapapp/pinsync/internal/supervisor"
	"github.com/pinmapapp/pinsync/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("backend", cfg.Backend.URL).
		Bool("realtime", cfg.Realtime.Enabled).
		Str("cache_path", cfg.Cache.Path).
		Msg("starting pinsync")

	interactionStore, err := store.Open(cfg.Cache.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open interaction cache")
	}
	defer func() {
		if err := interactionStore.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing interaction cache")
		}
	}()

	var client api.Interactions = api.NewClient(
		cfg.Backend.URL,
		api.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.RateLimitBurst),
	)
	if cfg.Backend.BreakerEnabled {
		client = api.NewBreakerClient(client)
	}

	var manager *realtime.Manager
	if cfg.Realtime.Enabled {
		manager = realtime.NewManager(cfg.Realtime.URL)
	}

	engine := syncer.New(interactionStore, client, manager)
	defer engine.Shutdown()

	tree := supervisor.NewTree(
		slog.New(logging.NewSlogHandler()),
		supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout},
	)
	tree.AddDataService(store.NewSweeper(interactionStore, cfg.Cache.SweepInterval))
	if manager != nil && cfg.Session.Token != "" {
		tree.AddMessagingService(realtime.NewService(manager, api.Credential(cfg.Session.Token)))
	}
	tree.AddAPIService(binding.NewServer(cfg.Server, engine))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor tree failed")
	}

	if manager != nil {
		manager.Disconnect()
	}
	logging.Info().Msg("pinsync stopped")
}
