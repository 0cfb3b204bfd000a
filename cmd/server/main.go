// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package main is the entry point for the Askrelay server.
//
// Askrelay accepts questions over a REST API, deduplicates and persists
// them in an embedded BadgerDB store, and posts them one at a time to a
// configured external endpoint on a timer. Transient posting failures
// are retried with backoff; permanent failures skip the question and
// raise an operator notification.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config.yaml, and
//     ASKRELAY_* environment variables (Koanf v2)
//  2. Store: BadgerDB-backed cache store with write-behind flushing
//  3. Queue manager: deduplicated, bounded question queue
//  4. Posting client: HTTP client with circuit breaker and rate limiting
//  5. Scheduler: timer-driven posting loop with retry/skip decisions
//  6. HTTP server: REST control plane under /api/v1
//
// All long-lived components run under a suture supervisor tree so a
// crashing posting loop does not take down the HTTP control plane.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (ASKRELAY_SECTION_KEY form)
//   - Config file (config.yaml, or path from ASKRELAY_CONFIG)
//   - Built-in defaults
//
// Minimal production setup:
//
//	export ASKRELAY_STORE_PATH=/data/askrelay
//	export ASKRELAY_POSTER_ENDPOINT=https://example.com/api/questions
//	export ASKRELAY_POSTER_TOKEN=your-api-token
//	./askrelay
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Halts the posting loop without clearing the persisted schedule,
//     so a restart resumes auto-posting where it left off
//   - Flushes and closes the store
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/askrelay/internal/api"
	"github.com/tomtom215/askrelay/internal/config"
	"github.com/tomtom215/askrelay/internal/locking"
	"github.com/tomtom215/askrelay/internal/logging"
	"github.com/tomtom215/askrelay/internal/notify"
	"github.com/tomtom215/askrelay/internal/poster"
	"github.com/tomtom215/askrelay/internal/queue"
	"github.com/tomtom215/askrelay/internal/scheduler"
	"github.com/tomtom215/askrelay/internal/store"
	"github.com/tomtom215/askrelay/internal/supervisor"
	"github.com/tomtom215/askrelay/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Askrelay with supervisor tree")
	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("in_memory", cfg.Store.InMemory).
		Str("endpoint", cfg.Poster.Endpoint).
		Bool("auto_start", cfg.Scheduler.AutoStart).
		Msg("Configuration loaded")

	st, err := store.Open(store.Config{
		Path:            cfg.Store.Path,
		InMemory:        cfg.Store.InMemory,
		SyncWrites:      cfg.Store.SyncWrites,
		CacheTTL:        cfg.Store.CacheTTL,
		CacheMaxEntries: cfg.Store.CacheMaxEntries,
		FlushInterval:   cfg.Store.FlushInterval,
		CloseTimeout:    cfg.Store.CloseTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	logging.Info().Msg("Store opened")

	queueManager := queue.NewManager(st, locking.New(), queue.Config{
		MaxSize:         cfg.Queue.MaxSize,
		MaxTextLength:   cfg.Queue.MaxTextLength,
		DedupWindow:     cfg.Queue.DedupWindow,
		RetentionWindow: cfg.Queue.RetentionWindow,
	})

	notifier := notify.NewNotifier(st, notify.Config{
		MaxEntries: cfg.Notify.MaxEntries,
		TTL:        cfg.Notify.TTL,
	})

	postClient := poster.New(poster.Config{
		Endpoint:          cfg.Poster.Endpoint,
		Timeout:           cfg.Poster.Timeout,
		MinPostSpacing:    cfg.Poster.MinPostSpacing,
		MaxNetworkRetries: cfg.Poster.MaxNetworkRetries,
	}, poster.NewStaticTokenProvider(cfg.Poster.Token))

	sched := scheduler.New(st, queueManager, postClient, notifier, scheduler.Config{
		Interval:            time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		MaxRetryAttempts:    cfg.Scheduler.MaxRetryAttempts,
		Prefix:              cfg.Scheduler.Prefix,
		NGKeywords:          cfg.Scheduler.NGKeywords,
		HealthCheckInterval: cfg.Scheduler.HealthCheckInterval,
		CleanupInterval:     cfg.Scheduler.CleanupInterval,
		MinPostSpacing:      cfg.Poster.MinPostSpacing,
	})

	handler := api.NewHandler(queueManager, sched, notifier, st)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// AutoStart begins a schedule on first boot; a persisted schedule
	// from a previous run takes precedence and is resumed by the
	// scheduler service.
	if cfg.Scheduler.AutoStart {
		if _, err := st.Get(ctx, scheduler.KeyIsRunning); errors.Is(err, store.ErrKeyNotFound) {
			interval := time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
			if err := st.SetJSON(ctx, scheduler.KeyIsRunning, true); err != nil {
				logging.Warn().Err(err).Msg("Failed to persist auto-start flag")
			} else if err := st.SetJSON(ctx, scheduler.KeyPostInterval, int(interval.Seconds())); err != nil {
				logging.Warn().Err(err).Msg("Failed to persist auto-start interval")
			} else {
				logging.Info().Dur("interval", interval).Msg("Auto-start schedule persisted")
			}
		}
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(services.NewStoreFlusherService(st, time.Minute))
	tree.AddPostingService(services.NewSchedulerService(sched))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}
