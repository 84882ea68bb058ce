// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/CruxDiscovery/pkg/logging"
	"github.com/AleutianAI/CruxDiscovery/services/crux"
	"github.com/AleutianAI/CruxDiscovery/services/crux/integrity"
	"github.com/AleutianAI/CruxDiscovery/services/crux/llm"
	"github.com/AleutianAI/CruxDiscovery/services/crux/observability"
	"github.com/AleutianAI/CruxDiscovery/services/crux/safety"
	"github.com/AleutianAI/CruxDiscovery/services/crux/telemetry"
)

const serviceName = "cruxd"

// shutdownTimeout bounds how long in-flight requests may run after a
// termination signal.
const shutdownTimeout = 10 * time.Second

// Run assembles the full service from cfg and blocks until a termination
// signal arrives or the listener fails. All collaborators are torn down on
// the way out, secure memory last.
func Run(cfg Config) error {
	applog := logging.New(logging.Config{
		Level:      logging.ParseLevel(cfg.LogLevel),
		Service:    serviceName,
		JSON:       true,
		LogDir:     cfg.LogDir,
		RedactKeys: logging.DefaultRedactKeys,
	})
	defer applog.Close()
	slog.SetDefault(applog.Slog())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Error("Telemetry shutdown failed", "error", err)
		}
	}()

	guard, err := safety.NewGuardrail()
	if err != nil {
		return fmt.Errorf("compile guardrail patterns: %w", err)
	}
	if cfg.PatternOverridePath != "" {
		if err := guard.ReloadFromFile(cfg.PatternOverridePath); err != nil {
			slog.Warn("Pattern override load failed, keeping embedded catalog",
				"path", cfg.PatternOverridePath, "error", err)
		}
		watcher, err := safety.NewOverrideWatcher(cfg.PatternOverridePath, guard)
		if err != nil {
			slog.Warn("Pattern watcher unavailable, edits require a restart",
				"path", cfg.PatternOverridePath, "error", err)
		} else {
			go watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	// The default registry so the telemetry /metrics handler serves these
	// alongside the runtime collectors.
	tracker, err := observability.NewTracker(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sink := observability.NewSessionSink(cfg.InfluxURL, cfg.InfluxToken,
		cfg.InfluxOrg, cfg.InfluxBucket)
	defer sink.Close()

	var genClient llm.Client
	switch cfg.LLMBackend {
	case "openai":
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{})
		if err != nil {
			return fmt.Errorf("init OpenAI client: %w", err)
		}
		genClient = c
		slog.Info("Using OpenAI generation backend")
	default:
		slog.Info("No generation backend configured, running deterministic heuristics")
	}

	signer := integrity.NewSignerFromEnv()
	defer integrity.PurgeSecrets()

	eng, err := crux.NewEngine(
		crux.WithLLM(genClient),
		crux.WithGuardrail(guard),
		crux.WithSigner(signer),
		crux.WithTracker(tracker),
		crux.WithLogger(applog.Slog()),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	SetupRoutes(router, eng, tracker, sink)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting cruxd server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down cruxd server")
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})
	return g.Wait()
}
