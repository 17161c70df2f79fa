// Package main is the entrypoint for the clinidoc API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/clinidoc/internal/analyzer/clinical"
	"github.com/kiranshivaraju/clinidoc/internal/api"
	"github.com/kiranshivaraju/clinidoc/internal/api/handler"
	mw "github.com/kiranshivaraju/clinidoc/internal/api/middleware"
	"github.com/kiranshivaraju/clinidoc/internal/audit"
	"github.com/kiranshivaraju/clinidoc/internal/cache"
	"github.com/kiranshivaraju/clinidoc/internal/config"
	"github.com/kiranshivaraju/clinidoc/internal/lifecycle"
	"github.com/kiranshivaraju/clinidoc/internal/metrics"
	"github.com/kiranshivaraju/clinidoc/internal/orchestrator"
	"github.com/kiranshivaraju/clinidoc/internal/processing"
	"github.com/kiranshivaraju/clinidoc/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "llm_provider", cfg.AI.LLM.Provider, "llm_model", cfg.AI.LLM.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database and apply migrations
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 3. Redis backs the shared result cache and rate limit counters
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Object storage for document bytes
	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	slog.Info("object store ready", "bucket", cfg.Storage.Bucket, "sse", cfg.Storage.Encrypt)

	// 5. Metrics and audit
	registry, err := metrics.NewRegistry()
	if err != nil {
		return fmt.Errorf("create metrics registry: %w", err)
	}
	auditor := audit.NewDispatcher(newAuditSink(logger, store.NewAuditLog(pool)), cfg.Analysis.AuditTimeout)

	// 6. Analyzers and the orchestrator
	llmAnalyzer, clinicalAnalyzer, err := newAnalyzers(cfg.AI, registry.Recorder)
	if err != nil {
		return fmt.Errorf("create analyzers: %w", err)
	}
	probe := clinical.NewHTTPClient(cfg.AI.Clinical.BaseURL, cfg.AI.Clinical.APIKey, 5*time.Second)
	if err := probe.Ready(ctx); err != nil {
		slog.Warn("clinical model not ready at startup", "error", err)
	}

	orch := orchestrator.New(llmAnalyzer, clinicalAnalyzer,
		cache.NewTiered(cfg.Analysis.CacheSize, cfg.Analysis.CacheTTL, redisCache),
		orchestrator.Options{
			Timeout:       cfg.Analysis.Timeout,
			MaxConcurrent: int64(cfg.Analysis.MaxConcurrent),
			SegmentLength: cfg.Analysis.SegmentLength,
			Metrics:       registry.Recorder,
			Audit:         auditor,
		})

	// 7. Document lifecycle and processing
	pgStore := store.NewPostgresStore(pool)
	docs := lifecycle.NewManager(pgStore, blobs, lifecycle.Options{
		MaxFileSize: cfg.Server.MaxFileSize,
		Audit:       auditor,
	})
	proc := processing.New(docs, orch, cfg.Analysis.Timeout)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:           mw.NewAuth(pgStore),
		RateLimit:      mw.NewRateLimit(redisCache, cfg.Security.RateLimit, cfg.Security.RateWindow),
		AllowedOrigins: cfg.Security.AllowedOrigins,

		HealthHandler: handler.NewHealthHandler(
			handler.HealthCheck{Name: "database", Pinger: pgStore},
			handler.HealthCheck{Name: "cache", Pinger: redisCache},
			handler.HealthCheck{Name: "object_store", Pinger: blobs},
		),
		MetricsHandler: registry.Handler(),
		AnalyzeHandler: handler.NewAnalyzeHandler(orch),
		MatchHandler:   handler.NewMatchHandler(orch),
		StreamHandler: handler.NewStreamHandler(orch, handler.StreamOptions{
			DefaultChunkSize: cfg.Analysis.StreamChunk,
			EventTimeout:     cfg.Analysis.Timeout + 30*time.Second,
			Metrics:          registry.Recorder,
			Audit:            auditor,
		}),
		Documents: handler.NewDocuments(docs, proc, cfg.Server.MaxFileSize),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server. WriteTimeout bounds one JSON analysis; streams
	// move their own deadline forward after every event.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.Analysis.Timeout + time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := proc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("background processing still running at shutdown", "error", err)
	}
	if err := auditor.Wait(shutdownCtx); err != nil {
		slog.Warn("audit events still pending at shutdown", "error", err)
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown failed", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
