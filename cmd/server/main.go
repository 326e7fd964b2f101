package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/auth"
	"github.com/erauner12/wa-gateway/internal/config"
	"github.com/erauner12/wa-gateway/internal/db"
	"github.com/erauner12/wa-gateway/internal/httpapi"
	"github.com/erauner12/wa-gateway/internal/ingest"
	"github.com/erauner12/wa-gateway/internal/session"
	"github.com/erauner12/wa-gateway/internal/store"
	"github.com/erauner12/wa-gateway/internal/upstream"
	"github.com/erauner12/wa-gateway/internal/webhook"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "wa-gateway").Logger()

	// Local overrides from .env, if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to create data dir")
	}

	ctx := context.Background()

	// Database connection
	pool, err := db.Open(ctx, cfg.DatabaseURL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	if err := store.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply store schema")
	}
	st := store.NewPostgres(pool)

	// Ingestion pipeline: durable log, bounded queue, workers, replay
	ing, err := ingest.New(ingest.Options{
		LogPath:        cfg.LogPath,
		CheckpointPath: cfg.CheckpointPath,
		DLQPath:        cfg.DLQPath,
		QueueCapacity:  cfg.QueueCapacity,
		BatchSize:      cfg.BatchSize,
		BatchMaxWait:   cfg.BatchMaxWait,
		Workers:        cfg.Workers,
		Retry: ingest.RetryPolicy{
			Base:        cfg.RetryBase,
			Max:         cfg.RetryMax,
			MaxAttempts: cfg.RetryMaxAttempts,
			MaxHorizon:  cfg.RetryMaxHorizon,
		},
		ReadyMaxQueueDepth: cfg.ReadyMaxQueueDepth,
	}, st, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ingestion pipeline")
	}
	ing.Start(ctx)

	// Tenant sessions and webhook fan-out
	dispatcher := webhook.NewDispatcher(st, log.Logger)
	dialer := upstream.NewWhatsmeowDialer(log.Logger)
	manager := session.NewManager(dialer, st, ing, dispatcher, cfg.SessionsDir, session.Options{
		QRWaitTimeout:        cfg.QRWaitTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, log.Logger)
	manager.AutoConnectAll(ctx)

	// HTTP server setup
	srv := &httpapi.Server{Store: st, Ingest: ing, Sessions: manager}
	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.JWTSecret,
		DevMode:     cfg.Env == "dev",
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop feeding the pipeline before draining it
	manager.CloseAll()
	ing.Close()

	log.Info().Msg("server stopped")
}
