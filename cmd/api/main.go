package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/fpv/internal/api"
	"github.com/your-org/fpv/internal/api/handlers"
	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/backend/pgdriver"
	"github.com/your-org/fpv/internal/config"
	"github.com/your-org/fpv/internal/matcher"
	"github.com/your-org/fpv/internal/observability"
	"github.com/your-org/fpv/internal/quality"
	"github.com/your-org/fpv/internal/queue"
	"github.com/your-org/fpv/internal/replay"
	"github.com/your-org/fpv/internal/storage"
	"github.com/your-org/fpv/internal/verify"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting fpv API service", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	checks := []handlers.Check{{Name: "postgres", Ping: db.Ping}}

	// Connect to MinIO, only needed by backends holding samples as objects
	var objects pgdriver.ObjectFetcher
	if cfg.MinIO.Enabled {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		objects = minioStore
		checks = append(checks, handlers.Check{Name: "minio", Ping: minioStore.Ping})
	}

	// Connect to NATS
	var events verify.EventPublisher
	if cfg.NATS.Enabled {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		events = producer
		checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }})
	}

	// Backend definitions
	registry := backend.NewRegistry(map[string]backend.DriverFactory{
		pgdriver.Name: pgdriver.Factory(db, objects, pgdriver.Options{
			Pepper:         cfg.Verification.Pepper,
			FetchLimit:     cfg.Verification.FetchLimit,
			FuzzyThreshold: cfg.Verification.FuzzyThreshold,
		}),
	}, backend.Options{
		CandidateListFilter: cfg.Verification.CandidateListFilter,
		MaxCandidateIDs:     cfg.Verification.MaxDIDs,
	})
	if err := registry.LoadFile(ctx, cfg.Backends.Path); err != nil {
		slog.Error("load backend definitions", "path", cfg.Backends.Path, "error", err)
		os.Exit(1)
	}
	slog.Info("backends loaded", "backends", registry.Names())

	// Replay ledger
	var ledger replay.Ledger
	if cfg.Replay.Enabled {
		switch cfg.Replay.Driver {
		case "badger":
			bl, err := storage.OpenBadgerLedger(cfg.Replay.BadgerPath)
			if err != nil {
				slog.Error("open badger replay ledger", "error", err)
				os.Exit(1)
			}
			defer bl.Close()
			ledger = bl
		default:
			ledger = db
		}
	}

	engine := verify.NewEngine(
		registry,
		matcher.New(matcher.Options{
			Threshold: cfg.Verification.MatchThreshold,
			Workers:   cfg.Verification.MatchWorkers,
			Limits: matcher.Limits{
				MaxDimension: cfg.Verification.MaxImageDimension,
				MaxPixels:    cfg.Verification.MaxImagePixels,
			},
		}),
		quality.NewClient(quality.Config{
			Enabled:          cfg.Quality.Enabled,
			URL:              cfg.Quality.URL,
			APIKey:           cfg.Quality.APIKey,
			MinScore:         cfg.Quality.MinScore,
			Timeout:          cfg.Quality.Timeout,
			FailureThreshold: cfg.Quality.FailureThreshold,
			SuccessThreshold: cfg.Quality.SuccessThreshold,
		}),
		replay.NewRecorder(cfg.Replay.Enabled, ledger),
		events,
		verify.Options{
			AcceptedImageTypes: cfg.Verification.AcceptedImageTypes,
			QualityTimeout:     cfg.Verification.QualityTimeout,
			ReplayTimeout:      cfg.Replay.RecordTimeout,
		},
	)

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Engine:       engine,
		Backends:     registry,
		Events:       db,
		Checks:       checks,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	engine.Close()

	slog.Info("API server stopped")
}
