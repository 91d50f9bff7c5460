package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/your-org/fpv/internal/backend"
	"github.com/your-org/fpv/internal/config"
	"github.com/your-org/fpv/internal/enroll"
	"github.com/your-org/fpv/internal/matcher"
	"github.com/your-org/fpv/internal/models"
	"github.com/your-org/fpv/internal/observability"
	"github.com/your-org/fpv/internal/quality"
	"github.com/your-org/fpv/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	identity := flag.String("identity", "", "identity id")
	nationalID := flag.String("national-id", "", "national id")
	position := flag.Int("position", 0, "finger position code (1-10)")
	imagePath := flag.String("image", "", "path to the fingerprint image")
	missing := flag.String("missing", "", "missing code (XX amputation, UP unable to print) instead of an image")
	backendName := flag.String("backend", "national", "postgres backend whose table receives the samples")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rawDefs, err := os.ReadFile(cfg.Backends.Path)
	if err != nil {
		slog.Error("read backend definitions", "path", cfg.Backends.Path, "error", err)
		os.Exit(1)
	}
	defs, err := backend.ParseDefinitions(rawDefs)
	if err != nil {
		slog.Error("parse backend definitions", "error", err)
		os.Exit(1)
	}
	target, err := enroll.TargetFor(defs, *backendName)
	if err != nil {
		slog.Error("resolve enrollment target", "error", err)
		os.Exit(1)
	}

	sample := enroll.Sample{
		IdentityID:  *identity,
		NationalID:  *nationalID,
		Position:    models.Position(*position),
		MissingCode: *missing,
	}
	if *missing == "" {
		sample.Image, err = os.ReadFile(*imagePath)
		if err != nil {
			slog.Error("read image", "path", *imagePath, "error", err)
			os.Exit(1)
		}
	}

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var objects enroll.ObjectStore
	if target.Objects {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Error("ensure minio bucket", "error", err)
			os.Exit(1)
		}
		objects = minioStore
	}

	enroller := enroll.New(
		db,
		objects,
		matcher.New(matcher.Options{
			Limits: matcher.Limits{
				MaxDimension: cfg.Verification.MaxImageDimension,
				MaxPixels:    cfg.Verification.MaxImagePixels,
			},
		}),
		quality.NewClient(quality.Config{
			Enabled:  cfg.Quality.Enabled,
			URL:      cfg.Quality.URL,
			APIKey:   cfg.Quality.APIKey,
			MinScore: cfg.Quality.MinScore,
			Timeout:  cfg.Quality.Timeout,
		}),
		enroll.Options{
			Table:              target.Table,
			AcceptedImageTypes: cfg.Verification.AcceptedImageTypes,
			Pepper:             cfg.Verification.Pepper,
		},
	)

	if err := enroller.Enroll(ctx, sample); err != nil {
		slog.Error("enroll fingerprint", "identity", *identity, "backend", *backendName, "error", err)
		os.Exit(1)
	}
}
