// Package main implements the ledger archiver. It exports the recent
// redistribution history as a dated JSON snapshot to S3-compatible object
// storage. Run it from cron or on demand.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/veyra-labs/fieldledger/internal/platform/archive"
	"github.com/veyra-labs/fieldledger/internal/platform/config"
	"github.com/veyra-labs/fieldledger/internal/platform/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		limit      = flag.Int("limit", 1000, "Maximum records per snapshot")
		timeout    = flag.Duration("timeout", 2*time.Minute, "Overall run timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := storage.New(ctx, storage.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := storage.NewLedgerRepository(db, cfg.Kafka.Topic)

	records, err := repo.History(ctx, *limit)
	if err != nil {
		logger.Error("failed to load history", "error", err)
		os.Exit(1)
	}

	if len(records) == 0 {
		logger.Info("nothing to archive")
		return
	}

	archiver, err := archive.New(archive.Config{
		Endpoint:  cfg.Archive.Endpoint,
		Bucket:    cfg.Archive.Bucket,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		UseSSL:    cfg.Archive.UseSSL,
	}, logger)
	if err != nil {
		logger.Error("failed to create archiver", "error", err)
		os.Exit(1)
	}

	if err := archiver.EnsureBucket(ctx); err != nil {
		logger.Error("failed to ensure bucket", "error", err)
		os.Exit(1)
	}

	key, err := archiver.Export(ctx, records)
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}

	logger.Info("archive complete", "key", key, "records", len(records))
}
