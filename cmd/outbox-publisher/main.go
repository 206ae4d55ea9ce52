// Package main implements the outbox publisher service. It polls the
// transactional outbox table and publishes committed ledger events to
// Kafka/Redpanda.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veyra-labs/fieldledger/internal/platform/config"
	"github.com/veyra-labs/fieldledger/internal/platform/storage"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to configuration file")
		pollInterval = flag.Duration("poll-interval", 500*time.Millisecond, "Polling interval for new messages")
		batchSize    = flag.Int("batch-size", 100, "Maximum messages to fetch per poll")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting outbox publisher",
		"brokers", cfg.Kafka.Brokers,
		"poll_interval", *pollInterval,
		"batch_size", *batchSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
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
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	publisher, err := NewPublisher(PublisherConfig{
		Brokers:      cfg.Kafka.Brokers,
		PollInterval: *pollInterval,
		BatchSize:    *batchSize,
	}, db)
	if err != nil {
		slog.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("publisher error", "error", err)
		os.Exit(1)
	}

	slog.Info("outbox publisher stopped")
}
