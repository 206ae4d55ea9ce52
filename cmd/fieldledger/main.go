package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veyra-labs/fieldledger/internal/chain"
	"github.com/veyra-labs/fieldledger/internal/chain/bitcoin"
	"github.com/veyra-labs/fieldledger/internal/chain/evm"
	"github.com/veyra-labs/fieldledger/internal/chain/solana"
	"github.com/veyra-labs/fieldledger/internal/engine"
	"github.com/veyra-labs/fieldledger/internal/field"
	"github.com/veyra-labs/fieldledger/internal/ledger"
	"github.com/veyra-labs/fieldledger/internal/platform/config"
	"github.com/veyra-labs/fieldledger/internal/platform/metrics"
	"github.com/veyra-labs/fieldledger/internal/platform/natsfeed"
	"github.com/veyra-labs/fieldledger/internal/platform/storage"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	wsOrigins := flag.String("ws-allowed-origins", envOrDefault("WS_ALLOWED_ORIGINS", "*"), "Comma-separated list of allowed WebSocket origins, or '*' for all")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, parseOrigins(*wsOrigins), logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, wsOrigins []string, logger *slog.Logger) error {
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
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	recorder := storage.NewLedgerRepository(db, cfg.Kafka.Topic)

	fields, closeFields, err := buildFieldStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("field store: %w", err)
	}
	defer closeFields()

	registry := chain.NewRegistry(adapterConstructors(cfg, logger), logger)
	logger.Info("adapter registry built", "currencies", registry.Currencies())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	set := metrics.New(reg)

	hub := NewHub(wsOrigins, logger)

	local := &hubSink{hub: hub}
	var sink engine.EventSink = local
	var feed resonanceFeed = local
	var natsClient *natsfeed.Client
	if cfg.NATS.URL != "" {
		natsCfg := natsfeed.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = "fieldledger-api"

		client, err := natsfeed.Connect(natsCfg)
		if err != nil {
			logger.Warn("NATS connection failed, falling back to local fanout", "error", err)
		} else {
			natsClient = client
			defer natsClient.Close()

			publisher := natsfeed.NewPublisher(natsClient, logger)
			sink = publisher
			feed = publisher
			if _, err := natsClient.Subscribe(func(subject string, data []byte) {
				hub.Broadcast(data)
			}); err != nil {
				logger.Error("feed subscription failed", "error", err)
			}
			logger.Info("live feed connected", "url", cfg.NATS.URL)
		}
	}

	eng := engine.New(
		registry,
		fields,
		engine.NewStaticResolver(cfg.Recipients),
		recorder,
		ledger.RedistributionConfig{
			Threshold:   cfg.Redistribution.Threshold,
			Percentage:  cfg.Redistribution.ParsedPercentage(),
			Caps:        cfg.Redistribution.ParsedCaps(),
			DisableGate: cfg.Redistribution.DisableGate,
		},
		logger,
		engine.Options{Metrics: set, Sink: sink},
	)

	server := NewServer(logger, eng, registry, fields, recorder, set)
	server.SetWebSocketHub(hub)
	server.SetResonanceFeed(feed)
	server.SetHealthCheck(func() error {
		hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hcancel()
		return db.Health(hctx)
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	metricsServer := &http.Server{
		Addr: cfg.Server.MetricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry: reg,
		}),
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("starting fieldledger", "addr", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	logger.Info("fieldledger shutdown complete")
	return nil
}

// buildFieldStore selects Redis when configured, the in-memory store
// otherwise. The in-memory store is for single-instance deployments only.
func buildFieldStore(cfg config.Config, logger *slog.Logger) (field.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("field store: in-memory")
		return field.NewMemoryStore(), func() {}, nil
	}

	store, err := field.NewRedisStore(field.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: "fieldledger:",
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("field store: redis", "addr", cfg.Redis.Addr)
	return store, func() { store.Close() }, nil
}

// adapterConstructors builds one constructor per configured chain. Chains
// with no endpoint stay unregistered.
func adapterConstructors(cfg config.Config, logger *slog.Logger) map[string]chain.Constructor {
	constructors := make(map[string]chain.Constructor)

	if c := cfg.Chains.EVM; c.Endpoint != "" {
		constructors["ETH"] = func() (chain.Adapter, error) {
			return evm.New(evm.Config{
				Currency:      "ETH",
				Endpoint:      c.Endpoint,
				ChainID:       uint64(c.ChainID),
				PrivateKeyHex: c.PrivateKeyHex,
				PublicAddress: c.PublicAddress,
			}, logger)
		}
	}

	if c := cfg.Chains.Solana; c.Endpoint != "" {
		constructors["SOL"] = func() (chain.Adapter, error) {
			return solana.New(solana.Config{
				Currency:         "SOL",
				Endpoint:         c.Endpoint,
				PrivateKeyBase58: c.PrivateKeyBase58,
				PublicKeyBase58:  c.PublicKeyBase58,
			}, logger)
		}
	}

	if c := cfg.Chains.Bitcoin; c.Endpoint != "" {
		constructors["BTC"] = func() (chain.Adapter, error) {
			return bitcoin.New(bitcoin.Config{
				Currency:      "BTC",
				Endpoint:      c.Endpoint,
				PrivateKeyHex: c.PrivateKeyHex,
				PublicAddress: c.PublicAddress,
			}, logger)
		}
	}

	return constructors
}

// hubSink broadcasts ledger activity straight to local websocket clients
// when no NATS feed is available.
type hubSink struct {
	hub *Hub
}

func (s *hubSink) RedistributionExecuted(_ context.Context, rec ledger.RedistributionRecord) {
	s.hub.BroadcastJSON("redistribution", rec)
}

func (s *hubSink) ResonanceCreated(event ledger.FieldResonanceEvent) {
	s.hub.BroadcastJSON("resonance_created", event)
}

func (s *hubSink) ResonanceResolved(event ledger.FieldResonanceEvent) {
	s.hub.BroadcastJSON("resonance_resolved", event)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseOrigins(origins string) []string {
	origins = strings.TrimSpace(origins)
	if origins == "" || origins == "*" {
		return nil
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
