// Package config loads service configuration from a YAML file with
// environment overrides. Private key material is never read from the file;
// keys come from the environment only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	NATS           NATSConfig           `yaml:"nats"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Chains         ChainsConfig         `yaml:"chains"`
	Redistribution RedistributionConfig `yaml:"redistribution"`
	Recipients     map[string]string    `yaml:"recipients"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds Postgres settings. Password may be overridden by
// FIELDLEDGER_DB_PASSWORD.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisConfig holds the field resonance store settings. An empty Addr selects
// the in-memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig holds live feed settings. An empty URL disables the feed.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// KafkaConfig holds outbox publisher settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ArchiveConfig holds object storage settings for ledger exports.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ChainsConfig holds per-chain adapter settings. A chain with an empty
// endpoint is not registered.
type ChainsConfig struct {
	EVM     EVMChainConfig     `yaml:"evm"`
	Solana  SolanaChainConfig  `yaml:"solana"`
	Bitcoin BitcoinChainConfig `yaml:"bitcoin"`
}

// EVMChainConfig configures the EVM adapter. PrivateKeyHex is populated from
// FIELDLEDGER_EVM_PRIVATE_KEY.
type EVMChainConfig struct {
	Endpoint      string `yaml:"endpoint"`
	ChainID       int64  `yaml:"chain_id"`
	PublicAddress string `yaml:"public_address"`
	PrivateKeyHex string `yaml:"-"`
}

// SolanaChainConfig configures the Solana adapter. PrivateKeyBase58 is
// populated from FIELDLEDGER_SOLANA_PRIVATE_KEY.
type SolanaChainConfig struct {
	Endpoint         string `yaml:"endpoint"`
	PublicKeyBase58  string `yaml:"public_key"`
	PrivateKeyBase58 string `yaml:"-"`
}

// BitcoinChainConfig configures the Bitcoin adapter. PrivateKeyHex is
// populated from FIELDLEDGER_BITCOIN_PRIVATE_KEY.
type BitcoinChainConfig struct {
	Endpoint      string `yaml:"endpoint"`
	PublicAddress string `yaml:"public_address"`
	PrivateKeyHex string `yaml:"-"`
}

// RedistributionConfig holds the admission and calculation knobs. Caps map
// currency to the maximum single redistribution amount.
type RedistributionConfig struct {
	Threshold   float64           `yaml:"threshold"`
	Percentage  string            `yaml:"percentage"`
	Caps        map[string]string `yaml:"caps"`
	DisableGate bool              `yaml:"disable_gate"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "fieldledger",
			Password: "fieldledger_dev",
			Database: "fieldledger",
			SSLMode:  "disable",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "ledger-events",
		},
		Archive: ArchiveConfig{
			Endpoint: "localhost:9000",
			Bucket:   "fieldledger-archive",
		},
		Redistribution: RedistributionConfig{
			Threshold:  7.2,
			Percentage: "33",
		},
		Recipients: map[string]string{},
	}
}

// Load reads the YAML file at path (when non-empty), then applies environment
// overrides. Key material always comes from the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = envOrDefault("FIELDLEDGER_ADDR", cfg.Server.Addr)
	cfg.Server.MetricsAddr = envOrDefault("FIELDLEDGER_METRICS_ADDR", cfg.Server.MetricsAddr)

	cfg.Database.Host = envOrDefault("FIELDLEDGER_DB_HOST", cfg.Database.Host)
	cfg.Database.Port = envIntOrDefault("FIELDLEDGER_DB_PORT", cfg.Database.Port)
	cfg.Database.User = envOrDefault("FIELDLEDGER_DB_USER", cfg.Database.User)
	cfg.Database.Password = envOrDefault("FIELDLEDGER_DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = envOrDefault("FIELDLEDGER_DB_NAME", cfg.Database.Database)

	cfg.Redis.Addr = envOrDefault("FIELDLEDGER_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envOrDefault("FIELDLEDGER_REDIS_PASSWORD", cfg.Redis.Password)

	cfg.NATS.URL = envOrDefault("FIELDLEDGER_NATS_URL", cfg.NATS.URL)

	cfg.Archive.AccessKey = envOrDefault("FIELDLEDGER_ARCHIVE_ACCESS_KEY", cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = envOrDefault("FIELDLEDGER_ARCHIVE_SECRET_KEY", cfg.Archive.SecretKey)

	cfg.Chains.EVM.Endpoint = envOrDefault("FIELDLEDGER_EVM_ENDPOINT", cfg.Chains.EVM.Endpoint)
	cfg.Chains.EVM.PrivateKeyHex = os.Getenv("FIELDLEDGER_EVM_PRIVATE_KEY")
	cfg.Chains.Solana.Endpoint = envOrDefault("FIELDLEDGER_SOLANA_ENDPOINT", cfg.Chains.Solana.Endpoint)
	cfg.Chains.Solana.PrivateKeyBase58 = os.Getenv("FIELDLEDGER_SOLANA_PRIVATE_KEY")
	cfg.Chains.Bitcoin.Endpoint = envOrDefault("FIELDLEDGER_BITCOIN_ENDPOINT", cfg.Chains.Bitcoin.Endpoint)
	cfg.Chains.Bitcoin.PrivateKeyHex = os.Getenv("FIELDLEDGER_BITCOIN_PRIVATE_KEY")
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.Redistribution.Threshold < 0 || c.Redistribution.Threshold > 10 {
		return fmt.Errorf("redistribution threshold %v outside [0, 10]", c.Redistribution.Threshold)
	}

	pct, err := decimal.NewFromString(c.Redistribution.Percentage)
	if err != nil {
		return fmt.Errorf("redistribution percentage %q: %w", c.Redistribution.Percentage, err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("redistribution percentage %s outside [0, 100]", pct)
	}

	for currency, cap := range c.Redistribution.Caps {
		v, err := decimal.NewFromString(cap)
		if err != nil {
			return fmt.Errorf("cap for %s: %w", currency, err)
		}
		if v.IsNegative() {
			return fmt.Errorf("cap for %s is negative", currency)
		}
	}

	return nil
}

// ParsedPercentage returns the parsed redistribution percentage. Call only
// after Validate.
func (c RedistributionConfig) ParsedPercentage() decimal.Decimal {
	return decimal.RequireFromString(c.Percentage)
}

// ParsedCaps returns the parsed per-currency caps. Call only after Validate.
func (c RedistributionConfig) ParsedCaps() map[string]decimal.Decimal {
	caps := make(map[string]decimal.Decimal, len(c.Caps))
	for currency, cap := range c.Caps {
		caps[currency] = decimal.RequireFromString(cap)
	}
	return caps
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
