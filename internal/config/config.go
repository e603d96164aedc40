// Package config loads the colosseum YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"colosseum/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the colosseum arena.
type Config struct {
	Storage Storage     `yaml:"storage"`
	Market  Market      `yaml:"market"`
	Arena   ArenaConfig `yaml:"arena"`
	Alpaca  Alpaca      `yaml:"alpaca"`
	Server  Server      `yaml:"server"`
	Logging Logging     `yaml:"logging"`
}

// Storage holds paths for the two embedded databases and the archive
// directory. Each database has a single writer process; sharing a store file
// between two arena processes is not supported.
type Storage struct {
	ArenaDB    string `yaml:"arena_db"`
	KlinesDB   string `yaml:"klines_db"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Market selects the one market the arena trades against.
type Market struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

// ArenaConfig holds the immutable arena parameters. Changing these for an
// existing store requires a reset.
type ArenaConfig struct {
	PerStrategyRatio float64 `yaml:"per_strategy_ratio"`
	Commission       float64 `yaml:"commission"`
	PollInterval     string  `yaml:"poll_interval"`
	OptimizeInterval string  `yaml:"optimize_interval"`
	StartDate        string  `yaml:"start_date"`
}

// Alpaca holds credentials and endpoints for the market-data API. Crypto
// market data is public; keys are optional and only raise rate limits.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Server holds the admin HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, fills defaults,
// and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: Storage{
			ArenaDB:    "data/arena.db",
			KlinesDB:   "data/klines.db",
			ArchiveDir: "data/archive",
		},
		Market: Market{
			Symbol:    "BTC-USDT",
			Timeframe: "4H",
		},
		Arena: ArenaConfig{
			PerStrategyRatio: 0.1,
			Commission:       0.001,
			PollInterval:     "60s",
			OptimizeInterval: "4h",
			StartDate:        "2026-01-01T00:00:00Z",
		},
		Server: Server{
			Host: "127.0.0.1",
			Port: 8710,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COLOSSEUM_ARENA_DB"); v != "" {
		cfg.Storage.ArenaDB = v
	}
	if v := os.Getenv("COLOSSEUM_KLINES_DB"); v != "" {
		cfg.Storage.KlinesDB = v
	}
	if v := os.Getenv("COLOSSEUM_SYMBOL"); v != "" {
		cfg.Market.Symbol = v
	}
	if v := os.Getenv("COLOSSEUM_TIMEFRAME"); v != "" {
		cfg.Market.Timeframe = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// ArenaConfig converts the raw configuration into the typed, validated
// domain.ArenaConfig the arena is constructed with.
func (c *Config) ArenaConfig() (domain.ArenaConfig, error) {
	tf, err := domain.ParseTimeframe(c.Market.Timeframe)
	if err != nil {
		return domain.ArenaConfig{}, err
	}

	poll, err := time.ParseDuration(c.Arena.PollInterval)
	if err != nil {
		return domain.ArenaConfig{}, fmt.Errorf("parsing poll_interval: %w", err)
	}

	optimize, err := time.ParseDuration(c.Arena.OptimizeInterval)
	if err != nil {
		return domain.ArenaConfig{}, fmt.Errorf("parsing optimize_interval: %w", err)
	}

	start, err := time.Parse(time.RFC3339, c.Arena.StartDate)
	if err != nil {
		return domain.ArenaConfig{}, fmt.Errorf("parsing start_date: %w", err)
	}

	if c.Arena.PerStrategyRatio <= 0 || c.Arena.PerStrategyRatio > 1 {
		return domain.ArenaConfig{}, fmt.Errorf("per_strategy_ratio %v out of (0, 1]", c.Arena.PerStrategyRatio)
	}
	if c.Arena.Commission < 0 || c.Arena.Commission >= 1 {
		return domain.ArenaConfig{}, fmt.Errorf("commission %v out of [0, 1)", c.Arena.Commission)
	}

	return domain.ArenaConfig{
		Symbol:           c.Market.Symbol,
		Timeframe:        tf,
		PerStrategyRatio: c.Arena.PerStrategyRatio,
		Commission:       c.Arena.Commission,
		PollInterval:     poll,
		OptimizeInterval: optimize,
		StartDate:        start,
	}, nil
}
