// Package config loads the paper engine configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when PAPER_ENGINE_CONFIG is unset.
const DefaultPath = "config/paper-engine.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the paper engine.
type Config struct {
	Server      Server      `yaml:"server"`
	Storage     Storage     `yaml:"storage"`
	Pricing     Pricing     `yaml:"pricing"`
	Account     Account     `yaml:"account"`
	Risk        Risk        `yaml:"risk"`
	Instruments Instruments `yaml:"instruments"`
	Logging     Logging     `yaml:"logging"`
}

// Server holds network listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Storage configures the optional fill journal and price cache backends.
type Storage struct {
	DatabaseURL   string `yaml:"database_url"`   // empty: in-memory journal
	RedisURL      string `yaml:"redis_url"`      // empty: no price cache
	JournalBuffer int    `yaml:"journal_buffer"` // recorder queue length
}

// Pricing selects the price source used for market orders and marks.
type Pricing struct {
	Source        string             `yaml:"source"` // "synthetic" or "static"
	SyntheticBars int                `yaml:"synthetic_bars"`
	Static        map[string]float64 `yaml:"static"`
	CacheTTL      time.Duration      `yaml:"cache_ttl"`
}

// Account holds the paper account parameters.
type Account struct {
	StartingCapital float64 `yaml:"starting_capital"`
	RealizedPnL     bool    `yaml:"realized_pnl"`
}

// Risk holds the decision sizing limits.
type Risk struct {
	MinConfidence  float64 `yaml:"min_confidence"`
	MaxLeverage    float64 `yaml:"max_leverage"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	MaxPositions   int     `yaml:"max_positions"`
}

// Instruments configures per-symbol lot sizes. Empty means the built-in
// NSE defaults.
type Instruments struct {
	LotSizes map[string]int64 `yaml:"lot_sizes"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{Port: "8080"},
		Storage: Storage{
			JournalBuffer: 1024,
		},
		Pricing: Pricing{
			Source:        "synthetic",
			SyntheticBars: 5,
			CacheTTL:      5 * time.Second,
		},
		Account: Account{StartingCapital: 100000},
		Risk: Risk{
			MinConfidence:  0.65,
			MaxLeverage:    10,
			MaxPositionPct: 20,
			MaxPositions:   3,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML file at path over the defaults, applies environment
// variable overrides and validates the result. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PathFromEnv returns PAPER_ENGINE_CONFIG or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("PAPER_ENGINE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PRICE_SOURCE"); v != "" {
		cfg.Pricing.Source = v
	}
	if v := os.Getenv("STARTING_CAPITAL_INR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STARTING_CAPITAL_INR: %w", err)
		}
		cfg.Account.StartingCapital = f
	}
	return nil
}

// Validate reports the first configuration value out of range.
func (c *Config) Validate() error {
	switch {
	case c.Account.StartingCapital <= 0:
		return fmt.Errorf("config: account.starting_capital must be > 0, got %v", c.Account.StartingCapital)
	case c.Risk.MaxLeverage <= 0:
		return fmt.Errorf("config: risk.max_leverage must be > 0, got %v", c.Risk.MaxLeverage)
	case c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 100:
		return fmt.Errorf("config: risk.max_position_pct must be within (0, 100], got %v", c.Risk.MaxPositionPct)
	case c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1:
		return fmt.Errorf("config: risk.min_confidence must be within [0, 1], got %v", c.Risk.MinConfidence)
	case c.Risk.MaxPositions < 0:
		return fmt.Errorf("config: risk.max_positions must be >= 0, got %d", c.Risk.MaxPositions)
	}

	c.Pricing.Source = strings.ToLower(c.Pricing.Source)
	if c.Pricing.Source != "synthetic" && c.Pricing.Source != "static" {
		return fmt.Errorf("config: pricing.source must be synthetic or static, got %q", c.Pricing.Source)
	}
	for sym, lot := range c.Instruments.LotSizes {
		if lot <= 0 {
			return fmt.Errorf("config: lot size for %s must be > 0, got %d", sym, lot)
		}
	}
	return nil
}
