// Package config loads rentald settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon settings.
type Config struct {
	Addr            string        `yaml:"addr"             env:"RENTAL_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RENTAL_SHUTDOWN_TIMEOUT"`

	// Registry
	AssetCount     int     `yaml:"asset_count"      env:"RENTAL_ASSET_COUNT"`
	TokenAccount   string  `yaml:"token_account"    env:"RENTAL_TOKEN_ACCOUNT"`
	SelfAccount    string  `yaml:"self_account"     env:"RENTAL_SELF_ACCOUNT"`
	RewardUnits    int64   `yaml:"reward_units"     env:"RENTAL_REWARD_UNITS"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"   env:"RENTAL_RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RENTAL_RATE_LIMIT_BURST"`

	// Sandbox token ledger
	OwnerAccount string   `yaml:"owner_account" env:"RENTAL_OWNER_ACCOUNT"`
	OwnerSupply  int64    `yaml:"owner_supply"  env:"RENTAL_OWNER_SUPPLY"`
	SeedFunds    int64    `yaml:"seed_funds"    env:"RENTAL_SEED_FUNDS"`
	Registered   []string `yaml:"registered"    env:"RENTAL_REGISTERED_ACCOUNTS" envSeparator:","`

	// HTTP auth
	JWTSecret string `yaml:"jwt_secret" env:"RENTAL_JWT_SECRET"`

	// Observability
	LogLevel     string `yaml:"log_level"     env:"RENTAL_LOG_LEVEL"`
	LogFormat    string `yaml:"log_format"    env:"RENTAL_LOG_FORMAT"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"RENTAL_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name"  env:"RENTAL_SERVICE_NAME"`
}

// Default returns the sandbox configuration: five bikes, a registry account
// funded with 50 tokens and a reward of 15 per inspection.
func Default() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		AssetCount:      5,
		TokenAccount:    "sub.ft_jk.testnet",
		SelfAccount:     "bikes.testnet",
		RewardUnits:     15,
		RateLimitBurst:  5,
		OwnerAccount:    "owner.testnet",
		OwnerSupply:     1000,
		SeedFunds:       50,
		LogLevel:        "info",
		LogFormat:       "text",
		ServiceName:     "rentald",
	}
}

// Load starts from Default, applies the YAML file at path if path is not
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.AssetCount < 0 {
		errs = append(errs, errors.New("asset_count must not be negative"))
	}
	if c.TokenAccount == "" {
		errs = append(errs, errors.New("token_account must not be empty"))
	}
	if c.SelfAccount == "" {
		errs = append(errs, errors.New("self_account must not be empty"))
	}
	if c.RewardUnits <= 0 {
		errs = append(errs, errors.New("reward_units must be positive"))
	}
	if c.SeedFunds < 0 || c.SeedFunds > c.OwnerSupply {
		errs = append(errs, errors.New("seed_funds must be between 0 and owner_supply"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger described by the config.
func (c Config) NewLogger() *slog.Logger {
	lvl, _ := c.SlogLevel() //nolint:errcheck // validated by Load
	opts := &slog.HandlerOptions{Level: lvl}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
