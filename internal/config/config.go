package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"investia/internal/backtest"
	"investia/internal/fusion"
	"investia/internal/trend"
)

// EnvPrefix prefixes every environment override, e.g. INVESTIA_LOG_LEVEL
const EnvPrefix = "INVESTIA"

// Config represents the application configuration
type Config struct {
	Fusion    fusion.Policy   `yaml:"fusion" split_words:"true"`
	Backtest  backtest.Config `yaml:"backtest" split_words:"true"`
	Trend     trend.RuleBased `yaml:"trend" split_words:"true"`
	Advisor   AdvisorConfig   `yaml:"advisor" split_words:"true"`
	Provider  ProviderConfig  `yaml:"provider" split_words:"true"`
	Sentiment SentimentConfig `yaml:"sentiment" split_words:"true"`
	Assets    AssetsConfig    `yaml:"assets" split_words:"true"`
	Log       LogConfig       `yaml:"log" split_words:"true"`
	Store     StoreConfig     `yaml:"store" split_words:"true"`
}

// AdvisorConfig holds refresh cycle settings
type AdvisorConfig struct {
	Workers     int           `yaml:"workers" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`
	HistoryDays int           `yaml:"history_days" split_words:"true"` // bars fetched per asset
	FearDays    int           `yaml:"fear_days" split_words:"true"`
	Interval    time.Duration `yaml:"interval" split_words:"true"` // watch loop period
	MaxFailures int           `yaml:"max_failures" split_words:"true"`
}

// ProviderConfig holds market data settings
type ProviderConfig struct {
	Yahoo    YahooConfig   `yaml:"yahoo" split_words:"true"`
	Alpaca   AlpacaConfig  `yaml:"alpaca" split_words:"true"`
	CacheTTL time.Duration `yaml:"cache_ttl" split_words:"true"`
}

// YahooConfig holds the free chart API settings
type YahooConfig struct {
	Enabled   bool `yaml:"enabled" split_words:"true"`
	RateLimit int  `yaml:"rate_limit" split_words:"true"` // requests per minute
}

// AlpacaConfig holds market data API credentials
type AlpacaConfig struct {
	Key    string `yaml:"key" split_words:"true"`
	Secret string `yaml:"secret" split_words:"true"`
	Feed   string `yaml:"feed" split_words:"true"` // iex or sip
}

// Enabled reports whether both credentials are present
func (a AlpacaConfig) Enabled() bool {
	return a.Key != "" && a.Secret != ""
}

// SentimentConfig points at precomputed sentiment scores
type SentimentConfig struct {
	File   string        `yaml:"file" split_words:"true"`
	MaxAge time.Duration `yaml:"max_age" split_words:"true"`
}

// AssetsConfig optionally replaces the built-in catalog
type AssetsConfig struct {
	File string `yaml:"file" split_words:"true"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string `yaml:"level" split_words:"true"`
	File  string `yaml:"file" split_words:"true"`
}

// StoreConfig holds the run history database settings
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Path    string `yaml:"path" split_words:"true"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Fusion:   fusion.DefaultPolicy(),
		Backtest: backtest.DefaultConfig(),
		Trend:    trend.DefaultRuleBased(),
		Advisor: AdvisorConfig{
			Workers:     8,
			Timeout:     2 * time.Minute,
			HistoryDays: 300,
			FearDays:    30,
			Interval:    4 * time.Hour,
			MaxFailures: 5,
		},
		Provider: ProviderConfig{
			Yahoo: YahooConfig{
				Enabled:   true,
				RateLimit: 30,
			},
			Alpaca: AlpacaConfig{
				Feed: "iex",
			},
			CacheTTL: 15 * time.Minute,
		},
		Sentiment: SentimentConfig{
			MaxAge: 72 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "data/investia.db",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path, an
// optional dotenv file and INVESTIA_* environment variables, in that order.
// Missing files are skipped.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// defaults
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if envFile != "" {
		// Existing environment variables win over the dotenv file
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	// Alpaca's own variable names are honoured as well
	if cfg.Provider.Alpaca.Key == "" {
		cfg.Provider.Alpaca.Key = os.Getenv("APCA_API_KEY_ID")
	}
	if cfg.Provider.Alpaca.Secret == "" {
		cfg.Provider.Alpaca.Secret = os.Getenv("APCA_API_SECRET_KEY")
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	if err := c.Backtest.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if err := c.Trend.Validate(); err != nil {
		return fmt.Errorf("trend: %w", err)
	}
	if c.Advisor.Workers < 1 {
		return fmt.Errorf("advisor.workers must be at least 1")
	}
	if c.Advisor.HistoryDays < 35 {
		return fmt.Errorf("advisor.history_days must be at least 35")
	}
	if !c.Provider.Yahoo.Enabled && !c.Provider.Alpaca.Enabled() {
		return fmt.Errorf("no price provider: enable yahoo or set alpaca key and secret (APCA_API_KEY_ID, APCA_API_SECRET_KEY)")
	}
	if c.Provider.Alpaca.Key != "" && c.Provider.Alpaca.Secret == "" {
		return fmt.Errorf("provider.alpaca.secret is required when a key is set")
	}
	if c.Advisor.Interval <= 0 {
		return fmt.Errorf("advisor.interval must be positive")
	}
	if c.Advisor.MaxFailures < 0 {
		return fmt.Errorf("advisor.max_failures must not be negative")
	}
	if c.Provider.CacheTTL < 0 {
		return fmt.Errorf("provider.cache_ttl must not be negative")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	return nil
}
