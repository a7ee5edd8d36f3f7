package config

import (
	"fmt"
	"os"
	"rival-tracker/internal/constants"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	BSERAPIKey  string `koanf:"bser_api_key"`
	BSERBaseURL string `koanf:"bser_base_url"`
	DBPath      string `koanf:"db_path"`
	ServerPort  string `koanf:"server_port"`
	LogLevel    string `koanf:"log_level"`

	// upstream pacing
	RateLimitInterval time.Duration `koanf:"rate_limit_interval"`
	RetryBackoff      time.Duration `koanf:"retry_backoff"`

	// optional, enables the shared per-player lock
	RedisAddr string `koanf:"redis_addr"`

	// background refresh, disabled while RefreshInterval is zero
	RefreshInterval   time.Duration `koanf:"refresh_interval"`
	RefreshStaleAfter time.Duration `koanf:"refresh_stale_after"`
	RefreshBatch      int           `koanf:"refresh_batch"`

	SyncStopAtKnown bool `koanf:"sync_stop_at_known"`
}

func defaults() Config {
	return Config{
		BSERBaseURL:       "https://open-api.bser.io",
		DBPath:            "rivals.db",
		ServerPort:        "8080",
		LogLevel:          "info",
		RateLimitInterval: constants.DefaultRateLimitInterval,
		RetryBackoff:      constants.DefaultRetryBackoff,
		RefreshStaleAfter: 24 * time.Hour,
		RefreshBatch:      10,
	}
}

var knownKeys = map[string]struct{}{
	"bser_api_key":        {},
	"bser_base_url":       {},
	"db_path":             {},
	"server_port":         {},
	"log_level":           {},
	"rate_limit_interval": {},
	"retry_backoff":       {},
	"redis_addr":          {},
	"refresh_interval":    {},
	"refresh_stale_after": {},
	"refresh_batch":       {},
	"sync_stop_at_known":  {},
}

// Load layers defaults, the YAML file named by CONFIG_FILE and the
// environment (after .env), lowest to highest precedence.
func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	k := koanf.New(".")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(s, v string) (string, interface{}) {
		key := strings.ToLower(s)
		if _, ok := knownKeys[key]; !ok || v == "" {
			return "", nil
		}
		return key, v
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("base_url", cfg.BSERBaseURL).
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("rate_limit_interval", cfg.RateLimitInterval).
		Dur("retry_backoff", cfg.RetryBackoff).
		Bool("redis_lock", cfg.RedisAddr != "").
		Dur("refresh_interval", cfg.RefreshInterval).
		Msg("configuration loaded")

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BSERAPIKey == "" {
		return fmt.Errorf("BSER_API_KEY is required")
	}
	if c.BSERBaseURL == "" {
		return fmt.Errorf("BSER_BASE_URL must not be empty")
	}
	if c.RateLimitInterval <= 0 {
		return fmt.Errorf("RATE_LIMIT_INTERVAL must be positive, got %s", c.RateLimitInterval)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF must not be negative, got %s", c.RetryBackoff)
	}
	if c.RefreshInterval > 0 && c.RefreshBatch <= 0 {
		return fmt.Errorf("REFRESH_BATCH must be positive when REFRESH_INTERVAL is set")
	}
	c.BSERBaseURL = strings.TrimRight(c.BSERBaseURL, "/")
	return nil
}

var Module = fx.Provide(Load)
