package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	LiveAPIURL     string        `env:"LIVE_API_URL"`
	LiveAPIToken   string        `env:"LIVE_API_TOKEN"`
	LiveAPITimeout time.Duration `env:"LIVE_API_TIMEOUT" default:"10s"`

	// MediaServerURL is the only source of the media-transport endpoint.
	// It may be empty at boot; joins then fail with a configuration error.
	MediaServerURL string `env:"MEDIA_SERVER_URL"`

	RedisURL        string        `env:"REDIS_URL"`
	SessionCacheTTL time.Duration `env:"SESSION_CACHE_TTL" default:"30s"`

	DiscoveryInterval time.Duration `env:"DISCOVERY_INTERVAL" default:"4s"`

	ActionRateLimit float64 `env:"ACTION_RATE_LIMIT" default:"5"`
	ActionRateBurst int     `env:"ACTION_RATE_BURST" default:"10"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"LIVE_API_URL": cfg.LiveAPIURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if _, err := url.ParseRequestURI(cfg.LiveAPIURL); err != nil {
		return fmt.Errorf("LIVE_API_URL must be a valid URL: %w", err)
	}

	if cfg.MediaServerURL != "" {
		u, err := url.Parse(cfg.MediaServerURL)
		if err != nil {
			return fmt.Errorf("MEDIA_SERVER_URL must be a valid URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("MEDIA_SERVER_URL must use ws or wss scheme, got %q", u.Scheme)
		}
	}

	if cfg.DiscoveryInterval <= 0 {
		return errors.New("DISCOVERY_INTERVAL must be positive")
	}

	if cfg.ActionRateLimit <= 0 || cfg.ActionRateBurst < 1 {
		return errors.New("ACTION_RATE_LIMIT must be positive and ACTION_RATE_BURST at least 1")
	}

	return nil
}
