package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	StudioAPIURL  string `env:"STUDIO_API_URL" envDefault:"http://localhost:8000/api/v1"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`

	PreferIPv4 bool `env:"PREFER_IPV4" envDefault:"true"`

	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT" envDefault:"60s"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`
	MediaGroupDebounce time.Duration `env:"MEDIA_GROUP_DEBOUNCE" envDefault:"1200ms"`
	MaxConcurrent      int           `env:"MAX_CONCURRENT" envDefault:"4"`

	CredentialsFile string `env:"CREDENTIALS_FILE" envDefault:"data/credentials.json"`

	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	FastPollDelay    time.Duration `env:"FAST_POLL_DELAY" envDefault:"800ms"`
	FastPollInterval time.Duration `env:"FAST_POLL_INTERVAL" envDefault:"2s"`
	FastPollMaxTicks int           `env:"FAST_POLL_MAX_TICKS" envDefault:"150"`
	GalleryLimit     int           `env:"GALLERY_LIMIT" envDefault:"50"`

	SessionIdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"6h"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.StudioAPIURL = strings.TrimRight(strings.TrimSpace(cfg.StudioAPIURL), "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.CredentialsFile = strings.TrimSpace(cfg.CredentialsFile)

	if cfg.TelegramToken == "" {
		return Config{}, errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.StudioAPIURL == "" {
		return Config{}, errors.New("STUDIO_API_URL is empty")
	}
	if cfg.CredentialsFile == "" {
		return Config{}, errors.New("CREDENTIALS_FILE is empty")
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.PollInterval < time.Second {
		cfg.PollInterval = time.Second
	}
	if cfg.FastPollDelay < 0 {
		cfg.FastPollDelay = 0
	}
	if cfg.FastPollInterval < 500*time.Millisecond {
		cfg.FastPollInterval = 500 * time.Millisecond
	}
	if cfg.FastPollMaxTicks < 1 {
		cfg.FastPollMaxTicks = 1
	}
	if cfg.GalleryLimit < 1 || cfg.GalleryLimit > 100 {
		cfg.GalleryLimit = 50
	}
	if cfg.SessionIdleTTL <= 0 {
		cfg.SessionIdleTTL = 6 * time.Hour
	}

	return cfg, nil
}
