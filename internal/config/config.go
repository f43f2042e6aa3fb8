// Package config loads agent configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "WINGSIGHT_"

// Config is the root agent configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Server  ServerConfig  `koanf:"server"`
	CORS    CORSConfig    `koanf:"cors"`
	API     APIConfig     `koanf:"api"`
	Session SessionConfig `koanf:"session"`
	Poller  PollerConfig  `koanf:"poller"`
	Audio   AudioConfig   `koanf:"audio"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ServerConfig controls the local API and metrics listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// CORSConfig controls cross-origin access to the local API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// APIConfig points the gateway at the remote backend.
type APIConfig struct {
	BaseURL             string        `koanf:"base_url"`
	NotificationFeedURL string        `koanf:"notification_feed_url"`
	RequestTimeout      time.Duration `koanf:"request_timeout"`
	RateLimit           float64       `koanf:"rate_limit"`
}

// SessionConfig locates the stored session tokens.
type SessionConfig struct {
	TokenFile string `koanf:"token_file"`
}

// PollerConfig controls the notification poll loop.
type PollerConfig struct {
	Interval      time.Duration `koanf:"interval"`
	DisplayWindow time.Duration `koanf:"display_window"`
}

// AudioConfig controls the notification audio cue.
type AudioConfig struct {
	Enabled       bool   `koanf:"enabled"`
	PlayerCommand string `koanf:"player_command"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              "8090",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		API: APIConfig{
			RequestTimeout: 30 * time.Second,
			RateLimit:      5,
		},
		Poller: PollerConfig{
			Interval:      6 * time.Second,
			DisplayWindow: 5 * time.Second,
		},
		Audio: AudioConfig{
			Enabled:       true,
			PlayerCommand: "ffplay -nodisp -autoexit -loglevel quiet",
		},
	}
}

// Load reads configuration: defaults, then the optional YAML file at path,
// then WINGSIGHT_* environment variables. Nested keys use a double
// underscore in the environment (WINGSIGHT_API__BASE_URL -> api.base_url).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.NotificationFeedURL == "" {
		errs = append(errs, errors.New("api.notification_feed_url is required"))
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	if c.Poller.DisplayWindow <= 0 {
		errs = append(errs, errors.New("poller.display_window must be positive"))
	}
	if c.API.RateLimit <= 0 {
		errs = append(errs, errors.New("api.rate_limit must be positive"))
	}

	return errors.Join(errs...)
}
