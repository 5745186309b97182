// Package config loads the indicator settings.
//
// The YAML document on disk (gopkg.in/yaml.v3) holds settings and the persisted
// credential. A .env file (godotenv) and environment variables (go-simpler/env)
// override selected settings and supply the secrets that are never written.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	DefaultClientID    = "pdnu3rmmjndvi58vd5f19l5rxqvu6c"
	DefaultRedirectURI = "https://localhost:17563"
	DefaultScope       = "user:read:follows"

	FlowAuto     = "auto"
	FlowImplicit = "implicit"
	FlowCode     = "code"
)

type Config struct {
	Twitch        TwitchConfig       `yaml:"twitch"`
	Notifications NotificationConfig `yaml:"notifications"`
	Log           LogConfig          `yaml:"log"`
	Metrics       MetricsConfig      `yaml:"metrics"`

	// Secrets come from the environment only.
	ClientSecret       string `yaml:"-"`
	TokenEncryptionKey string `yaml:"-"`
}

type TwitchConfig struct {
	ClientID               string   `yaml:"client_id"`
	RedirectURI            string   `yaml:"redirect_uri"`
	Flow                   string   `yaml:"flow"`
	Scopes                 []string `yaml:"scopes"`
	RefreshIntervalMinutes int      `yaml:"refresh_interval_minutes"`
	AuthTimeoutSeconds     int      `yaml:"authorization_timeout_seconds"`

	// Persisted credential, managed by the credential store.
	AccessToken  string    `yaml:"access_token,omitempty"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	ExpiresAt    time.Time `yaml:"expires_at,omitempty"`
	UserID       string    `yaml:"user_id,omitempty"`
	Login        string    `yaml:"login,omitempty"`
	Encrypted    bool      `yaml:"tokens_encrypted,omitempty"`
}

type NotificationConfig struct {
	Enabled         bool `yaml:"enabled"`
	ShowGame        bool `yaml:"show_game"`
	ShowViewerCount bool `yaml:"show_viewer_count"`
	TimeoutMS       int  `yaml:"timeout_ms"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus listener when set, e.g. "127.0.0.1:9464".
	Addr string `yaml:"addr,omitempty"`
}

// environment lists the variables that override the file. Unset variables
// leave the file values alone, so no defaults here.
type environment struct {
	ClientID           string `env:"TWITCH_CLIENT_ID"`
	ClientSecret       string `env:"TWITCH_CLIENT_SECRET"`
	RedirectURI        string `env:"TWITCH_REDIRECT_URI"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	LogLevel           string `env:"LOG_LEVEL"`
	LogFormat          string `env:"LOG_FORMAT"`
	MetricsAddr        string `env:"METRICS_ADDR"`
}

func Default() *Config {
	return &Config{
		Twitch: TwitchConfig{
			ClientID:               DefaultClientID,
			RedirectURI:            DefaultRedirectURI,
			Flow:                   FlowAuto,
			Scopes:                 []string{DefaultScope},
			RefreshIntervalMinutes: 2,
			AuthTimeoutSeconds:     300,
		},
		Notifications: NotificationConfig{
			Enabled:         true,
			ShowGame:        true,
			ShowViewerCount: true,
			TimeoutMS:       5000,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path (creating it with defaults when missing),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := ReadFile(path)
	if errors.Is(err, ErrNotFound) {
		cfg = Default()
		if err := WriteFile(path, cfg); err != nil {
			return nil, err
		}
		slog.Info("Created default configuration", "path", path)
	} else if err != nil {
		return nil, err
	}

	if err := applyEnvironment(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvironment(cfg *Config) error {
	var e environment
	if err := env.Load(&e, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Twitch.ClientID, e.ClientID)
	override(&cfg.Twitch.RedirectURI, e.RedirectURI)
	override(&cfg.Log.Level, e.LogLevel)
	override(&cfg.Log.Format, e.LogFormat)
	override(&cfg.Metrics.Addr, e.MetricsAddr)
	cfg.ClientSecret = e.ClientSecret
	cfg.TokenEncryptionKey = e.TokenEncryptionKey
	return nil
}

func (c *Config) Validate() error {
	if c.Twitch.ClientID == "" {
		return errors.New("twitch.client_id is required")
	}

	u, err := url.Parse(c.Twitch.RedirectURI)
	if err != nil {
		return fmt.Errorf("twitch.redirect_uri is invalid: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("twitch.redirect_uri must use https, got %q", u.Scheme)
	}
	if h := u.Hostname(); h != "localhost" && h != "127.0.0.1" {
		return fmt.Errorf("twitch.redirect_uri must point at localhost, got %q", h)
	}
	if port, err := strconv.Atoi(u.Port()); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("twitch.redirect_uri must carry an explicit port, got %q", c.Twitch.RedirectURI)
	}

	if !slices.Contains([]string{FlowAuto, FlowImplicit, FlowCode}, c.Twitch.Flow) {
		return fmt.Errorf("twitch.flow must be one of auto, implicit, code, got %q", c.Twitch.Flow)
	}
	if c.Twitch.Flow == FlowCode && c.ClientSecret == "" {
		return errors.New("twitch.flow code requires TWITCH_CLIENT_SECRET")
	}

	if c.Twitch.RefreshIntervalMinutes < 1 {
		return fmt.Errorf("twitch.refresh_interval_minutes must be at least 1, got %d", c.Twitch.RefreshIntervalMinutes)
	}
	if c.Twitch.AuthTimeoutSeconds < 10 {
		return fmt.Errorf("twitch.authorization_timeout_seconds must be at least 10, got %d", c.Twitch.AuthTimeoutSeconds)
	}
	if c.Notifications.TimeoutMS < 0 {
		return errors.New("notifications.timeout_ms must not be negative")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.TokenEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.TokenEncryptionKey)
		if err != nil {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
		}
	}

	return nil
}

// EffectiveFlow resolves "auto": the code flow needs a client secret.
func (c *Config) EffectiveFlow() string {
	if c.Twitch.Flow != FlowAuto {
		return c.Twitch.Flow
	}
	if c.ClientSecret != "" {
		return FlowCode
	}
	return FlowImplicit
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Twitch.RefreshIntervalMinutes) * time.Minute
}

func (c *Config) AuthTimeout() time.Duration {
	return time.Duration(c.Twitch.AuthTimeoutSeconds) * time.Second
}

func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.TimeoutMS) * time.Millisecond
}
