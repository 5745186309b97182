package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("config file not found")

// DefaultPath returns $XDG_CONFIG_HOME/twitch-indicator/config.yaml (or the
// platform equivalent).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "twitch-indicator", "config.yaml"), nil
}

// ReadFile decodes the document at path on top of the defaults. It does not
// look at the environment.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteFile replaces the document at path. The file holds tokens, so it is
// written 0600 inside a 0700 directory, through a temp file and rename.
func WriteFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// WithoutCredential returns a copy of cfg with the persisted token fields cleared.
func (c *Config) WithoutCredential() *Config {
	out := *c
	out.Twitch.Scopes = append([]string(nil), c.Twitch.Scopes...)
	out.Twitch.AccessToken = ""
	out.Twitch.RefreshToken = ""
	out.Twitch.ExpiresAt = time.Time{}
	out.Twitch.UserID = ""
	out.Twitch.Login = ""
	out.Twitch.Encrypted = false
	return &out
}

// Export writes the settings stored at src to dst, leaving tokens behind.
func Export(src, dst string) error {
	cfg, err := ReadFile(src)
	if err != nil {
		return err
	}
	return WriteFile(dst, cfg.WithoutCredential())
}

// Import replaces the settings at dst with the ones in src. The credential
// already stored at dst is kept.
func Import(src, dst string) (*Config, error) {
	imported, err := ReadFile(src)
	if err != nil {
		return nil, err
	}
	if err := imported.Validate(); err != nil {
		return nil, fmt.Errorf("imported settings are invalid: %w", err)
	}

	next := imported.WithoutCredential()
	if current, err := ReadFile(dst); err == nil {
		next.Twitch.AccessToken = current.Twitch.AccessToken
		next.Twitch.RefreshToken = current.Twitch.RefreshToken
		next.Twitch.ExpiresAt = current.Twitch.ExpiresAt
		next.Twitch.UserID = current.Twitch.UserID
		next.Twitch.Login = current.Twitch.Login
		next.Twitch.Encrypted = current.Twitch.Encrypted
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := WriteFile(dst, next); err != nil {
		return nil, err
	}
	return next, nil
}
