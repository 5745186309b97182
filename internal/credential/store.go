// Package credential persists the token pair inside the configuration file.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fldc/twitch-indicator/internal/crypto"
	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/platform/config"
)

// FileStore reads and writes the twitch credential fields of the YAML config
// document, leaving every other setting untouched.
type FileStore struct {
	mu     sync.Mutex
	path   string
	crypto crypto.Service
}

var _ domain.CredentialStore = (*FileStore)(nil)

func NewFileStore(path string, svc crypto.Service) *FileStore {
	if svc == nil {
		svc = crypto.NoopService{}
	}
	return &FileStore{path: path, crypto: svc}
}

// Load returns the stored credential. A missing file or missing token yields a
// zero credential, not an error.
func (s *FileStore) Load(_ context.Context) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := config.ReadFile(s.path)
	if errors.Is(err, config.ErrNotFound) {
		return domain.Credential{}, nil
	}
	if err != nil {
		return domain.Credential{}, err
	}

	tw := cfg.Twitch
	if tw.AccessToken == "" {
		return domain.Credential{}, nil
	}

	access, refresh := tw.AccessToken, tw.RefreshToken
	if tw.Encrypted {
		if !s.crypto.Enabled() {
			return domain.Credential{}, errors.New("stored tokens are encrypted but TOKEN_ENCRYPTION_KEY is not set")
		}
		if access, err = s.crypto.Decrypt(tw.AccessToken); err != nil {
			return domain.Credential{}, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		if refresh, err = s.crypto.Decrypt(tw.RefreshToken); err != nil {
			return domain.Credential{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}

	return domain.Credential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    tw.ExpiresAt,
		UserID:       tw.UserID,
		Login:        tw.Login,
	}, nil
}

func (s *FileStore) Save(_ context.Context, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readOrDefault()
	if err != nil {
		return err
	}

	access, err := s.crypto.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.crypto.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	cfg.Twitch.AccessToken = access
	cfg.Twitch.RefreshToken = refresh
	cfg.Twitch.ExpiresAt = cred.ExpiresAt
	cfg.Twitch.UserID = cred.UserID
	cfg.Twitch.Login = cred.Login
	cfg.Twitch.Encrypted = s.crypto.Enabled()

	if err := config.WriteFile(s.path, cfg); err != nil {
		return err
	}
	slog.Debug("Credential saved", "path", s.path, "encrypted", cfg.Twitch.Encrypted)
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := config.ReadFile(s.path)
	if errors.Is(err, config.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return config.WriteFile(s.path, cfg.WithoutCredential())
}

func (s *FileStore) readOrDefault() (*config.Config, error) {
	cfg, err := config.ReadFile(s.path)
	if errors.Is(err, config.ErrNotFound) {
		return config.Default(), nil
	}
	return cfg, err
}
