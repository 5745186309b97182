package twitch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fldc/twitch-indicator/internal/domain"
	"golang.org/x/oauth2"
)

// TokenRefreshError is returned by Refresh. Revoked means the refresh token
// will never work again and the user has to authorize anew.
type TokenRefreshError struct {
	Revoked bool
	Err     error
}

func (e *TokenRefreshError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("token revoked: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// Is lets callers test for domain.ErrTokenRevoked without importing this package.
func (e *TokenRefreshError) Is(target error) bool {
	return e.Revoked && target == domain.ErrTokenRevoked
}

// refreshError classifies a failed refresh: 400, 401 and invalid_grant are
// terminal, everything else (network, 5xx) is worth retrying.
func refreshError(err error) *TokenRefreshError {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) || rErr.Response == nil {
		return &TokenRefreshError{Err: err}
	}

	status := rErr.Response.StatusCode
	revoked := status == http.StatusBadRequest || status == http.StatusUnauthorized || rErr.ErrorCode == "invalid_grant"
	return &TokenRefreshError{
		Revoked: revoked,
		Err:     fmt.Errorf("refresh failed with status %d: %w", status, err),
	}
}
