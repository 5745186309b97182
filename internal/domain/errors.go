package domain

import "errors"

var (
	// Callback listener
	ErrPortUnavailable = errors.New("callback port unavailable")
	ErrTimedOut        = errors.New("authorization timed out")
	ErrCancelled       = errors.New("authorization cancelled")

	// Token lifecycle
	ErrExchangeFailed          = errors.New("authorization exchange failed")
	ErrRetryableAuth           = errors.New("token refresh failed, retry later")
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// Provider responses
	ErrTokenRejected = errors.New("access token rejected by provider")
	ErrTokenRevoked  = errors.New("refresh token revoked")
	ErrRateLimited   = errors.New("provider rate limit exceeded")

	// Polling
	ErrPoll = errors.New("poll failed")
)
