package domain

import (
	"context"
	"time"
)

// Credential is the token pair obtained from the provider, plus the identity
// learned by validating the access token.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	UserID string
	Login  string
	Scopes []string
}

// IsAuthenticated reports whether the credential carries an access token.
func (c Credential) IsAuthenticated() bool {
	return c.AccessToken != ""
}

// HasIdentity reports whether the user id and expiry are known.
func (c Credential) HasIdentity() bool {
	return c.UserID != "" && !c.ExpiresAt.IsZero()
}

// Token returns what callers of the token manager are allowed to see.
func (c Credential) Token() Token {
	return Token{AccessToken: c.AccessToken, UserID: c.UserID, Login: c.Login}
}

// Token is a currently valid access token together with the account it belongs to.
type Token struct {
	AccessToken string
	UserID      string
	Login       string
}

// TokenInfo is the result of validating an access token with the provider.
type TokenInfo struct {
	ClientID  string
	UserID    string
	Login     string
	Scopes    []string
	ExpiresIn time.Duration
}

// CredentialStore persists the credential between runs. It never decides
// validity; the token manager owns that.
type CredentialStore interface {
	Load(ctx context.Context) (Credential, error)
	Save(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
}
