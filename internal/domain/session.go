package domain

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// AuthorizationSession is the per-attempt state of one OAuth authorization.
// It lives exactly as long as one callback listener run.
type AuthorizationSession struct {
	StateNonce   string
	RedirectURI  string
	Port         int
	CallbackPath string
}

// NewAuthorizationSession derives port and callback path from redirectURI and
// generates a fresh state nonce.
func NewAuthorizationSession(redirectURI string) (AuthorizationSession, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return AuthorizationSession{}, fmt.Errorf("invalid redirect uri: %w", err)
	}

	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return AuthorizationSession{}, fmt.Errorf("redirect uri %q has no port", redirectURI)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return AuthorizationSession{
		StateNonce:   uuid.NewString(),
		RedirectURI:  redirectURI,
		Port:         port,
		CallbackPath: path,
	}, nil
}

// AuthorizationArtifact is what the redirect delivers: an authorization code
// (code flow) or an access token (implicit flow).
type AuthorizationArtifact struct {
	Code        string
	AccessToken string
	Scope       string
}

// IsImplicit reports whether the artifact already carries the access token.
func (a AuthorizationArtifact) IsImplicit() bool {
	return a.AccessToken != ""
}
