package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fldc/twitch-indicator/internal/domain"
	"golang.org/x/oauth2"
)

const (
	AuthURL     = "https://id.twitch.tv/oauth2/authorize"
	TokenURL    = "https://id.twitch.tv/oauth2/token"
	ValidateURL = "https://id.twitch.tv/oauth2/validate"

	httpCallTimeout = 10 * time.Second
)

type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// Implicit requests response_type=token; the redirect then carries the
	// access token itself and no refresh token is issued.
	Implicit bool

	// Endpoint overrides, empty means Twitch.
	AuthURL     string
	TokenURL    string
	ValidateURL string
	HTTPClient  *http.Client
}

// OAuthClient talks to the Twitch identity endpoints.
type OAuthClient struct {
	cfg         oauth2.Config
	implicit    bool
	validateURL string
	httpClient  *http.Client
}

func NewOAuthClient(o OAuthOptions) *OAuthClient {
	c := &OAuthClient{
		cfg: oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURI,
			Scopes:       o.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   AuthURL,
				TokenURL:  TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		implicit:    o.Implicit,
		validateURL: ValidateURL,
		httpClient:  o.HTTPClient,
	}
	if o.AuthURL != "" {
		c.cfg.Endpoint.AuthURL = o.AuthURL
	}
	if o.TokenURL != "" {
		c.cfg.Endpoint.TokenURL = o.TokenURL
	}
	if o.ValidateURL != "" {
		c.validateURL = o.ValidateURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: httpCallTimeout}
	}
	return c
}

// AuthorizationURL returns the consent URL for one authorization attempt.
func (c *OAuthClient) AuthorizationURL(state string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("force_verify", "true")}
	if c.implicit {
		opts = append(opts, oauth2.SetAuthURLParam("response_type", "token"))
	}
	return c.cfg.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a token pair.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (domain.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, httpCallTimeout)
	defer cancel()

	tok, err := c.cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("code exchange: %w", err)
	}
	return credentialFromToken(tok), nil
}

// Refresh redeems refreshToken. Failures are *TokenRefreshError.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, httpCallTimeout)
	defer cancel()

	src := c.cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.Credential{}, refreshError(err)
	}

	cred := credentialFromToken(tok)
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

type validateResponse struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	Scopes    []string `json:"scopes"`
	UserID    string   `json:"user_id"`
	ExpiresIn int      `json:"expires_in"`
}

// Validate asks Twitch who owns accessToken and how long it stays valid.
func (c *OAuthClient) Validate(ctx context.Context, accessToken string) (domain.TokenInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, httpCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validateURL, nil)
	if err != nil {
		return domain.TokenInfo{}, fmt.Errorf("validate token: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenInfo{}, fmt.Errorf("validate token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return domain.TokenInfo{}, fmt.Errorf("validate token: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.TokenInfo{}, fmt.Errorf("validate token: %w", domain.ErrTokenRejected)
	case resp.StatusCode != http.StatusOK:
		return domain.TokenInfo{}, fmt.Errorf("validate token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var v validateResponse
	if err := json.Unmarshal(body, &v); err != nil {
		return domain.TokenInfo{}, fmt.Errorf("validate token: %w", err)
	}
	if v.UserID == "" {
		return domain.TokenInfo{}, fmt.Errorf("validate token: response carries no user id")
	}

	return domain.TokenInfo{
		ClientID:  v.ClientID,
		UserID:    v.UserID,
		Login:     v.Login,
		Scopes:    v.Scopes,
		ExpiresIn: time.Duration(v.ExpiresIn) * time.Second,
	}, nil
}

func (c *OAuthClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func credentialFromToken(tok *oauth2.Token) domain.Credential {
	cred := domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	switch scope := tok.Extra("scope").(type) {
	case []any:
		for _, s := range scope {
			if str, ok := s.(string); ok {
				cred.Scopes = append(cred.Scopes, str)
			}
		}
	case string:
		cred.Scopes = strings.Fields(scope)
	}
	return cred
}
