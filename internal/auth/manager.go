package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fldc/twitch-indicator/internal/callback"
	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/metrics"
	"github.com/fldc/twitch-indicator/internal/platform/correlation"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSafetyMargin   = 60 * time.Second
	DefaultRefreshTimeout = 15 * time.Second

	refreshKey = "refresh"
)

// Provider is the identity provider: consent URL, token endpoint and token validation.
type Provider interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (domain.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (domain.Credential, error)
	Validate(ctx context.Context, accessToken string) (domain.TokenInfo, error)
}

// Redirect is one bound callback listener waiting for the provider redirect.
type Redirect interface {
	Wait(ctx context.Context) (domain.AuthorizationArtifact, error)
	Close()
}

// Listener binds the callback port for one authorization session.
type Listener interface {
	Listen(ctx context.Context, session domain.AuthorizationSession) (Redirect, error)
}

type ListenerFunc func(ctx context.Context, session domain.AuthorizationSession) (Redirect, error)

func (f ListenerFunc) Listen(ctx context.Context, session domain.AuthorizationSession) (Redirect, error) {
	return f(ctx, session)
}

// CallbackListener adapts the HTTPS callback listener.
func CallbackListener(l *callback.Listener) Listener {
	return ListenerFunc(func(ctx context.Context, session domain.AuthorizationSession) (Redirect, error) {
		run, err := l.Listen(ctx, session)
		if err != nil {
			return nil, err
		}
		return run, nil
	})
}

type Options struct {
	RedirectURI string
	// SafetyMargin is how long before expiry a token is refreshed.
	SafetyMargin   time.Duration
	RefreshTimeout time.Duration
	Clock          clockwork.Clock
}

type Manager struct {
	provider Provider
	listener Listener
	store    domain.CredentialStore
	clock    clockwork.Clock

	redirectURI    string
	margin         time.Duration
	refreshTimeout time.Duration

	refreshGroup singleflight.Group
	persistMu    sync.Mutex

	mu      sync.Mutex
	state   State
	cred    domain.Credential
	attempt *attempt
}

// attempt is one authorization flow. err is written before done is closed.
type attempt struct {
	url    string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (a *attempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func NewManager(provider Provider, listener Listener, store domain.CredentialStore, opts Options) *Manager {
	m := &Manager{
		provider:       provider,
		listener:       listener,
		store:          store,
		clock:          opts.Clock,
		redirectURI:    opts.RedirectURI,
		margin:         opts.SafetyMargin,
		refreshTimeout: opts.RefreshTimeout,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.margin <= 0 {
		m.margin = DefaultSafetyMargin
	}
	if m.refreshTimeout <= 0 {
		m.refreshTimeout = DefaultRefreshTimeout
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:      m.state,
		UserID:     m.cred.UserID,
		Login:      m.cred.Login,
		ExpiresAt:  m.cred.ExpiresAt,
		CanRefresh: m.cred.RefreshToken != "",
	}
}

// Restore loads the persisted credential. Tokens stored without identity or
// expiry are validated once; a token the provider rejects is kept but marked
// expired so the next GetValidToken refreshes it.
func (m *Manager) Restore(ctx context.Context) error {
	cred, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	if !cred.IsAuthenticated() {
		m.mu.Lock()
		m.cred = domain.Credential{}
		m.state = Unauthenticated
		m.mu.Unlock()
		slog.DebugContext(ctx, "Auth: no stored credential")
		return nil
	}

	if !cred.HasIdentity() {
		info, err := m.provider.Validate(ctx, cred.AccessToken)
		switch {
		case errors.Is(err, domain.ErrTokenRejected):
			slog.InfoContext(ctx, "Auth: stored access token is no longer valid")
			cred.ExpiresAt = m.clock.Now()
		case err != nil:
			slog.WarnContext(ctx, "Auth: could not validate stored token", "error", err)
			if cred.ExpiresAt.IsZero() {
				cred.ExpiresAt = m.clock.Now()
			}
		default:
			cred = withIdentity(cred, info, m.clock.Now())
			m.persist(ctx, cred)
		}
	}

	m.mu.Lock()
	m.cred = cred
	m.state = Authenticated
	m.mu.Unlock()

	slog.InfoContext(ctx, "Auth: credential restored", "login", cred.Login, "expires_at", cred.ExpiresAt)
	return nil
}

// BeginAuthorization starts an authorization attempt and returns the consent
// URL to open. The callback port is bound before returning, so a port
// conflict is reported here and leaves the state untouched. While an attempt
// is pending its URL is returned again.
func (m *Manager) BeginAuthorization(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a := m.attempt; a != nil && !a.finished() {
		return a.url, nil
	}

	session, err := domain.NewAuthorizationSession(m.redirectURI)
	if err != nil {
		return "", err
	}

	attemptCtx, cancel := context.WithCancel(correlation.Start(ctx, correlation.ScopeAuth))
	redirect, err := m.listener.Listen(attemptCtx, session)
	if err != nil {
		cancel()
		metrics.AuthorizationsTotal.WithLabelValues("port_unavailable").Inc()
		return "", err
	}

	a := &attempt{
		url:    m.provider.AuthorizationURL(session.StateNonce),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.attempt = a
	m.state = Authorizing

	slog.InfoContext(attemptCtx, "Auth: waiting for authorization redirect", "redirect_uri", session.RedirectURI)
	go m.awaitRedirect(attemptCtx, redirect, a)

	return a.url, nil
}

func (m *Manager) awaitRedirect(ctx context.Context, redirect Redirect, a *attempt) {
	defer close(a.done)
	defer a.cancel()

	artifact, err := redirect.Wait(ctx)
	if err == nil {
		err = m.CompleteAuthorization(ctx, artifact)
	} else {
		m.mu.Lock()
		m.state = m.restingStateLocked()
		m.mu.Unlock()

		metrics.AuthorizationsTotal.WithLabelValues(attemptOutcome(err)).Inc()
		slog.WarnContext(ctx, "Auth: authorization did not complete", "error", err)
	}

	m.mu.Lock()
	a.err = err
	m.mu.Unlock()
}

func attemptOutcome(err error) string {
	var provErr *callback.ProviderError
	switch {
	case errors.Is(err, domain.ErrTimedOut):
		return "timeout"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	case errors.As(err, &provErr):
		return "denied"
	default:
		return "error"
	}
}

// AwaitAuthorization blocks until the current attempt ends and returns its outcome.
func (m *Manager) AwaitAuthorization(ctx context.Context) error {
	m.mu.Lock()
	a := m.attempt
	m.mu.Unlock()

	if a == nil {
		return errors.New("no authorization attempt")
	}

	select {
	case <-a.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAuthorization aborts a pending attempt and waits until the callback
// port is released.
func (m *Manager) CancelAuthorization() {
	m.mu.Lock()
	a := m.attempt
	m.mu.Unlock()

	if a == nil || a.finished() {
		return
	}
	a.cancel()
	<-a.done
}

// CompleteAuthorization turns a redirect artifact into a stored credential.
// Codes are exchanged at the token endpoint, implicit tokens are used as is;
// either way the token is validated to learn the account and expiry.
func (m *Manager) CompleteAuthorization(ctx context.Context, artifact domain.AuthorizationArtifact) error {
	cred, err := m.credentialFor(ctx, artifact)
	if err != nil {
		m.mu.Lock()
		m.state = m.restingStateLocked()
		m.mu.Unlock()

		metrics.AuthorizationsTotal.WithLabelValues("exchange_failed").Inc()
		slog.WarnContext(ctx, "Auth: exchange failed", "implicit", artifact.IsImplicit(), "error", err)
		return fmt.Errorf("%w: %w", domain.ErrExchangeFailed, err)
	}

	m.mu.Lock()
	m.cred = cred
	m.state = Authenticated
	m.mu.Unlock()

	m.persist(ctx, cred)

	metrics.AuthorizationsTotal.WithLabelValues("success").Inc()
	slog.InfoContext(ctx, "Auth: authorized", "login", cred.Login, "expires_at", cred.ExpiresAt, "refreshable", cred.RefreshToken != "")
	return nil
}

func (m *Manager) credentialFor(ctx context.Context, artifact domain.AuthorizationArtifact) (domain.Credential, error) {
	var cred domain.Credential
	switch {
	case artifact.IsImplicit():
		cred = domain.Credential{AccessToken: artifact.AccessToken, Scopes: strings.Fields(artifact.Scope)}
	case artifact.Code != "":
		exchanged, err := m.provider.Exchange(ctx, artifact.Code)
		if err != nil {
			return domain.Credential{}, err
		}
		cred = exchanged
	default:
		return domain.Credential{}, errors.New("redirect carried neither code nor access token")
	}

	info, err := m.provider.Validate(ctx, cred.AccessToken)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("validate new token: %w", err)
	}
	return withIdentity(cred, info, m.clock.Now()), nil
}

// GetValidToken returns an access token that stays valid for at least the
// safety margin, refreshing it first when needed.
func (m *Manager) GetValidToken(ctx context.Context) (domain.Token, error) {
	m.mu.Lock()
	cred := m.cred
	m.mu.Unlock()

	if !cred.IsAuthenticated() {
		return domain.Token{}, domain.ErrReauthorizationRequired
	}
	if m.usable(cred) {
		return cred.Token(), nil
	}

	// The refresh outlives the caller that triggered it; others may be waiting.
	ch := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Token{}, res.Err
		}
		return res.Val.(domain.Token), nil
	case <-ctx.Done():
		return domain.Token{}, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (domain.Token, error) {
	m.mu.Lock()
	cred := m.cred
	switch {
	case !cred.IsAuthenticated():
		m.mu.Unlock()
		return domain.Token{}, domain.ErrReauthorizationRequired
	case m.usable(cred):
		m.mu.Unlock()
		return cred.Token(), nil
	case !m.expiring(cred):
		// Valid but identity unknown; validating is enough.
		m.mu.Unlock()
		return m.identify(ctx, cred)
	case cred.RefreshToken == "":
		m.clearLocked()
		m.mu.Unlock()
		m.forgetCleared(ctx)

		metrics.TokenRefreshTotal.WithLabelValues("no_refresh_token").Inc()
		slog.InfoContext(ctx, "Auth: access token expired and cannot be refreshed")
		return domain.Token{}, fmt.Errorf("%w: access token expired and no refresh token is available", domain.ErrReauthorizationRequired)
	}
	if m.state == Authenticated {
		m.state = Refreshing
	}
	m.mu.Unlock()

	next, err := m.provider.Refresh(ctx, cred.RefreshToken)
	if err == nil && next.UserID == "" && cred.UserID == "" {
		var info domain.TokenInfo
		if info, err = m.provider.Validate(ctx, next.AccessToken); err == nil {
			next = withIdentity(next, info, m.clock.Now())
		}
	}

	switch {
	case errors.Is(err, domain.ErrTokenRevoked):
		m.mu.Lock()
		if m.cred.AccessToken != cred.AccessToken {
			// Re-authorized meanwhile; the new credential stands.
			current := m.cred
			m.mu.Unlock()
			if current.IsAuthenticated() {
				return current.Token(), nil
			}
			return domain.Token{}, domain.ErrReauthorizationRequired
		}
		m.clearLocked()
		m.mu.Unlock()
		m.forgetCleared(ctx)

		metrics.TokenRefreshTotal.WithLabelValues("revoked").Inc()
		slog.WarnContext(ctx, "Auth: refresh token rejected, reauthorization required", "error", err)
		return domain.Token{}, fmt.Errorf("%w: %w", domain.ErrReauthorizationRequired, err)

	case err != nil:
		m.mu.Lock()
		if m.state == Refreshing {
			m.state = Authenticated
		}
		m.mu.Unlock()

		metrics.TokenRefreshTotal.WithLabelValues("transient").Inc()
		slog.WarnContext(ctx, "Auth: token refresh failed, will retry", "error", err)
		return domain.Token{}, fmt.Errorf("%w: %w", domain.ErrRetryableAuth, err)
	}

	next = mergeIdentity(next, cred)

	m.mu.Lock()
	if m.cred.AccessToken != cred.AccessToken {
		// Logged out or re-authorized meanwhile.
		current := m.cred
		m.mu.Unlock()
		if !current.IsAuthenticated() {
			return domain.Token{}, domain.ErrReauthorizationRequired
		}
		return current.Token(), nil
	}
	m.cred = next
	if m.state == Refreshing {
		m.state = Authenticated
	}
	m.mu.Unlock()

	m.persist(ctx, next)

	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	slog.InfoContext(ctx, "Auth: token refreshed", "expires_at", next.ExpiresAt)
	return next.Token(), nil
}

func (m *Manager) identify(ctx context.Context, cred domain.Credential) (domain.Token, error) {
	info, err := m.provider.Validate(ctx, cred.AccessToken)
	if errors.Is(err, domain.ErrTokenRejected) {
		m.RejectToken(cred.AccessToken)
		return domain.Token{}, fmt.Errorf("%w: %w", domain.ErrRetryableAuth, err)
	}
	if err != nil {
		return domain.Token{}, fmt.Errorf("%w: %w", domain.ErrRetryableAuth, err)
	}

	cred = withIdentity(cred, info, m.clock.Now())

	m.mu.Lock()
	current := m.cred.AccessToken == cred.AccessToken
	if current {
		m.cred = cred
	}
	m.mu.Unlock()

	if current {
		m.persist(ctx, cred)
	}
	return cred.Token(), nil
}

// RejectToken marks accessToken as unusable after the API refused it, so the
// next GetValidToken refreshes. Stale tokens are ignored.
func (m *Manager) RejectToken(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accessToken == "" || m.cred.AccessToken != accessToken {
		return
	}
	m.cred.ExpiresAt = m.clock.Now()
	slog.Info("Auth: access token rejected by the API, forcing refresh")
}

// Logout cancels any pending authorization, forgets the credential and
// clears it from the store.
func (m *Manager) Logout(ctx context.Context) error {
	m.CancelAuthorization()

	m.mu.Lock()
	m.clearLocked()
	m.mu.Unlock()

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	slog.InfoContext(ctx, "Auth: logged out")
	return nil
}

func (m *Manager) usable(cred domain.Credential) bool {
	return cred.UserID != "" && !m.expiring(cred)
}

func (m *Manager) expiring(cred domain.Credential) bool {
	return !m.clock.Now().Add(m.margin).Before(cred.ExpiresAt)
}

// restingStateLocked is the state after an attempt ends without a new credential.
func (m *Manager) restingStateLocked() State {
	if m.cred.IsAuthenticated() {
		return Authenticated
	}
	return Unauthenticated
}

func (m *Manager) clearLocked() {
	m.cred = domain.Credential{}
	m.state = Unauthenticated
}

func (m *Manager) persist(ctx context.Context, cred domain.Credential) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.store.Save(ctx, cred); err != nil {
		slog.WarnContext(ctx, "Auth: failed to persist credential", "error", err)
	}
}

// forgetCleared removes the stored credential unless a new one was adopted
// in memory after it was cleared. New credentials are set in memory before
// they are persisted, so checking under persistMu keeps the newer one on disk.
func (m *Manager) forgetCleared(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	replaced := m.cred.IsAuthenticated()
	m.mu.Unlock()
	if replaced {
		slog.DebugContext(ctx, "Auth: credential replaced meanwhile, keeping stored copy")
		return
	}

	if err := m.store.Clear(ctx); err != nil {
		slog.WarnContext(ctx, "Auth: failed to clear stored credential", "error", err)
	}
}

func withIdentity(cred domain.Credential, info domain.TokenInfo, now time.Time) domain.Credential {
	cred.UserID = info.UserID
	cred.Login = info.Login
	if len(info.Scopes) > 0 {
		cred.Scopes = info.Scopes
	}
	if info.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(info.ExpiresIn)
	} else if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = now
	}
	return cred
}

func mergeIdentity(next, prev domain.Credential) domain.Credential {
	if next.UserID == "" {
		next.UserID = prev.UserID
		next.Login = prev.Login
	}
	if len(next.Scopes) == 0 {
		next.Scopes = prev.Scopes
	}
	return next
}
