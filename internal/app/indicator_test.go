package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fldc/twitch-indicator/internal/auth"
	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/notify"
	"github.com/fldc/twitch-indicator/internal/platform/config"
	"github.com/fldc/twitch-indicator/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockAuth struct {
	mu         sync.Mutex
	status     auth.Status
	restoreErr error
	beginErr   error
	awaitFn    func(ctx context.Context) error
	begins     int
}

func (m *mockAuth) Restore(_ context.Context) error { return m.restoreErr }

func (m *mockAuth) BeginAuthorization(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	if m.beginErr != nil {
		return "", m.beginErr
	}
	return "https://id.example/authorize?state=n", nil
}

func (m *mockAuth) AwaitAuthorization(ctx context.Context) error {
	if m.awaitFn != nil {
		return m.awaitFn(ctx)
	}
	m.setStatus(auth.Status{State: auth.Authenticated, Login: "viewer"})
	return nil
}

func (m *mockAuth) Status() auth.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockAuth) setStatus(s auth.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

func (m *mockAuth) beginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begins
}

type mockPoller struct {
	runFn     func(ctx context.Context, handler poller.Handler)
	refreshes atomic.Int32
}

func (m *mockPoller) Run(ctx context.Context, handler poller.Handler) {
	if m.runFn != nil {
		m.runFn(ctx, handler)
	}
}

func (m *mockPoller) RefreshNow() bool {
	m.refreshes.Add(1)
	return true
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (m *mockDispatcher) Dispatch(_ context.Context, events []domain.NotificationEvent) notify.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return notify.Summary{Notified: len(events)}
}

type mockTray struct {
	mu       sync.Mutex
	live     []domain.ChannelStatus
	tooltips []string
}

func (m *mockTray) SetLive(_ context.Context, live []domain.ChannelStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = live
}

func (m *mockTray) SetStatus(_ context.Context, tooltip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tooltips = append(m.tooltips, tooltip)
}

func (m *mockTray) lastTooltip() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tooltips) == 0 {
		return ""
	}
	return m.tooltips[len(m.tooltips)-1]
}

type mockBrowser struct {
	opened atomic.Int32
	err    error
}

func (m *mockBrowser) OpenURL(_ string) error {
	m.opened.Add(1)
	return m.err
}

type fixture struct {
	auth       *mockAuth
	poller     *mockPoller
	dispatcher *mockDispatcher
	tray       *mockTray
	browser    *mockBrowser
	indicator  *Indicator
}

func newFixture(status auth.Status) *fixture {
	f := &fixture{
		auth:       &mockAuth{status: status},
		poller:     &mockPoller{},
		dispatcher: &mockDispatcher{},
		tray:       &mockTray{},
		browser:    &mockBrowser{},
	}
	f.indicator = NewIndicator(f.auth, f.poller, f.dispatcher, f.tray, f.browser, Options{})
	return f
}

func snapshot(statuses ...domain.ChannelStatus) domain.Snapshot {
	return domain.NewSnapshot(time.Now(), statuses)
}

// --- Tests ---

func TestRun_AuthenticatedSkipsAuthorization(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Authenticated, Login: "viewer"})
	ran := false
	f.poller.runFn = func(context.Context, poller.Handler) { ran = true }

	require.NoError(t, f.indicator.Run(context.Background()))

	assert.True(t, ran)
	assert.Zero(t, f.auth.beginCount())
	assert.Equal(t, "Twitch Indicator - viewer (0 live streams)", f.tray.lastTooltip())
}

func TestRun_UnauthenticatedAuthorizesAndPollsAfterwards(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Unauthenticated})
	f.poller.runFn = func(ctx context.Context, _ poller.Handler) { <-ctx.Done() }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.indicator.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.poller.refreshes.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.auth.beginCount())
	assert.Equal(t, int32(1), f.browser.opened.Load())
	assert.Equal(t, "Twitch Indicator - viewer (0 live streams)", f.tray.lastTooltip())

	cancel()
	require.NoError(t, <-done)
}

func TestRun_PortUnavailableFailsFast(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Unauthenticated})
	f.auth.beginErr = fmt.Errorf("%w: 127.0.0.1:17563", domain.ErrPortUnavailable)
	f.poller.runFn = func(context.Context, poller.Handler) { t.Error("poller must not start") }

	err := f.indicator.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrPortUnavailable)
}

func TestRun_RestoreFailure(t *testing.T) {
	f := newFixture(auth.Status{})
	f.auth.restoreErr = errors.New("stored tokens are encrypted but TOKEN_ENCRYPTION_KEY is not set")

	assert.Error(t, f.indicator.Run(context.Background()))
}

func TestRun_BrowserFailureStillWaitsForRedirect(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Unauthenticated})
	f.browser.err = errors.New("exec: \"xdg-open\": executable file not found in $PATH")

	require.NoError(t, f.indicator.Run(context.Background()))

	assert.Equal(t, int32(1), f.poller.refreshes.Load())
}

func TestRun_RestoredDeadCredentialReauthorizes(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Authenticated, Login: "viewer"})
	f.auth.awaitFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	dead := fmt.Errorf("%w: %w", domain.ErrPoll, domain.ErrReauthorizationRequired)
	f.poller.runFn = func(ctx context.Context, handler poller.Handler) {
		f.auth.setStatus(auth.Status{State: auth.Unauthenticated})
		handler(ctx, poller.Result{}, dead)
		handler(ctx, poller.Result{}, dead)
		<-ctx.Done()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.indicator.Run(ctx) }()

	assert.Eventually(t, func() bool { return f.auth.beginCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.auth.beginCount())
	assert.Equal(t, int32(1), f.browser.opened.Load())
}

func TestHandle_DispatchesAndUpdatesTray(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Authenticated, Login: "viewer"})
	live := domain.ChannelStatus{ChannelID: "1", Login: "alpha", Live: true, ViewerCount: 10}
	res := poller.Result{
		Snapshot: snapshot(live, domain.ChannelStatus{ChannelID: "2", Login: "bravo"}),
		Events:   []domain.NotificationEvent{{ChannelID: "1", Transition: domain.WentLive, Channel: live}},
	}

	f.indicator.handle(context.Background(), res, nil)

	assert.Len(t, f.dispatcher.events, 1)
	assert.Equal(t, []domain.ChannelStatus{live}, f.tray.live)
	assert.Equal(t, "Twitch Indicator - viewer (1 live streams)", f.tray.lastTooltip())
}

func TestHandle_ReauthorizesOnceAfterLosingCredential(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Authenticated, Login: "viewer"})
	release := make(chan struct{})
	f.auth.awaitFn = func(ctx context.Context) error {
		<-release
		return nil
	}
	ctx := context.Background()
	lost := fmt.Errorf("%w: %w", domain.ErrPoll, domain.ErrReauthorizationRequired)

	f.indicator.handle(ctx, poller.Result{Snapshot: snapshot()}, nil)
	f.auth.setStatus(auth.Status{State: auth.Unauthenticated})

	f.indicator.handle(ctx, poller.Result{}, lost)
	f.indicator.handle(ctx, poller.Result{}, lost)

	assert.Equal(t, 1, f.auth.beginCount())
	assert.Equal(t, "Twitch Indicator - Not authenticated", f.tray.lastTooltip())

	close(release)
	f.indicator.wg.Wait()
	assert.Equal(t, int32(1), f.poller.refreshes.Load())
}

func TestHandle_TransientErrorKeepsState(t *testing.T) {
	f := newFixture(auth.Status{State: auth.Authenticated, Login: "viewer"})

	f.indicator.handle(context.Background(), poller.Result{}, fmt.Errorf("%w: followed channels: timeout", domain.ErrPoll))

	assert.Zero(t, f.auth.beginCount())
	assert.Nil(t, f.tray.live)
	assert.Empty(t, f.tray.tooltips)
}

func TestBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	require.NoError(t, config.WriteFile(path, cfg))

	c, err := Build(cfg, path, nil, nil)
	require.NoError(t, err)

	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.Poller)
	assert.Equal(t, auth.Unauthenticated, c.Auth.State())

	require.NoError(t, c.Auth.Restore(context.Background()))
	_, err = c.Auth.GetValidToken(context.Background())
	assert.ErrorIs(t, err, domain.ErrReauthorizationRequired)
	assert.NotNil(t, c.Indicator(&mockTray{}, &mockBrowser{}))
}

func TestBuild_RejectsBadEncryptionKey(t *testing.T) {
	cfg := config.Default()
	cfg.TokenEncryptionKey = "abcd"

	_, err := Build(cfg, filepath.Join(t.TempDir(), "config.yaml"), nil, nil)
	assert.Error(t, err)
}
