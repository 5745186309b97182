package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fldc/twitch-indicator/internal/auth"
	"github.com/fldc/twitch-indicator/internal/desktop"
	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/metrics"
	"github.com/fldc/twitch-indicator/internal/notify"
	"github.com/fldc/twitch-indicator/internal/poller"
)

// Authenticator is the part of the token manager the indicator drives.
type Authenticator interface {
	Restore(ctx context.Context) error
	BeginAuthorization(ctx context.Context) (string, error)
	AwaitAuthorization(ctx context.Context) error
	Status() auth.Status
}

type LivePoller interface {
	Run(ctx context.Context, handler poller.Handler)
	RefreshNow() bool
}

type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.NotificationEvent) notify.Summary
}

type Options struct {
	// MetricsAddr starts the Prometheus listener when set.
	MetricsAddr string
}

// Indicator is the desktop application: authorization, polling, notifications
// and tray updates.
type Indicator struct {
	auth       Authenticator
	poller     LivePoller
	dispatcher Dispatcher
	tray       domain.Tray
	browser    domain.BrowserOpener
	opts       Options

	// authenticated is set while a credential is believed usable: after a
	// restore that found one, a completed authorization or a successful poll.
	// Losing it triggers one automatic reauthorization.
	authenticated atomic.Bool
	authorizing   atomic.Bool
	wg            sync.WaitGroup
}

func NewIndicator(a Authenticator, p LivePoller, d Dispatcher, tray domain.Tray, browser domain.BrowserOpener, opts Options) *Indicator {
	return &Indicator{
		auth:       a,
		poller:     p,
		dispatcher: d,
		tray:       tray,
		browser:    browser,
		opts:       opts,
	}
}

// Run blocks until ctx is cancelled. It fails early only when the credential
// cannot be loaded or the first authorization cannot start.
func (i *Indicator) Run(ctx context.Context) error {
	defer i.wg.Wait()

	if err := i.auth.Restore(ctx); err != nil {
		return err
	}

	if i.opts.MetricsAddr != "" {
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			if err := metrics.Serve(ctx, i.opts.MetricsAddr); err != nil {
				slog.ErrorContext(ctx, "Metrics listener failed", "error", err)
			}
		}()
	}

	i.updateStatus(ctx, 0)

	if st := i.auth.Status(); st.State == auth.Unauthenticated {
		if err := i.authorize(ctx); err != nil {
			return err
		}
	} else {
		i.authenticated.Store(true)
	}

	i.poller.Run(ctx, i.handle)
	return nil
}

// authorize starts an attempt, opens the consent page and completes the
// attempt in the background. Only one attempt runs at a time.
func (i *Indicator) authorize(ctx context.Context) error {
	if !i.authorizing.CompareAndSwap(false, true) {
		return nil
	}

	url, err := i.auth.BeginAuthorization(ctx)
	if err != nil {
		i.authorizing.Store(false)
		return err
	}

	if err := i.browser.OpenURL(url); err != nil {
		slog.WarnContext(ctx, "Could not open browser, open this URL to authorize", "url", url, "error", err)
	} else {
		slog.InfoContext(ctx, "Opened browser for authorization")
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer i.authorizing.Store(false)

		if err := i.auth.AwaitAuthorization(ctx); err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "Authorization failed", "error", err)
			}
			i.updateStatus(ctx, 0)
			return
		}

		i.authenticated.Store(true)
		i.updateStatus(ctx, 0)
		i.poller.RefreshNow()
	}()
	return nil
}

func (i *Indicator) handle(ctx context.Context, res poller.Result, err error) {
	if err != nil {
		i.handleError(ctx, err)
		return
	}

	i.authenticated.Store(true)

	summary := i.dispatcher.Dispatch(ctx, res.Events)
	live := res.Snapshot.Live()
	i.tray.SetLive(ctx, live)
	i.updateStatus(ctx, len(live))

	if len(res.Events) > 0 {
		slog.DebugContext(ctx, "Dispatched transitions",
			"notified", summary.Notified,
			"offline", summary.Offline,
			"failed", summary.Failed,
			"suppressed", summary.Suppressed,
		)
	}
}

func (i *Indicator) handleError(ctx context.Context, err error) {
	if !errors.Is(err, domain.ErrReauthorizationRequired) {
		slog.WarnContext(ctx, "Poll failed, retrying on next tick", "error", err)
		return
	}

	if !i.authenticated.Swap(false) {
		slog.DebugContext(ctx, "Waiting for authorization")
		return
	}

	slog.InfoContext(ctx, "Credential lost, reauthorizing", "error", err)
	i.tray.SetLive(ctx, nil)
	i.updateStatus(ctx, 0)
	if err := i.authorize(ctx); err != nil {
		slog.ErrorContext(ctx, "Cannot start reauthorization", "error", err)
	}
}

func (i *Indicator) updateStatus(ctx context.Context, liveCount int) {
	st := i.auth.Status()
	signedIn := st.State == auth.Authenticated || st.State == auth.Refreshing
	i.tray.SetStatus(ctx, desktop.Tooltip(st.Login, liveCount, signedIn))
}
