package app

import (
	"fmt"

	"github.com/fldc/twitch-indicator/internal/auth"
	"github.com/fldc/twitch-indicator/internal/callback"
	"github.com/fldc/twitch-indicator/internal/credential"
	"github.com/fldc/twitch-indicator/internal/crypto"
	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/notify"
	"github.com/fldc/twitch-indicator/internal/platform/config"
	"github.com/fldc/twitch-indicator/internal/poller"
	"github.com/fldc/twitch-indicator/internal/twitch"
	"github.com/jonboulle/clockwork"
)

// Components are the concrete building blocks assembled from a configuration.
type Components struct {
	Config     *config.Config
	Store      *credential.FileStore
	OAuth      *twitch.OAuthClient
	Helix      *twitch.HelixClient
	Auth       *auth.Manager
	Poller     *poller.Poller
	Dispatcher *notify.Dispatcher
}

// Build assembles the components for the configuration stored at path.
func Build(cfg *config.Config, path string, notifier domain.Notifier, clock clockwork.Clock) (*Components, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cryptoSvc, err := crypto.New(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token encryption: %w", err)
	}
	store := credential.NewFileStore(path, cryptoSvc)

	flow := cfg.EffectiveFlow()
	oauth := twitch.NewOAuthClient(twitch.OAuthOptions{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.Twitch.RedirectURI,
		Scopes:       cfg.Twitch.Scopes,
		Implicit:     flow == config.FlowImplicit,
	})

	helix, err := twitch.NewHelixClient(twitch.HelixOptions{ClientID: cfg.Twitch.ClientID})
	if err != nil {
		return nil, err
	}

	listener := callback.NewListener(cfg.AuthTimeout(), callback.WithClock(clock))
	manager := auth.NewManager(oauth, auth.CallbackListener(listener), store, auth.Options{
		RedirectURI: cfg.Twitch.RedirectURI,
		Clock:       clock,
	})

	p := poller.New(helix, manager, poller.Options{
		Interval: cfg.RefreshInterval(),
		Clock:    clock,
	})

	dispatcher := notify.NewDispatcher(notifier, notify.Options{
		Enabled:         cfg.Notifications.Enabled,
		ShowGame:        cfg.Notifications.ShowGame,
		ShowViewerCount: cfg.Notifications.ShowViewerCount,
	})

	return &Components{
		Config:     cfg,
		Store:      store,
		OAuth:      oauth,
		Helix:      helix,
		Auth:       manager,
		Poller:     p,
		Dispatcher: dispatcher,
	}, nil
}

// Indicator returns the run loop over these components.
func (c *Components) Indicator(tray domain.Tray, browser domain.BrowserOpener) *Indicator {
	return NewIndicator(c.Auth, c.Poller, c.Dispatcher, tray, browser, Options{
		MetricsAddr: c.Config.Metrics.Addr,
	})
}
