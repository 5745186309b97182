package main

import (
	"context"
	"os"

	"github.com/fldc/twitch-indicator/internal/app"
	"github.com/fldc/twitch-indicator/internal/desktop"
	"github.com/fldc/twitch-indicator/internal/platform/config"
	"github.com/fldc/twitch-indicator/internal/platform/logging"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	debug      bool
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "twitch-indicator",
		Short: "Desktop notifications when followed Twitch channels go live",
		Long: `Polls the channels you follow on Twitch and notifies you when one of them
goes live. The first run opens your browser to authorize the application.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndicator(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/twitch-indicator/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json (overrides the config file)")

	cmd.AddCommand(newAuthCommand(opts))
	cmd.AddCommand(newStreamsCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (o *rootOptions) path() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.DefaultPath()
}

// load reads the configuration and reinitializes logging from it.
func (o *rootOptions) load() (*config.Config, string, error) {
	path, err := o.path()
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if o.debug {
		level = "debug"
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	logging.InitLogger(os.Stderr, level, format)

	return cfg, path, nil
}

func (o *rootOptions) build() (*app.Components, error) {
	cfg, path, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.Build(cfg, path, desktop.NewNotifySend(cfg.NotificationTimeout()), clockwork.NewRealClock())
}

func runIndicator(ctx context.Context, opts *rootOptions) error {
	c, err := opts.build()
	if err != nil {
		return err
	}
	return c.Indicator(desktop.NewConsoleTray(), desktop.NewBrowser()).Run(ctx)
}
