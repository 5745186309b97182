package main

import (
	"fmt"
	"time"

	"github.com/fldc/twitch-indicator/internal/auth"
	"github.com/fldc/twitch-indicator/internal/desktop"
	"github.com/spf13/cobra"
)

func newAuthCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
		Long:  `Manage the Twitch authorization of the indicator`,
	}

	cmd.AddCommand(newAuthLoginCommand(opts))
	cmd.AddCommand(newAuthLogoutCommand(opts))
	cmd.AddCommand(newAuthStatusCommand(opts))

	return cmd
}

func newAuthLoginCommand(opts *rootOptions) *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize with Twitch",
		Long: `Opens the Twitch consent page and waits for the redirect on the local
callback port. Use --no-browser to print the URL instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if err := c.Auth.Restore(ctx); err != nil {
				return err
			}

			url, err := c.Auth.BeginAuthorization(ctx)
			if err != nil {
				return err
			}

			opened := false
			if !noBrowser {
				opened = desktop.NewBrowser().OpenURL(url) == nil
			}
			if !opened {
				fmt.Fprintf(out, "Open this URL in your browser to authorize:\n\n  %s\n\n", url)
			}
			fmt.Fprintf(out, "Waiting for authorization (timeout %s)...\n", c.Config.AuthTimeout())

			if err := c.Auth.AwaitAuthorization(ctx); err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}

			fmt.Fprintf(out, "Logged in as %s\n", c.Auth.Status().Login)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	return cmd
}

func newAuthLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.build()
			if err != nil {
				return err
			}
			if err := c.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newAuthStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.build()
			if err != nil {
				return err
			}
			if err := c.Auth.Restore(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			st := c.Auth.Status()
			if st.State == auth.Unauthenticated {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}

			fmt.Fprintf(out, "Logged in as: %s\n", st.Login)
			fmt.Fprintf(out, "User ID: %s\n", st.UserID)
			fmt.Fprintf(out, "Flow: %s\n", c.Config.EffectiveFlow())
			if remaining := time.Until(st.ExpiresAt); remaining > 0 {
				fmt.Fprintf(out, "Token expires: %s (in %s)\n", st.ExpiresAt.Local().Format(time.RFC1123), remaining.Round(time.Minute))
			} else {
				fmt.Fprintln(out, "Token expired")
			}
			fmt.Fprintf(out, "Refreshable: %t\n", st.CanRefresh)
			return nil
		},
	}
}
