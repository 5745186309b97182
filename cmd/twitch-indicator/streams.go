package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fldc/twitch-indicator/internal/notify"
	"github.com/spf13/cobra"
)

func newStreamsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "Poll once and list the live followed channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if err := c.Auth.Restore(ctx); err != nil {
				return err
			}

			res, err := c.Poller.Cycle(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			live := res.Snapshot.Live()
			if len(live) == 0 {
				fmt.Fprintf(out, "None of your %d followed channels is live\n", res.Snapshot.Len())
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tVIEWERS\tUPTIME\tGAME\tTITLE")
			for _, ch := range live {
				uptime := ""
				if !ch.StartedAt.IsZero() {
					uptime = time.Since(ch.StartedAt).Round(time.Minute).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ch.Name(), notify.FormatViewerCount(ch.ViewerCount), uptime, ch.Game, ch.Title)
			}
			return w.Flush()
		},
	}
}
