package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/spf13/cobra"
)

// reviewWindow is how far back the weekly review looks.
const reviewWindow = 7 * 24 * time.Hour

var reviewTheme string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review the insights recorded in the last 7 days",
	Args:  cobra.NoArgs,
	RunE:  runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewTheme, "theme", "", "Theme id (defaults to the selected theme)")
}

func runReview(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		snap := a.Store().Snapshot()
		th, err := selectedTheme(snap, reviewTheme)
		if err != nil {
			return err
		}
		since := time.Now().Add(-reviewWindow)
		recent := snap.RecentInsights(th.ID, since)

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"theme":    th,
				"since":    since.UTC(),
				"insights": recent,
				"total":    len(recent),
			})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Weekly review: %s\n", th.Name)
		if th.Goal != "" {
			fmt.Fprintf(out, "Goal: %s\n", th.Goal)
		}
		if len(recent) == 0 {
			fmt.Fprintln(out, "No insights this week.")
			return nil
		}
		fmt.Fprintf(out, "%d insight(s) this week:\n", len(recent))
		for _, ins := range recent {
			fmt.Fprintf(out, "  %s  %s\n", ins.CreatedAt.Local().Format("Mon Jan 2"), ins.Body)
		}
		return nil
	})
}
