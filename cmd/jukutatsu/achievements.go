package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/spf13/cobra"
)

var achievementsCmd = &cobra.Command{
	Use:   "achievements",
	Short: "Show the achievement catalog",
	Args:  cobra.NoArgs,
	RunE:  runAchievements,
}

func runAchievements(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		catalog := a.Store().Snapshot().Achievements

		if jsonOutput {
			unlocked := 0
			for _, ach := range catalog {
				if ach.Unlocked() {
					unlocked++
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"achievements": catalog,
				"unlocked":     unlocked,
				"total":        len(catalog),
			})
		}

		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tTITLE\tUNLOCKED\tDESCRIPTION")
		for _, ach := range catalog {
			when := "-"
			if ach.Unlocked() {
				when = ach.UnlockedAt.Local().Format(time.DateOnly)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ach.ID, ach.Title, when, ach.Description)
		}
		return w.Flush()
	})
}
