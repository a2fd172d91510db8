package main

import (
	"context"
	"fmt"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/spf13/cobra"
)

var themeGoal string

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Manage themes",
	Long:  "Create, list, select and set goals for the themes insights are recorded under.",
}

var themeCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a theme and select it",
	Args:  cobra.ExactArgs(1),
	RunE:  runThemeCreate,
}

var themeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List themes",
	Args:  cobra.NoArgs,
	RunE:  runThemeList,
}

var themeSelectCmd = &cobra.Command{
	Use:   "select <theme-id>",
	Short: "Select the theme to chat and record insights under",
	Args:  cobra.ExactArgs(1),
	RunE:  runThemeSelect,
}

var themeGoalCmd = &cobra.Command{
	Use:   "goal <theme-id> <goal>",
	Short: "Set a theme's goal",
	Args:  cobra.ExactArgs(2),
	RunE:  runThemeGoal,
}

func init() {
	themeCreateCmd.Flags().StringVar(&themeGoal, "goal", "", "What you want to achieve in this theme")

	themeCmd.AddCommand(themeCreateCmd)
	themeCmd.AddCommand(themeListCmd)
	themeCmd.AddCommand(themeSelectCmd)
	themeCmd.AddCommand(themeGoalCmd)
}

func runThemeCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		snap, out := a.Store().Apply(journal.CreateTheme{OwnerID: id, Name: args[0], Goal: themeGoal})
		if err := applied(cmd.OutOrStdout(), snap, out, "create theme"); err != nil {
			return err
		}
		th, _ := snap.Theme(out.EntityID)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), th)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created theme %q (%s)\n", th.Name, th.ID)
		return nil
	})
}

func runThemeList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		snap := a.Store().Snapshot()

		if jsonOutput {
			items := make([]map[string]any, len(snap.Themes))
			for i, th := range snap.Themes {
				items[i] = map[string]any{
					"id":       th.ID,
					"name":     th.Name,
					"goal":     th.Goal,
					"insights": len(snap.InsightsForTheme(th.ID)),
					"selected": th.ID == snap.SelectedThemeID,
					"pending":  snap.IsPending(journal.KindTheme, th.ID),
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"themes": items,
				"total":  len(items),
			})
		}

		if len(snap.Themes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No themes yet.")
			return nil
		}
		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "\tID\tNAME\tINSIGHTS\tGOAL")
		for _, th := range snap.Themes {
			marker := ""
			if th.ID == snap.SelectedThemeID {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				marker, th.ID, th.Name, len(snap.InsightsForTheme(th.ID)), orDash(th.Goal))
		}
		return w.Flush()
	})
}

func runThemeSelect(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		snap, out := a.Store().Apply(journal.SelectTheme{OwnerID: id, ThemeID: args[0]})
		if err := applied(cmd.OutOrStdout(), snap, out, "select theme"); err != nil {
			return err
		}
		th, _ := snap.CurrentTheme()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), th)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Selected theme %q\n", th.Name)
		return nil
	})
}

func runThemeGoal(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		snap, out := a.Store().Apply(journal.UpdateThemeGoal{OwnerID: id, ThemeID: args[0], Goal: args[1]})
		if err := applied(cmd.OutOrStdout(), snap, out, "set goal"); err != nil {
			return err
		}
		th, _ := snap.Theme(args[0])
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), th)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Goal for %q set to %q\n", th.Name, th.Goal)
		return nil
	})
}
