package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	insightTheme string
	insightAll   bool
)

var insightCmd = &cobra.Command{
	Use:   "insight",
	Short: "Record, edit, link and list insights",
}

var insightAddCmd = &cobra.Command{
	Use:   "add <body>",
	Short: "Record an insight under the selected theme",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsightAdd,
}

var insightEditCmd = &cobra.Command{
	Use:   "edit <insight-id> <body>",
	Short: "Replace an insight's text",
	Args:  cobra.ExactArgs(2),
	RunE:  runInsightEdit,
}

var insightDeleteCmd = &cobra.Command{
	Use:   "delete <insight-id>",
	Short: "Delete an insight and its links",
	Args:  cobra.ExactArgs(1),
	RunE:  runInsightDelete,
}

var insightLinkCmd = &cobra.Command{
	Use:   "link <insight-id> <insight-id>",
	Short: "Link two insights",
	Args:  cobra.ExactArgs(2),
	RunE:  runInsightLink,
}

var insightListCmd = &cobra.Command{
	Use:   "list",
	Short: "List insights of the selected theme",
	Args:  cobra.NoArgs,
	RunE:  runInsightList,
}

func init() {
	insightAddCmd.Flags().StringVar(&insightTheme, "theme", "", "Theme id (defaults to the selected theme)")
	insightListCmd.Flags().StringVar(&insightTheme, "theme", "", "Theme id (defaults to the selected theme)")
	insightListCmd.Flags().BoolVar(&insightAll, "all", false, "List insights of every theme")

	insightCmd.AddCommand(insightAddCmd)
	insightCmd.AddCommand(insightEditCmd)
	insightCmd.AddCommand(insightDeleteCmd)
	insightCmd.AddCommand(insightLinkCmd)
	insightCmd.AddCommand(insightListCmd)
}

func runInsightAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		th, err := selectedTheme(a.Store().Snapshot(), insightTheme)
		if err != nil {
			return err
		}
		snap, out := a.Store().Apply(journal.CreateInsight{OwnerID: id, ThemeID: th.ID, Body: args[0]})
		if err := applied(cmd.OutOrStdout(), snap, out, "add insight"); err != nil {
			return err
		}
		ins, _ := snap.Insight(out.EntityID)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ins)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded insight %s under %q\n", ins.ID, th.Name)
		return nil
	})
}

func runInsightEdit(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		snap, out := a.Store().Apply(journal.UpdateInsightBody{OwnerID: id, InsightID: args[0], Body: args[1]})
		if err := applied(cmd.OutOrStdout(), snap, out, "edit insight"); err != nil {
			return err
		}
		ins, _ := snap.Insight(args[0])
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ins)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated insight %s\n", ins.ID)
		return nil
	})
}

func runInsightDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		snap, out := a.Store().Apply(journal.DeleteInsight{OwnerID: id, InsightID: args[0]})
		if err := applied(cmd.OutOrStdout(), snap, out, "delete insight"); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": args[0]})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted insight %s\n", args[0])
		return nil
	})
}

func runInsightLink(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		snap, out := a.Store().Apply(journal.LinkInsights{OwnerID: id, A: args[0], B: args[1]})
		if err := applied(cmd.OutOrStdout(), snap, out, "link insights"); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"linked": []string{args[0], args[1]}})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked %s <-> %s\n", args[0], args[1])
		return nil
	})
}

func runInsightList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		snap := a.Store().Snapshot()

		insights := snap.Insights
		if !insightAll {
			th, err := selectedTheme(snap, insightTheme)
			if err != nil {
				return err
			}
			insights = snap.InsightsForTheme(th.ID)
		}

		if jsonOutput {
			items := make([]map[string]any, len(insights))
			for i, ins := range insights {
				items[i] = map[string]any{
					"id":         ins.ID,
					"theme_id":   ins.ThemeID,
					"body":       ins.Body,
					"session_id": ins.SessionID,
					"links":      ins.LinkedToIDs,
					"degree":     len(ins.LinkedToIDs),
					"created_at": ins.CreatedAt,
					"pending":    snap.IsPending(journal.KindInsight, ins.ID),
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"insights": items,
				"total":    len(items),
			})
		}

		if len(insights) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No insights yet.")
			return nil
		}
		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tCREATED\tLINKS\tBODY")
		for _, ins := range insights {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				ins.ID,
				ins.CreatedAt.Local().Format("2006-01-02 15:04"),
				len(ins.LinkedToIDs),
				truncate(ins.Body, 60),
			)
		}
		return w.Flush()
	})
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
