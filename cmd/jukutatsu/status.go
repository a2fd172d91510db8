package main

import (
	"context"
	"fmt"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store, replication and link graph health",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		snap := a.Store().Snapshot()
		health := a.Store().Health()
		violations := journal.CheckSymmetry(snap.Insights)
		cfg := a.Config()

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"owner":           snap.Owner,
				"installation_id": snap.InstallationID,
				"local_driver":    cfg.Local.Driver,
				"remote_driver":   cfg.Remote.Driver,
				"themes":          len(snap.Themes),
				"insights":        len(snap.Insights),
				"health":          health,
				"outbox":          snap.Outbox,
				"link_violations": violations,
			})
		}

		w := newTabWriter(cmd.OutOrStdout())
		owner := "-"
		if snap.Owner.Established() {
			owner = fmt.Sprintf("%s (%s)", snap.Owner.Name, snap.Owner.ID)
		}
		fmt.Fprintf(w, "Owner:\t%s\n", owner)
		fmt.Fprintf(w, "Installation:\t%s\n", snap.InstallationID)
		fmt.Fprintf(w, "Local store:\t%s (%s)\n", cfg.Local.Driver, okOrError(health))
		fmt.Fprintf(w, "Remote:\t%s\n", cfg.Remote.Driver)
		fmt.Fprintf(w, "Themes:\t%d\n", len(snap.Themes))
		fmt.Fprintf(w, "Insights:\t%d\n", len(snap.Insights))
		fmt.Fprintf(w, "Pending changes:\t%d (%d stalled)\n", health.Pending, health.Stalled)
		fmt.Fprintf(w, "Link graph:\t%s\n", symmetryLabel(violations))
		if err := w.Flush(); err != nil {
			return err
		}

		if len(snap.Outbox) == 0 {
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout())
		w = newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "CHANGE\tKIND\tOP\tENTITY\tATTEMPTS\tLAST ERROR")
		for _, ch := range snap.Outbox {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				ch.ID, ch.Kind, ch.Op, ch.EntityID, ch.Attempts, orDash(ch.LastError))
		}
		return w.Flush()
	})
}

func okOrError(h journal.Health) string {
	if h.LocalOK {
		return "ok"
	}
	return "error: " + h.LastError
}

func symmetryLabel(v []journal.LinkViolation) string {
	if len(v) == 0 {
		return "symmetric"
	}
	return fmt.Sprintf("%d asymmetric link(s)", len(v))
}
