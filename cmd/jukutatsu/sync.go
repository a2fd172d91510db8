package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/internal/config"
	"github.com/hyperengineering/jukutatsu/internal/worker"
	"github.com/spf13/cobra"
)

var syncWatch bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay pending changes and pull from the remote store",
	Long: `Replays every pending change to the remote store and then merges the
remote themes and insights into the local journal. With --watch the retry and
resync workers keep running until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "Keep syncing in the background until interrupted")
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncWatch {
		return runSyncWatch(cmd)
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if !a.Online() {
			return fmt.Errorf("sync: remote driver is %q", config.RemoteNone)
		}
		if _, err := ownerID(a); err != nil {
			return err
		}
		// Let the boot resync finish before replaying.
		if err := a.Settle(ctx); err != nil {
			return err
		}

		rc := a.Config().Replication
		retry := worker.NewReplicationRetryWorker(a.Store(), rc.RetryInterval.Std(), rc.MaxAttempts, rc.BatchSize)
		replayed := retry.RunOnce(ctx)

		stats, err := a.Store().Resync(ctx)
		if err != nil {
			return err
		}
		health := a.Store().Health()

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"replay": replayed,
				"resync": stats,
				"health": health,
			})
		}
		total := stats.Total()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Replayed %d change(s), %d failed, %d stalled\n", replayed.Replayed, replayed.Failed, replayed.Stalled)
		fmt.Fprintf(out, "Pulled %d record(s): %d added, %d replaced, %d kept\n", total.Pulled, total.Added, total.Replaced, total.Kept)
		if stats.LinksRepaired > 0 {
			fmt.Fprintf(out, "Repaired %d link(s)\n", stats.LinksRepaired)
		}
		fmt.Fprintf(out, "%d change(s) still pending\n", health.Pending)
		return nil
	})
}

func runSyncWatch(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
	a, err := app.Open(ctx, cfg, logger, appOptions...)
	if err != nil {
		return err
	}
	if !a.Online() {
		a.Close()
		return fmt.Errorf("sync: remote driver is %q", config.RemoteNone)
	}

	a.Start(ctx)
	logger.Info("sync workers running")
	<-ctx.Done()
	logger.Info("shutdown initiated")
	return a.Close()
}
