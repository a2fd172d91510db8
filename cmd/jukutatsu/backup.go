package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/internal/backup"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/spf13/cobra"
)

// newUploader builds the backup uploader. Tests replace it.
var newUploader = backup.NewUploader

var backupLink bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the journal to S3-compatible storage",
	Long: `Uploads the current journal snapshot to the configured backup bucket.
With --link a pre-signed download URL for the latest backup is printed instead.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupLink, "link", false, "Print a pre-signed download URL for the latest backup")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}
		up, err := newUploader(a.Config().Backup)
		if err != nil {
			return err
		}

		if backupLink {
			link, expiry, err := up.PresignedURL(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{"url": link, "expires_at": expiry.UTC()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n(expires %s)\n", link, expiry.Local().Format(time.DateTime))
			return nil
		}

		blob, err := journal.EncodeSnapshot(a.Store().Snapshot(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		key, err := up.Upload(ctx, id, blob)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"key": key, "bytes": len(blob)})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d bytes to %s\n", len(blob), key)
		return nil
	})
}
