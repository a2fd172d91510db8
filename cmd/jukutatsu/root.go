package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/internal/config"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool
)

// appOptions are passed to every app.Open call. Tests use it to inject a
// shared remote or chat partner.
var appOptions []app.Option

var errNotLoggedIn = errors.New("not logged in: run `jukutatsu login` first")

var rootCmd = &cobra.Command{
	Use:           "jukutatsu",
	Short:         "Jukutatsu - a journal of themes, insights and the links between them",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides JUKUTATSU_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(themeCmd)
	rootCmd.AddCommand(insightCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(achievementsCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// withApp opens the client, boots it, runs fn and waits for the replication
// fn triggered before closing.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	a, err := app.Open(ctx, cfg, logger, appOptions...)
	if err != nil {
		return err
	}
	a.Store().Boot()

	runErr := fn(ctx, a)

	if err := a.Settle(ctx); err != nil {
		logger.Warn("replication still in flight at exit", "error", err)
	}
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// ownerID returns the established owner, or errNotLoggedIn.
func ownerID(a *app.App) (string, error) {
	owner := a.Store().Snapshot().Owner
	if !owner.Established() {
		return "", errNotLoggedIn
	}
	return owner.ID, nil
}

// selectedTheme returns the theme to act on: the one named by id, or the
// selected theme when id is empty.
func selectedTheme(snap journal.Snapshot, id string) (journal.Theme, error) {
	if id == "" {
		th, ok := snap.CurrentTheme()
		if !ok {
			return journal.Theme{}, journal.ErrNoThemeSelected
		}
		return th, nil
	}
	th, ok := snap.Theme(id)
	if !ok {
		return journal.Theme{}, fmt.Errorf("%w: %s", journal.ErrThemeNotFound, id)
	}
	return th, nil
}

// applied converts a rejected outcome into an error and reports newly
// unlocked achievements.
func applied(w io.Writer, snap journal.Snapshot, out journal.Outcome, action string) error {
	if !out.Applied {
		return fmt.Errorf("%s: %w", action, out.Err)
	}
	if jsonOutput {
		return nil
	}
	for _, id := range out.Unlocked {
		if a, ok := snap.Achievement(id); ok {
			fmt.Fprintf(w, "Achievement unlocked: %s - %s\n", a.Title, a.Description)
		}
	}
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
