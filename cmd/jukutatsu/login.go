package main

import (
	"context"
	"fmt"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/spf13/cobra"
)

var (
	loginID        string
	loginName      string
	loginFrequency string
	loginTime      string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in or register the journal owner",
	Long: `Establishes the owner of this journal. Without --id a new owner is
registered. With --id an existing owner is restored on this device and their
themes and insights are pulled from the remote store.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginID, "id", "", "Existing owner id")
	loginCmd.Flags().StringVar(&loginName, "name", "", "Display name (required)")
	loginCmd.Flags().StringVar(&loginFrequency, "frequency", "", "Reminder frequency: daily, weekly or none")
	loginCmd.Flags().StringVar(&loginTime, "time", "", "Reminder time of day (HH:MM)")
	loginCmd.MarkFlagRequired("name")
}

func runLogin(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		snap, out := a.Login(ctx, journal.EstablishOwner{
			ID:        loginID,
			Name:      loginName,
			Frequency: journal.Frequency(loginFrequency),
			Time:      loginTime,
		})
		if err := applied(cmd.OutOrStdout(), snap, out, "login"); err != nil {
			return err
		}
		// A restored owner pulls their history from the remote.
		if loginID != "" && a.Online() {
			if _, err := a.Store().Resync(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not pull remote data: %v\n", err)
			}
			snap = a.Store().Snapshot()
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), snap.Owner)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", snap.Owner.Name, snap.Owner.ID)
		return nil
	})
}

var (
	prefsName      string
	prefsFrequency string
	prefsTime      string
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or update owner preferences",
	Args:  cobra.NoArgs,
	RunE:  runPrefs,
}

func init() {
	prefsCmd.Flags().StringVar(&prefsName, "name", "", "Display name")
	prefsCmd.Flags().StringVar(&prefsFrequency, "frequency", "", "Reminder frequency: daily, weekly or none")
	prefsCmd.Flags().StringVar(&prefsTime, "time", "", "Reminder time of day (HH:MM)")
}

func runPrefs(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id, err := ownerID(a)
		if err != nil {
			return err
		}

		m := journal.UpdateOwnerPreferences{OwnerID: id}
		if cmd.Flags().Changed("name") {
			m.Name = &prefsName
		}
		if cmd.Flags().Changed("frequency") {
			f := journal.Frequency(prefsFrequency)
			m.Frequency = &f
		}
		if cmd.Flags().Changed("time") {
			m.Time = &prefsTime
		}

		snap := a.Store().Snapshot()
		if m.Name != nil || m.Frequency != nil || m.Time != nil {
			var out journal.Outcome
			snap, out = a.UpdatePreferences(ctx, m)
			if err := applied(cmd.OutOrStdout(), snap, out, "update preferences"); err != nil {
				return err
			}
		}

		o := snap.Owner
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), o)
		}
		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintf(w, "ID:\t%s\n", o.ID)
		fmt.Fprintf(w, "Name:\t%s\n", o.Name)
		fmt.Fprintf(w, "Reminders:\t%s\n", o.NotificationFrequency)
		fmt.Fprintf(w, "Reminder time:\t%s\n", o.NotificationTime)
		return w.Flush()
	})
}
