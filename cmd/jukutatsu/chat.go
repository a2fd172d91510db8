package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/jukutatsu/internal/app"
	"github.com/hyperengineering/jukutatsu/pkg/journal"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk with the AI partner about the selected theme",
}

var chatSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and print the partner's reply",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatSend,
}

var chatShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current transcript",
	Args:  cobra.NoArgs,
	RunE:  runChatShow,
}

var chatResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a new conversation",
	Args:  cobra.NoArgs,
	RunE:  runChatReset,
}

var chatExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Turn the conversation into insights",
	Args:  cobra.NoArgs,
	RunE:  runChatExtract,
}

func init() {
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatShowCmd)
	chatCmd.AddCommand(chatResetCmd)
	chatCmd.AddCommand(chatExtractCmd)
}

func runChatSend(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		chat, err := a.Chat()
		if err != nil {
			return err
		}
		msg, err := chat.Send(ctx, args[0])
		// A failed stream still leaves the apology in the transcript.
		if err != nil && !errors.Is(err, journal.ErrStreamFailed) {
			return err
		}
		if jsonOutput {
			if encErr := printJSON(cmd.OutOrStdout(), msg); encErr != nil {
				return encErr
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg.Text)
		return err
	})
}

func runChatShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		tr := a.Store().Snapshot().Transcript
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), tr)
		}
		if len(tr.Messages) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages yet.")
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), journal.FormatTranscript(tr.Messages))
		return nil
	})
}

func runChatReset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		snap, out := a.Store().Apply(journal.ResetTranscript{})
		if err := applied(cmd.OutOrStdout(), snap, out, "reset chat"); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), snap.Transcript)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Started a new conversation.")
		return nil
	})
}

func runChatExtract(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		chat, err := a.Chat()
		if err != nil {
			return err
		}
		ids, err := chat.ExtractInsights(ctx)
		if err != nil {
			return err
		}
		snap := a.Store().Snapshot()
		insights := make([]journal.Insight, 0, len(ids))
		for _, id := range ids {
			if ins, ok := snap.Insight(id); ok {
				insights = append(insights, ins)
			}
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"insights": insights,
				"total":    len(insights),
			})
		}
		if len(insights) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No new insights found.")
			return nil
		}
		for _, ins := range insights {
			fmt.Fprintf(cmd.OutOrStdout(), "+ %s\n", ins.Body)
		}
		return nil
	})
}
