package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions on the answering service",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := newClient().CreateSession(cmd.Context())
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().ResetSession(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("reset session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", args[0])
		return nil
	},
}

var sessionHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the stored transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messages, err := newClient().LoadTranscript(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		if len(messages) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "(no messages)")
			return nil
		}
		for _, msg := range messages {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
		}
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionNewCmd, sessionResetCmd, sessionHistoryCmd)
}
