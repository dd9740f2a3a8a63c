package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/internal/metrics"
	"github.com/quailyquaily/peerchat/peerchat"
)

func newSendCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send a message to an existing conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			reconciler, closeReconciler, err := openConversation(cmd.Context(), e, args[0], peerchat.ReconcilerOptions{})
			defer closeReconciler()
			if err != nil {
				return err
			}
			msg, err := reconciler.Send(cmd.Context(), args[1])
			metrics.ObserveSend(err)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), msg)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "message_id: %s\nconversation_id: %s\nmessages: %d\n", msg.ID, msg.ConversationID, reconciler.Len())
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}
