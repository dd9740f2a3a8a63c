package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/internal/metrics"
	"github.com/quailyquaily/peerchat/peerchat"
)

// openConversation finds conversationID among self's conversations and opens
// a reconciler on it.
func openConversation(ctx context.Context, e *env, conversationID string, opts peerchat.ReconcilerOptions) (*peerchat.MessageReconciler, func(), error) {
	client, closeClient, err := e.networkClient(ctx)
	if err != nil {
		return nil, closeClient, err
	}
	conversations, err := client.ListConversations(ctx)
	if err != nil {
		closeClient()
		return nil, func() {}, err
	}
	index := peerchat.NewConversationIndex(conversations, peerchat.IndexOptions{Logger: e.logger})
	conv, ok := index.Get(strings.TrimSpace(conversationID))
	if !ok {
		closeClient()
		return nil, func() {}, peerchat.WrapError(peerchat.ErrNotFound, "conversation %s not found", strings.TrimSpace(conversationID))
	}

	opts.Logger = e.logger
	onError := opts.OnError
	opts.OnError = func(err error) {
		metrics.ObserveMessageStreamError(err)
		if onError != nil {
			onError(err)
		}
	}
	reconciler := peerchat.NewMessageReconciler(client, opts)
	if err := reconciler.Open(ctx, conv); err != nil {
		reconciler.Close()
		closeClient()
		return nil, func() {}, err
	}
	return reconciler, func() {
		reconciler.Close()
		closeClient()
	}, nil
}

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Read conversation messages",
	}
	cmd.AddCommand(newMessagesListCmd())
	return cmd
}

func newMessagesListCmd() *cobra.Command {
	var watch bool
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list <conversation-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			self, err := e.selfAddress(runCtx)
			if err != nil {
				return err
			}
			opts := peerchat.ReconcilerOptions{}
			if watch {
				opts.OnMerge = func(added []peerchat.Message) {
					for _, m := range added {
						printMessage(cmd, m, self, outputJSON)
					}
				}
				opts.OnError = func(err error) {
					e.logger.Warn("message stream error", "err", err)
				}
			}
			reconciler, closeReconciler, err := openConversation(runCtx, e, args[0], opts)
			defer closeReconciler()
			if err != nil {
				return err
			}
			if !watch {
				messages := reconciler.Messages()
				if outputJSON {
					return writeJSON(cmd.OutOrStdout(), messages)
				}
				if len(messages) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no messages")
				}
				for _, m := range messages {
					printMessage(cmd, m, self, false)
				}
				return nil
			}
			if !outputJSON {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "watching for new messages... (Ctrl+C to stop)")
			}
			<-runCtx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and print messages as they arrive")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON (one object per line with --watch)")
	return cmd
}

func printMessage(cmd *cobra.Command, m peerchat.Message, self string, outputJSON bool) {
	if outputJSON {
		_ = writeJSON(cmd.OutOrStdout(), m)
		return
	}
	writeMessage(cmd.OutOrStdout(), m, self, time.Now().UTC())
}
