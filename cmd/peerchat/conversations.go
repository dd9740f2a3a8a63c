package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/internal/metrics"
	"github.com/quailyquaily/peerchat/peerchat"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Browse conversations",
	}
	cmd.AddCommand(newConversationsListCmd())
	return cmd
}

func newConversationsListCmd() *cobra.Command {
	var search string
	var watch bool
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, optionally filtered by peer address",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			client, closeClient, err := e.networkClient(runCtx)
			defer closeClient()
			if err != nil {
				return err
			}
			index, err := peerchat.LoadConversationIndex(runCtx, client, peerchat.IndexOptions{Logger: e.logger})
			if err != nil {
				return err
			}
			match := peerchat.SearchFilter(search, client.CurrentUserAddress())
			now := time.Now().UTC()

			if outputJSON && !watch {
				views := make([]map[string]any, 0, index.Len())
				for c := range index.Filter(match) {
					views = append(views, conversationView(c, now))
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}
			printed := 0
			for c := range index.Filter(match) {
				printConversation(cmd, c, outputJSON)
				printed++
			}
			if !watch {
				if printed == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
				}
				return nil
			}

			unwatch := index.Watch(func(ev peerchat.IndexEvent) {
				metrics.ObserveIndex(ev)
				switch ev.Kind {
				case peerchat.IndexMerged:
					if match(ev.Conversation) {
						printConversation(cmd, ev.Conversation, outputJSON)
					}
				case peerchat.IndexError:
					e.logger.Warn("conversation stream error", "err", ev.Err)
				}
			})
			defer unwatch()
			sub, err := index.Follow(runCtx, client)
			if err != nil {
				return err
			}
			defer sub.Cancel()
			if !outputJSON {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "watching for new conversations... (Ctrl+C to stop)")
			}
			<-runCtx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Only show peers whose address contains this text")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and print conversations as they arrive")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON (one object per line with --watch)")
	return cmd
}

func printConversation(cmd *cobra.Command, c peerchat.Conversation, outputJSON bool) {
	now := time.Now().UTC()
	if outputJSON {
		_ = writeJSON(cmd.OutOrStdout(), conversationView(c, now))
		return
	}
	writeConversation(cmd.OutOrStdout(), c, now)
}
