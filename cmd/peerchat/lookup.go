package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/peerchat/internal/metrics"
	"github.com/quailyquaily/peerchat/peerchat"
)

// openSession wires a session controller over the configured network and
// name services. The returned close func is never nil.
func openSession(ctx context.Context, e *env) (*peerchat.SessionController, peerchat.NetworkClient, func(), error) {
	client, closeClient, err := e.networkClient(ctx)
	if err != nil {
		return nil, nil, closeClient, err
	}
	ns, err := e.nameService()
	if err != nil {
		closeClient()
		return nil, nil, func() {}, err
	}
	index, err := peerchat.LoadConversationIndex(ctx, client, peerchat.IndexOptions{Logger: e.logger})
	if err != nil {
		closeClient()
		return nil, nil, func() {}, err
	}
	unwatch := index.Watch(metrics.ObserveIndex)
	session, err := peerchat.NewSessionController(client, ns, index, peerchat.SessionOptions{
		Classifier:     e.classifier(),
		ResolveTimeout: e.cfg.Session.ResolveTimeout,
		ReachTimeout:   e.cfg.Session.ReachTimeout,
		CreateTimeout:  e.cfg.Session.CreateTimeout,
		Logger:         e.logger,
		OnChange:       metrics.ObserveSession,
	})
	if err != nil {
		unwatch()
		closeClient()
		return nil, nil, func() {}, err
	}
	return session, client, func() {
		session.Close()
		unwatch()
		closeClient()
	}, nil
}

// settle runs query to completion and returns the final state.
func settle(ctx context.Context, session *peerchat.SessionController, query string) peerchat.SearchState {
	session.SetQuery(ctx, query)
	session.Wait()
	return session.State()
}

func newLookupCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "lookup <address-or-name>",
		Short: "Check whether a conversation can be started with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			session, _, closeSession, err := openSession(cmd.Context(), e)
			defer closeSession()
			if err != nil {
				return err
			}
			state := settle(cmd.Context(), session, args[0])
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), searchStateView(state))
			}
			writeSearchState(cmd.OutOrStdout(), state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newStartCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "start <address-or-name> <first message>",
		Short: "Start a conversation, or continue the existing one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			firstMessage := args[1]
			if strings.TrimSpace(firstMessage) == "" {
				return peerchat.WrapError(peerchat.ErrValidation, "first message is required")
			}
			e, err := envFromCmd(cmd)
			if err != nil {
				return err
			}
			session, client, closeSession, err := openSession(cmd.Context(), e)
			defer closeSession()
			if err != nil {
				return err
			}

			state := settle(cmd.Context(), session, args[0])
			var conv peerchat.Conversation
			existing := false
			switch {
			case state.ConversationFound():
				conv = *state.Match
				existing = true
				_, err := client.SendMessage(cmd.Context(), conv, firstMessage)
				metrics.ObserveSend(err)
				if err != nil {
					return peerchat.WrapCause(peerchat.ErrSendFailed, err, "send to %s", conv.ID)
				}
			case state.CanCreate():
				conv, err = session.Create(cmd.Context(), firstMessage)
				if err != nil {
					return err
				}
			default:
				status := state.StatusText()
				if status == "" {
					status = "nothing to look up"
				}
				if state.Err != nil {
					return fmt.Errorf("%s: %w", status, state.Err)
				}
				return fmt.Errorf("%s", status)
			}

			view := conversationView(conv, conv.CreatedAt)
			view["existing"] = existing
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "conversation_id: %s\npeer_address: %s\nexisting: %v\n", conv.ID, peerchat.ChecksumAddress(conv.PeerAddress), existing)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}
