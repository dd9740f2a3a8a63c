package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/quailyquaily/peerchat/peerchat"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func conversationView(c peerchat.Conversation, now time.Time) map[string]any {
	return map[string]any{
		"conversation_id": c.ID,
		"peer_address":    peerchat.ChecksumAddress(c.PeerAddress),
		"created_at":      c.CreatedAt,
		"created":         peerchat.RelativeTimeLabel(now, c.CreatedAt),
	}
}

func writeConversation(w io.Writer, c peerchat.Conversation, now time.Time) {
	_, _ = fmt.Fprintf(w, "%s  %s  %s\n", c.ID, peerchat.ChecksumAddress(c.PeerAddress), peerchat.RelativeTimeLabel(now, c.CreatedAt))
}

func writeMessage(w io.Writer, m peerchat.Message, self string, now time.Time) {
	from := peerchat.ShortAddress(peerchat.ChecksumAddress(m.SenderAddress))
	if peerchat.SameAddress(m.SenderAddress, self) {
		from = "me"
	}
	_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", peerchat.RelativeTimeLabel(now, m.SentAt), from, m.Content)
}

func searchStateView(state peerchat.SearchState) map[string]any {
	view := map[string]any{
		"query":           state.Query,
		"identifier_kind": state.Identifier.Kind,
		"phase":           state.Phase,
		"status":          state.StatusText(),
		"reachability":    state.Reachability,
		"can_create":      state.CanCreate(),
	}
	if state.Resolved != nil {
		view["address"] = peerchat.ChecksumAddress(state.Resolved.Address)
		view["provenance"] = state.Resolved.Provenance
	}
	if state.Match != nil {
		view["conversation_id"] = state.Match.ID
	}
	if state.Created != nil {
		view["conversation_id"] = state.Created.ID
	}
	if state.Err != nil {
		view["error"] = state.Err.Error()
		view["symbol"] = peerchat.SymbolOf(state.Err)
	}
	return view
}

func writeSearchState(w io.Writer, state peerchat.SearchState) {
	_, _ = fmt.Fprintf(w, "query: %s\nphase: %s\nstatus: %s\n", state.Query, state.Phase, state.StatusText())
	if state.Resolved != nil {
		_, _ = fmt.Fprintf(w, "address: %s\nprovenance: %s\n", peerchat.ChecksumAddress(state.Resolved.Address), state.Resolved.Provenance)
	}
	if state.Reachability != "" {
		_, _ = fmt.Fprintf(w, "reachability: %s\n", state.Reachability)
	}
	if state.Match != nil {
		_, _ = fmt.Fprintf(w, "conversation_id: %s\n", state.Match.ID)
	}
}
