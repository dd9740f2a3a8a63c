package peerchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type LocalNetworkOptions struct {
	PollInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

func normalizeLocalNetworkOptions(opts LocalNetworkOptions) LocalNetworkOptions {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return opts
}

// LocalNetwork is a NetworkClient over a shared Store directory. An address
// is reachable once it is registered as an account; live streams poll the
// store.
type LocalNetwork struct {
	store Store
	self  string
	opts  LocalNetworkOptions
}

func NewLocalNetwork(store Store, self string, opts LocalNetworkOptions) (*LocalNetwork, error) {
	if store == nil {
		return nil, fmt.Errorf("nil peerchat store")
	}
	if !IsLiteralAddress(self) {
		return nil, WrapError(ErrValidation, "local address %q is not a literal address", strings.TrimSpace(self))
	}
	return &LocalNetwork{
		store: store,
		self:  NormalizeAddress(self),
		opts:  normalizeLocalNetworkOptions(opts),
	}, nil
}

func (n *LocalNetwork) CurrentUserAddress() string {
	return n.self
}

func (n *LocalNetwork) IsReachable(ctx context.Context, address string) (bool, error) {
	return n.store.HasAccount(ctx, address)
}

func (n *LocalNetwork) ListConversations(ctx context.Context) ([]Conversation, error) {
	records, err := n.store.ListConversationRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(records))
	for _, record := range records {
		if c, ok := n.conversationFromRecord(record); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// SubscribeConversations emits conversations that appear after the call. The
// current set is read before returning so nothing recorded later is missed.
func (n *LocalNetwork) SubscribeConversations(ctx context.Context, onArrival func(Conversation), onError func(error)) (Subscription, error) {
	initial, err := n.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(initial))
	for _, c := range initial {
		seen[c.ID] = true
	}
	return n.poll(ctx, onError, func(pollCtx context.Context) error {
		current, err := n.ListConversations(pollCtx)
		if err != nil {
			return err
		}
		for _, c := range current {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if onArrival != nil {
				onArrival(c)
			}
		}
		return nil
	}), nil
}

func (n *LocalNetwork) FetchMessages(ctx context.Context, conversation Conversation) ([]Message, error) {
	if _, err := n.lookupConversation(ctx, conversation.ID); err != nil {
		return nil, err
	}
	records, err := n.store.ListMessageRecords(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(records))
	for _, record := range records {
		out = append(out, messageFromRecord(record))
	}
	return out, nil
}

func (n *LocalNetwork) SubscribeMessages(ctx context.Context, conversation Conversation, onArrival func(Message), onError func(error)) (Subscription, error) {
	if _, err := n.lookupConversation(ctx, conversation.ID); err != nil {
		return nil, err
	}
	initial, err := n.store.ListMessageRecords(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(initial))
	for _, record := range initial {
		seen[record.MessageID] = true
	}
	return n.poll(ctx, onError, func(pollCtx context.Context) error {
		records, err := n.store.ListMessageRecords(pollCtx, conversation.ID)
		if err != nil {
			return err
		}
		for _, record := range records {
			if seen[record.MessageID] {
				continue
			}
			seen[record.MessageID] = true
			if onArrival != nil {
				onArrival(messageFromRecord(record))
			}
		}
		return nil
	}), nil
}

func (n *LocalNetwork) SendMessage(ctx context.Context, conversation Conversation, text string) (Message, error) {
	if err := ValidateMessageText(text); err != nil {
		return Message{}, err
	}
	record, err := n.lookupConversation(ctx, conversation.ID)
	if err != nil {
		return Message{}, err
	}
	return n.appendMessage(ctx, record.ConversationID, text)
}

// CreateConversation opens a conversation with peerAddress and sends
// firstMessage. An existing conversation with the same peer is reused.
func (n *LocalNetwork) CreateConversation(ctx context.Context, peerAddress string, firstMessage string) (Conversation, error) {
	if !IsLiteralAddress(peerAddress) {
		return Conversation{}, WrapError(ErrValidation, "%q is not a literal address", strings.TrimSpace(peerAddress))
	}
	peer := NormalizeAddress(peerAddress)
	if peer == n.self {
		return Conversation{}, WrapError(ErrValidation, "cannot open a conversation with yourself")
	}
	if err := ValidateMessageText(firstMessage); err != nil {
		return Conversation{}, err
	}
	reachable, err := n.store.HasAccount(ctx, peer)
	if err != nil {
		return Conversation{}, err
	}
	if !reachable {
		return Conversation{}, WrapError(ErrUnreachable, "%s is not on the network", peer)
	}

	existing, err := n.ListConversations(ctx)
	if err != nil {
		return Conversation{}, err
	}
	var conv Conversation
	found := false
	for _, c := range existing {
		if c.PeerAddress == peer {
			conv, found = c, true
			break
		}
	}
	if !found {
		id, err := uuid.NewV7()
		if err != nil {
			return Conversation{}, fmt.Errorf("generate conversation id: %w", err)
		}
		record := ConversationRecord{
			ConversationID: id.String(),
			Members:        []string{n.self, peer},
			CreatedBy:      n.self,
			CreatedAt:      n.opts.Now(),
		}
		if err := n.store.AppendConversation(ctx, record); err != nil {
			return Conversation{}, err
		}
		conv = Conversation{ID: record.ConversationID, PeerAddress: peer, CreatedAt: record.CreatedAt}
		n.opts.Logger.Info("conversation opened", "conversation_id", conv.ID, "peer_address", peer)
	}
	if _, err := n.appendMessage(ctx, conv.ID, firstMessage); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (n *LocalNetwork) appendMessage(ctx context.Context, conversationID string, text string) (Message, error) {
	record := MessageRecord{
		MessageID:      ulid.Make().String(),
		ConversationID: conversationID,
		SenderAddress:  n.self,
		Content:        text,
		SentAt:         n.opts.Now(),
	}
	if err := n.store.AppendMessage(ctx, record); err != nil {
		return Message{}, err
	}
	return messageFromRecord(record), nil
}

func (n *LocalNetwork) lookupConversation(ctx context.Context, conversationID string) (ConversationRecord, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ConversationRecord{}, WrapError(ErrValidation, "conversation_id is required")
	}
	records, err := n.store.ListConversationRecords(ctx)
	if err != nil {
		return ConversationRecord{}, err
	}
	for _, record := range records {
		if record.ConversationID != conversationID {
			continue
		}
		if _, ok := n.conversationFromRecord(record); !ok {
			break
		}
		return record, nil
	}
	return ConversationRecord{}, WrapError(ErrNotFound, "conversation %s not found", conversationID)
}

func (n *LocalNetwork) conversationFromRecord(record ConversationRecord) (Conversation, bool) {
	member := false
	peer := ""
	for _, m := range record.Members {
		m = NormalizeAddress(m)
		if m == n.self {
			member = true
			continue
		}
		peer = m
	}
	if !member || peer == "" {
		return Conversation{}, false
	}
	return Conversation{ID: record.ConversationID, PeerAddress: peer, CreatedAt: record.CreatedAt}, true
}

// poll runs step every PollInterval until the subscription is cancelled.
// Step failures go to onError and polling continues.
func (n *LocalNetwork) poll(ctx context.Context, onError func(error), step func(context.Context) error) Subscription {
	if ctx == nil {
		ctx = context.Background()
	}
	pollCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(n.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			if err := step(pollCtx); err != nil {
				if pollCtx.Err() != nil {
					return
				}
				n.opts.Logger.Debug("local network poll failed", "err", err)
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return NewSubscription(cancel)
}

func messageFromRecord(record MessageRecord) Message {
	return Message{
		ID:             record.MessageID,
		ConversationID: record.ConversationID,
		SenderAddress:  record.SenderAddress,
		Content:        record.Content,
		SentAt:         record.SentAt,
	}
}
