package redisnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/quailyquaily/peerchat/peerchat"
)

const accountsKey = "peerchat:accounts"

type ClientOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Client is a peerchat network client backed by Redis. Conversations and
// messages live in sorted sets; live streams use pub/sub.
type Client struct {
	rdb    *redis.Client
	self   string
	logger *slog.Logger
	now    func() time.Time
}

// Dial connects to redisURL and verifies the connection.
func Dial(ctx context.Context, redisURL string, self string, opts ClientOptions) (*Client, error) {
	redisOpts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	c, err := NewClient(rdb, self, opts)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

func NewClient(rdb *redis.Client, self string, opts ClientOptions) (*Client, error) {
	if rdb == nil {
		return nil, fmt.Errorf("nil redis client")
	}
	if !peerchat.IsLiteralAddress(self) {
		return nil, peerchat.WrapError(peerchat.ErrValidation, "local address %q is not a literal address", strings.TrimSpace(self))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Client{rdb: rdb, self: peerchat.NormalizeAddress(self), logger: opts.Logger, now: opts.Now}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func accountConversationsKey(address string) string {
	return fmt.Sprintf("peerchat:account:%s:convs", address)
}

func accountEventsChannel(address string) string {
	return fmt.Sprintf("peerchat:account:%s:events", address)
}

func conversationKey(id string) string {
	return fmt.Sprintf("peerchat:conv:%s", id)
}

func conversationMessagesKey(id string) string {
	return fmt.Sprintf("peerchat:conv:%s:msgs", id)
}

func conversationEventsChannel(id string) string {
	return fmt.Sprintf("peerchat:conv:%s:events", id)
}

// pairKey maps an unordered pair of members to their conversation id.
func pairKey(a string, b string) string {
	a = peerchat.NormalizeAddress(a)
	b = peerchat.NormalizeAddress(b)
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("peerchat:pair:%s:%s", a, b)
}

func (c *Client) CurrentUserAddress() string {
	return c.self
}

// Register provisions address so that others can reach it.
func (c *Client) Register(ctx context.Context, address string) error {
	if !peerchat.IsLiteralAddress(address) {
		return peerchat.WrapError(peerchat.ErrValidation, "%q is not a literal address", strings.TrimSpace(address))
	}
	return c.rdb.SAdd(ctx, accountsKey, peerchat.NormalizeAddress(address)).Err()
}

func (c *Client) IsReachable(ctx context.Context, address string) (bool, error) {
	return c.rdb.SIsMember(ctx, accountsKey, peerchat.NormalizeAddress(address)).Result()
}

func (c *Client) ListConversations(ctx context.Context) ([]peerchat.Conversation, error) {
	ids, err := c.rdb.ZRange(ctx, accountConversationsKey(c.self), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(ids) == 0 {
		return []peerchat.Conversation{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, conversationKey(id))
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	out := make([]peerchat.Conversation, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		conv, ok, err := decodeConversation([]byte(raw), c.self)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (c *Client) SubscribeConversations(ctx context.Context, onArrival func(peerchat.Conversation), onError func(error)) (peerchat.Subscription, error) {
	return c.subscribe(ctx, accountEventsChannel(c.self), onError, func(payload []byte) error {
		conv, ok, err := decodeConversation(payload, c.self)
		if err != nil || !ok {
			return err
		}
		if onArrival != nil {
			onArrival(conv)
		}
		return nil
	})
}

func (c *Client) FetchMessages(ctx context.Context, conversation peerchat.Conversation) ([]peerchat.Message, error) {
	if _, err := c.loadConversation(ctx, conversation.ID); err != nil {
		return nil, err
	}
	values, err := c.rdb.ZRange(ctx, conversationMessagesKey(conversation.ID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	out := make([]peerchat.Message, 0, len(values))
	for _, raw := range values {
		msg, err := decodeMessage([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c *Client) SubscribeMessages(ctx context.Context, conversation peerchat.Conversation, onArrival func(peerchat.Message), onError func(error)) (peerchat.Subscription, error) {
	if _, err := c.loadConversation(ctx, conversation.ID); err != nil {
		return nil, err
	}
	return c.subscribe(ctx, conversationEventsChannel(conversation.ID), onError, func(payload []byte) error {
		msg, err := decodeMessage(payload)
		if err != nil {
			return err
		}
		if onArrival != nil {
			onArrival(msg)
		}
		return nil
	})
}

func (c *Client) SendMessage(ctx context.Context, conversation peerchat.Conversation, text string) (peerchat.Message, error) {
	if err := peerchat.ValidateMessageText(text); err != nil {
		return peerchat.Message{}, err
	}
	record, err := c.loadConversation(ctx, conversation.ID)
	if err != nil {
		return peerchat.Message{}, err
	}
	return c.appendMessage(ctx, record.ConversationID, text)
}

// CreateConversation opens a conversation with peerAddress, or reuses the
// one that already exists for the pair, and sends firstMessage.
func (c *Client) CreateConversation(ctx context.Context, peerAddress string, firstMessage string) (peerchat.Conversation, error) {
	if !peerchat.IsLiteralAddress(peerAddress) {
		return peerchat.Conversation{}, peerchat.WrapError(peerchat.ErrValidation, "%q is not a literal address", strings.TrimSpace(peerAddress))
	}
	peer := peerchat.NormalizeAddress(peerAddress)
	if peer == c.self {
		return peerchat.Conversation{}, peerchat.WrapError(peerchat.ErrValidation, "cannot open a conversation with yourself")
	}
	if err := peerchat.ValidateMessageText(firstMessage); err != nil {
		return peerchat.Conversation{}, err
	}
	reachable, err := c.IsReachable(ctx, peer)
	if err != nil {
		return peerchat.Conversation{}, err
	}
	if !reachable {
		return peerchat.Conversation{}, peerchat.WrapError(peerchat.ErrUnreachable, "%s is not on the network", peer)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return peerchat.Conversation{}, fmt.Errorf("generate conversation id: %w", err)
	}
	claimed, err := c.rdb.SetNX(ctx, pairKey(c.self, peer), id.String(), 0).Result()
	if err != nil {
		return peerchat.Conversation{}, fmt.Errorf("claim conversation: %w", err)
	}
	var record peerchat.ConversationRecord
	if claimed {
		record = peerchat.ConversationRecord{
			ConversationID: id.String(),
			Members:        []string{c.self, peer},
			CreatedBy:      c.self,
			CreatedAt:      c.now(),
		}
		if err := c.storeConversation(ctx, record); err != nil {
			return peerchat.Conversation{}, err
		}
		c.logger.Info("conversation opened", "conversation_id", record.ConversationID, "peer_address", peer)
	} else {
		existingID, err := c.rdb.Get(ctx, pairKey(c.self, peer)).Result()
		if err != nil {
			return peerchat.Conversation{}, fmt.Errorf("load conversation claim: %w", err)
		}
		record, err = c.waitForConversation(ctx, existingID)
		if err != nil {
			return peerchat.Conversation{}, err
		}
	}
	if _, err := c.appendMessage(ctx, record.ConversationID, firstMessage); err != nil {
		return peerchat.Conversation{}, err
	}
	return peerchat.Conversation{ID: record.ConversationID, PeerAddress: peer, CreatedAt: record.CreatedAt}, nil
}

func (c *Client) storeConversation(ctx context.Context, record peerchat.ConversationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	score := float64(record.CreatedAt.UnixMilli())
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, conversationKey(record.ConversationID), data, 0)
	for _, member := range record.Members {
		pipe.ZAdd(ctx, accountConversationsKey(member), redis.Z{Score: score, Member: record.ConversationID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	for _, member := range record.Members {
		if err := c.rdb.Publish(ctx, accountEventsChannel(member), data).Err(); err != nil {
			c.logger.Warn("publish conversation failed", "conversation_id", record.ConversationID, "err", err)
		}
	}
	return nil
}

// waitForConversation covers the window between another client claiming a
// pair and storing its record.
func (c *Client) waitForConversation(ctx context.Context, id string) (peerchat.ConversationRecord, error) {
	for attempt := 0; ; attempt++ {
		record, err := c.loadConversation(ctx, id)
		if err == nil || !errors.Is(err, peerchat.ErrNotFound) || attempt >= 20 {
			return record, err
		}
		select {
		case <-ctx.Done():
			return peerchat.ConversationRecord{}, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (c *Client) appendMessage(ctx context.Context, conversationID string, text string) (peerchat.Message, error) {
	msg := peerchat.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SenderAddress:  c.self,
		Content:        text,
		SentAt:         c.now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return peerchat.Message{}, fmt.Errorf("encode message: %w", err)
	}
	err = c.rdb.ZAdd(ctx, conversationMessagesKey(conversationID), redis.Z{
		Score:  float64(msg.SentAt.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return peerchat.Message{}, fmt.Errorf("store message: %w", err)
	}
	if err := c.rdb.Publish(ctx, conversationEventsChannel(conversationID), data).Err(); err != nil {
		c.logger.Warn("publish message failed", "conversation_id", conversationID, "err", err)
	}
	return msg, nil
}

func (c *Client) loadConversation(ctx context.Context, id string) (peerchat.ConversationRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return peerchat.ConversationRecord{}, peerchat.WrapError(peerchat.ErrValidation, "conversation_id is required")
	}
	raw, err := c.rdb.Get(ctx, conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return peerchat.ConversationRecord{}, peerchat.WrapError(peerchat.ErrNotFound, "conversation %s not found", id)
	}
	if err != nil {
		return peerchat.ConversationRecord{}, fmt.Errorf("load conversation: %w", err)
	}
	var record peerchat.ConversationRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return peerchat.ConversationRecord{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if _, ok := peerFor(record, c.self); !ok {
		return peerchat.ConversationRecord{}, peerchat.WrapError(peerchat.ErrNotFound, "conversation %s not found", id)
	}
	return record, nil
}

// subscribe consumes channel until the subscription is cancelled. Payload
// handling failures are reported through onError.
func (c *Client) subscribe(ctx context.Context, channel string, onError func(error), handle func([]byte) error) (peerchat.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := c.rdb.Subscribe(subCtx, channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handle([]byte(msg.Payload)); err != nil {
					c.logger.Debug("drop pubsub payload", "channel", channel, "err", err)
					if onError != nil {
						onError(err)
					}
				}
			}
		}
	}()
	return peerchat.NewSubscription(func() {
		cancel()
		_ = pubsub.Close()
	}), nil
}

func decodeConversation(data []byte, self string) (peerchat.Conversation, bool, error) {
	var record peerchat.ConversationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return peerchat.Conversation{}, false, fmt.Errorf("decode conversation: %w", err)
	}
	peer, ok := peerFor(record, self)
	if !ok {
		return peerchat.Conversation{}, false, nil
	}
	return peerchat.Conversation{ID: record.ConversationID, PeerAddress: peer, CreatedAt: record.CreatedAt}, true, nil
}

func decodeMessage(data []byte) (peerchat.Message, error) {
	var msg peerchat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return peerchat.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if strings.TrimSpace(msg.ID) == "" {
		return peerchat.Message{}, fmt.Errorf("decode message: missing message_id")
	}
	return msg, nil
}

// peerFor returns the member of record that is not self.
func peerFor(record peerchat.ConversationRecord, self string) (string, bool) {
	self = peerchat.NormalizeAddress(self)
	member := false
	peer := ""
	for _, m := range record.Members {
		m = peerchat.NormalizeAddress(m)
		if m == self {
			member = true
			continue
		}
		peer = m
	}
	return peer, member && peer != "" && record.ConversationID != ""
}
