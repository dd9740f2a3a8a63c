package peerchat

import (
	"context"
	"sync"
)

// Subscription is a handle on a live stream. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

type funcSubscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel so that it runs at most once.
func NewSubscription(cancel func()) Subscription {
	return &funcSubscription{cancel: cancel}
}

func (s *funcSubscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type ReachabilityProber interface {
	IsReachable(ctx context.Context, address string) (bool, error)
}

type ConversationSource interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	SubscribeConversations(ctx context.Context, onArrival func(Conversation), onError func(error)) (Subscription, error)
}

type MessageTransport interface {
	FetchMessages(ctx context.Context, conversation Conversation) ([]Message, error)
	SubscribeMessages(ctx context.Context, conversation Conversation, onArrival func(Message), onError func(error)) (Subscription, error)
	SendMessage(ctx context.Context, conversation Conversation, text string) (Message, error)
}

type ConversationCreator interface {
	CreateConversation(ctx context.Context, peerAddress string, firstMessage string) (Conversation, error)
}

// NetworkClient is the full capability bundle of the underlying messaging
// network client.
type NetworkClient interface {
	ReachabilityProber
	ConversationSource
	MessageTransport
	ConversationCreator
	CurrentUserAddress() string
}

// NameService resolves a human-readable name to a literal address. Failures
// should match ErrNameNotFound or ErrResolution.
type NameService interface {
	ResolveName(ctx context.Context, name string) (string, error)
}

type NameServiceFunc func(ctx context.Context, name string) (string, error)

func (f NameServiceFunc) ResolveName(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}
