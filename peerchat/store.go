package peerchat

import "context"

type Store interface {
	Ensure(ctx context.Context) error
	GetIdentity(ctx context.Context) (Identity, bool, error)
	PutIdentity(ctx context.Context, identity Identity) error
	PutAccount(ctx context.Context, account Account) error
	HasAccount(ctx context.Context, address string) (bool, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	PutName(ctx context.Context, record NameRecord) error
	GetName(ctx context.Context, name string) (NameRecord, bool, error)
	DeleteName(ctx context.Context, name string) (bool, error)
	ListNames(ctx context.Context) ([]NameRecord, error)
	AppendConversation(ctx context.Context, record ConversationRecord) error
	ListConversationRecords(ctx context.Context) ([]ConversationRecord, error)
	AppendMessage(ctx context.Context, record MessageRecord) error
	ListMessageRecords(ctx context.Context, conversationID string) ([]MessageRecord, error)
}
