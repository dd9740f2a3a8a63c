package peerchat

import (
	"strings"
	"time"
)

const (
	AddressHexLength       = 40
	DefaultNameSuffix      = ".eth"
	DefaultResolveTimeout  = 10 * time.Second
	DefaultReachTimeout    = 10 * time.Second
	DefaultCreateTimeout   = 30 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	ProvenanceDirect       = "direct"
	ProvenanceResolvedFrom = "resolved-from:"

	// MaxMessageBytes bounds the content of a single message.
	MaxMessageBytes = 64 * 1024
)

// ValidateMessageText rejects blank text and text longer than MaxMessageBytes.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return WrapError(ErrValidation, "message text is required")
	}
	if len(text) > MaxMessageBytes {
		return WrapError(ErrValidation, "message is %d bytes, limit is %d", len(text), MaxMessageBytes)
	}
	return nil
}

type IdentifierKind string

const (
	IdentifierLiteral IdentifierKind = "literal"
	IdentifierName    IdentifierKind = "name"
	IdentifierInvalid IdentifierKind = "invalid"
)

// Identifier is a classified user-entered peer identifier.
type Identifier struct {
	Raw  string         `json:"raw"`
	Kind IdentifierKind `json:"kind"`
}

// ResolvedAddress is a literal network address with the identifier it came
// from. Address is always in lowercase canonical form.
type ResolvedAddress struct {
	Address    string `json:"address"`
	Provenance string `json:"provenance"`
}

func DirectAddress(address string) ResolvedAddress {
	return ResolvedAddress{Address: NormalizeAddress(address), Provenance: ProvenanceDirect}
}

func AddressResolvedFrom(address string, name string) ResolvedAddress {
	return ResolvedAddress{Address: NormalizeAddress(address), Provenance: ProvenanceResolvedFrom + name}
}

func (a ResolvedAddress) Equal(other ResolvedAddress) bool {
	return SameAddress(a.Address, other.Address)
}

func (a ResolvedAddress) IsDirect() bool {
	return a.Provenance == ProvenanceDirect
}

type Reachability string

const (
	ReachabilityUnknown     Reachability = "unknown"
	ReachabilityReachable   Reachability = "reachable"
	ReachabilityUnreachable Reachability = "unreachable"
)

// Conversation is a read-only reference to a conversation owned by the
// network client.
type Conversation struct {
	ID          string    `json:"conversation_id"`
	PeerAddress string    `json:"peer_address"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	ID             string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderAddress  string    `json:"sender_address"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
}

type SessionPhase string

const (
	PhaseIdle                      SessionPhase = "idle"
	PhaseResolving                 SessionPhase = "resolving"
	PhaseInvalid                   SessionPhase = "invalid"
	PhaseSelfAddress               SessionPhase = "self_address"
	PhaseUnreachable               SessionPhase = "unreachable"
	PhaseExistingConversationFound SessionPhase = "existing_conversation_found"
	PhaseCreatableNew              SessionPhase = "creatable_new"
	PhaseCreating                  SessionPhase = "creating"
	PhaseCreated                   SessionPhase = "created"
	PhaseCreateFailed              SessionPhase = "create_failed"
)

// Terminal reports whether the phase ends the current query. A new query
// always restarts from resolving.
func (p SessionPhase) Terminal() bool {
	switch p {
	case PhaseInvalid, PhaseSelfAddress, PhaseCreated, PhaseCreateFailed:
		return true
	default:
		return false
	}
}

// Identity is the local account.
type Identity struct {
	Address             string    `json:"address"`
	IdentityPubEd25519  string    `json:"identity_pub_ed25519"`
	IdentityPrivEd25519 string    `json:"identity_priv_ed25519"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Account is an address provisioned to receive messages on the local network.
type Account struct {
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// NameRecord maps a human-readable name to a literal address.
type NameRecord struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationRecord is the stored form of a conversation between two members.
type ConversationRecord struct {
	ConversationID string    `json:"conversation_id"`
	Members        []string  `json:"members"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageRecord struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderAddress  string    `json:"sender_address"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
}
