package peerchat

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Service holds local account operations on top of a Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Store() Store {
	return s.store
}

func (s *Service) GetIdentity(ctx context.Context) (Identity, bool, error) {
	return s.store.GetIdentity(ctx)
}

// EnsureIdentity returns the local identity, generating an ed25519 key pair
// and registering its address when none exists yet.
func (s *Service) EnsureIdentity(ctx context.Context, now time.Time) (Identity, bool, error) {
	if err := s.store.Ensure(ctx); err != nil {
		return Identity{}, false, err
	}
	identity, ok, err := s.store.GetIdentity(ctx)
	if err != nil {
		return Identity{}, false, err
	}
	if ok {
		return identity, false, nil
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, false, fmt.Errorf("generate identity key: %w", err)
	}
	identity = Identity{
		Address:             AddressFromPublicKey(pub),
		IdentityPubEd25519:  base64.RawURLEncoding.EncodeToString(pub),
		IdentityPrivEd25519: base64.RawURLEncoding.EncodeToString(priv.Seed()),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.PutIdentity(ctx, identity); err != nil {
		return Identity{}, false, err
	}
	if err := s.store.PutAccount(ctx, Account{Address: identity.Address, CreatedAt: now}); err != nil {
		return Identity{}, false, err
	}
	return identity, true, nil
}

// ParseIdentityPrivateKey decodes the stored ed25519 seed.
func ParseIdentityPrivateKey(encoded string) (ed25519.PrivateKey, error) {
	seed, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode identity private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity private key has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (s *Service) RegisterAccount(ctx context.Context, address string, now time.Time) (Account, error) {
	if !IsLiteralAddress(address) {
		return Account{}, WrapError(ErrValidation, "%q is not a literal address", strings.TrimSpace(address))
	}
	account := Account{Address: NormalizeAddress(address), CreatedAt: now}
	if err := s.store.PutAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.store.ListAccounts(ctx)
}

// PutName binds name to address in the local name book. Names are
// classified with classifier so that only resolvable names are stored.
func (s *Service) PutName(ctx context.Context, classifier Classifier, name string, address string, now time.Time) (NameRecord, error) {
	if id := classifier.Classify(name); id.Kind != IdentifierName {
		return NameRecord{}, WrapError(ErrValidation, "%q is not a resolvable name", strings.TrimSpace(name))
	}
	if !IsLiteralAddress(address) {
		return NameRecord{}, WrapError(ErrValidation, "%q is not a literal address", strings.TrimSpace(address))
	}
	record := NameRecord{
		Name:      normalizeName(name),
		Address:   NormalizeAddress(address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutName(ctx, record); err != nil {
		return NameRecord{}, err
	}
	stored, ok, err := s.store.GetName(ctx, record.Name)
	if err != nil {
		return NameRecord{}, err
	}
	if !ok {
		return record, nil
	}
	return stored, nil
}

func (s *Service) DeleteName(ctx context.Context, name string) (bool, error) {
	return s.store.DeleteName(ctx, name)
}

func (s *Service) ListNames(ctx context.Context) ([]NameRecord, error) {
	return s.store.ListNames(ctx)
}
