package peerchat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/peerchat/internal/fsstore"
)

const (
	accountsFileVersion = 1
	namesFileVersion    = 1
)

// FileStore keeps peerchat state under one directory. Writers serialize on an
// in-process mutex and a lock file so several CLI processes can share a
// directory.
type FileStore struct {
	root string

	mu sync.Mutex
}

type accountsFile struct {
	Version  int       `json:"version"`
	Accounts []Account `json:"accounts"`
}

type namesFile struct {
	Version int          `json:"version"`
	Names   []NameRecord `json:"names"`
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

func (s *FileStore) Root() string {
	return s.rootPath()
}

func (s *FileStore) Ensure(ctx context.Context) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsstore.EnsureDir(s.rootPath(), 0o700)
}

func (s *FileStore) GetIdentity(ctx context.Context) (Identity, bool, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return Identity{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var identity Identity
	ok, err := fsstore.ReadJSONStrict(s.identityPath(), &identity)
	if err != nil {
		return Identity{}, false, err
	}
	if !ok {
		return Identity{}, false, nil
	}
	return identity, true, nil
}

func (s *FileStore) PutIdentity(ctx context.Context, identity Identity) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	if !IsLiteralAddress(identity.Address) {
		return WrapError(ErrValidation, "identity address %q is not a literal address", identity.Address)
	}
	identity.Address = NormalizeAddress(identity.Address)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withStateLock(ctx, func() error {
		return s.writeJSONFileAtomic(s.identityPath(), identity, 0o600)
	})
}

// PutAccount registers an address on the local network. Registering an
// existing address keeps its original creation time.
func (s *FileStore) PutAccount(ctx context.Context, account Account) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	if !IsLiteralAddress(account.Address) {
		return WrapError(ErrValidation, "account address %q is not a literal address", account.Address)
	}
	account.Address = NormalizeAddress(account.Address)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withStateLock(ctx, func() error {
		accounts, err := s.loadAccountsLocked()
		if err != nil {
			return err
		}
		for _, existing := range accounts {
			if existing.Address == account.Address {
				return nil
			}
		}
		accounts = append(accounts, account)
		return s.saveAccountsLocked(accounts)
	})
}

func (s *FileStore) HasAccount(ctx context.Context, address string) (bool, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.loadAccountsLocked()
	if err != nil {
		return false, err
	}
	address = NormalizeAddress(address)
	for _, account := range accounts {
		if account.Address == address {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileStore) ListAccounts(ctx context.Context) ([]Account, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.loadAccountsLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Address < accounts[j].Address
	})
	return accounts, nil
}

func (s *FileStore) PutName(ctx context.Context, record NameRecord) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	record.Name = normalizeName(record.Name)
	if record.Name == "" {
		return WrapError(ErrValidation, "name is required")
	}
	if !IsLiteralAddress(record.Address) {
		return WrapError(ErrValidation, "name address %q is not a literal address", record.Address)
	}
	record.Address = NormalizeAddress(record.Address)
	now := time.Now().UTC()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withStateLock(ctx, func() error {
		names, err := s.loadNamesLocked()
		if err != nil {
			return err
		}
		replaced := false
		for i := range names {
			if names[i].Name == record.Name {
				record.CreatedAt = names[i].CreatedAt
				names[i] = record
				replaced = true
				break
			}
		}
		if !replaced {
			if record.CreatedAt.IsZero() {
				record.CreatedAt = record.UpdatedAt
			}
			names = append(names, record)
		}
		return s.saveNamesLocked(names)
	})
}

func (s *FileStore) GetName(ctx context.Context, name string) (NameRecord, bool, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return NameRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.loadNamesLocked()
	if err != nil {
		return NameRecord{}, false, err
	}
	name = normalizeName(name)
	for _, record := range names {
		if record.Name == name {
			return record, true, nil
		}
	}
	return NameRecord{}, false, nil
}

func (s *FileStore) DeleteName(ctx context.Context, name string) (bool, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return false, err
	}
	name = normalizeName(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := false
	err := s.withStateLock(ctx, func() error {
		names, err := s.loadNamesLocked()
		if err != nil {
			return err
		}
		filtered := make([]NameRecord, 0, len(names))
		for _, record := range names {
			if record.Name == name {
				deleted = true
				continue
			}
			filtered = append(filtered, record)
		}
		if !deleted {
			return nil
		}
		return s.saveNamesLocked(filtered)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *FileStore) ListNames(ctx context.Context) ([]NameRecord, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.loadNamesLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i].Name < names[j].Name
	})
	return names, nil
}

func (s *FileStore) AppendConversation(ctx context.Context, record ConversationRecord) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	record.ConversationID = strings.TrimSpace(record.ConversationID)
	if record.ConversationID == "" {
		return WrapError(ErrValidation, "conversation_id is required")
	}
	members := make([]string, 0, len(record.Members))
	for _, member := range record.Members {
		if !IsLiteralAddress(member) {
			return WrapError(ErrValidation, "conversation member %q is not a literal address", member)
		}
		members = append(members, NormalizeAddress(member))
	}
	if len(members) != 2 {
		return WrapError(ErrValidation, "conversation requires exactly two members, got %d", len(members))
	}
	record.Members = members
	record.CreatedBy = NormalizeAddress(record.CreatedBy)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withStateLock(ctx, func() error {
		return s.appendJSONLLocked(s.conversationsPath(), record)
	})
}

func (s *FileStore) ListConversationRecords(ctx context.Context) ([]ConversationRecord, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ConversationRecord, 0, 16)
	seen := map[string]bool{}
	err := s.withStateLock(ctx, func() error {
		_, err := fsstore.ReadJSONL(s.conversationsPath(), func(line []byte) error {
			var record ConversationRecord
			if err := json.Unmarshal(line, &record); err != nil {
				return err
			}
			if record.ConversationID == "" || seen[record.ConversationID] {
				return nil
			}
			seen[record.ConversationID] = true
			records = append(records, record)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}
	return records, nil
}

func (s *FileStore) AppendMessage(ctx context.Context, record MessageRecord) error {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return err
	}
	record.MessageID = strings.TrimSpace(record.MessageID)
	record.ConversationID = strings.TrimSpace(record.ConversationID)
	if record.MessageID == "" || record.ConversationID == "" {
		return WrapError(ErrValidation, "message_id and conversation_id are required")
	}
	if len(record.Content) > MaxMessageBytes {
		return WrapError(ErrValidation, "message %s is %d bytes, limit is %d", record.MessageID, len(record.Content), MaxMessageBytes)
	}
	record.SenderAddress = NormalizeAddress(record.SenderAddress)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withStateLock(ctx, func() error {
		return s.appendJSONLLocked(s.messagesPath(), record)
	})
}

// ListMessageRecords returns the messages of one conversation in file order.
func (s *FileStore) ListMessageRecords(ctx context.Context, conversationID string) ([]MessageRecord, error) {
	if err := s.ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	conversationID = strings.TrimSpace(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]MessageRecord, 0, 64)
	err := s.withStateLock(ctx, func() error {
		_, err := fsstore.ReadJSONL(s.messagesPath(), func(line []byte) error {
			var record MessageRecord
			if err := json.Unmarshal(line, &record); err != nil {
				return err
			}
			if record.ConversationID != conversationID {
				return nil
			}
			records = append(records, record)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return records, nil
}

func (s *FileStore) loadAccountsLocked() ([]Account, error) {
	var file accountsFile
	ok, err := s.readJSONFile(s.accountsPath(), &file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Account{}, nil
	}
	return file.Accounts, nil
}

func (s *FileStore) saveAccountsLocked(accounts []Account) error {
	return s.writeJSONFileAtomic(s.accountsPath(), accountsFile{
		Version:  accountsFileVersion,
		Accounts: accounts,
	}, 0o600)
}

func (s *FileStore) loadNamesLocked() ([]NameRecord, error) {
	var file namesFile
	ok, err := s.readJSONFile(s.namesPath(), &file)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []NameRecord{}, nil
	}
	return file.Names, nil
}

func (s *FileStore) saveNamesLocked(names []NameRecord) error {
	return s.writeJSONFileAtomic(s.namesPath(), namesFile{
		Version: namesFileVersion,
		Names:   names,
	}, 0o600)
}

func (s *FileStore) appendJSONLLocked(path string, v any) error {
	writer, err := fsstore.NewJSONLWriter(path, fsstore.JSONLOptions{
		DirPerm:        0o700,
		FilePerm:       0o600,
		FlushEachWrite: true,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer writer.Close()
	if err := writer.AppendJSON(v); err != nil {
		return fmt.Errorf("append %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStore) readJSONFile(path string, out any) (bool, error) {
	ok, err := fsstore.ReadJSON(path, out)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return ok, nil
}

func (s *FileStore) writeJSONFileAtomic(path string, v any, perm os.FileMode) error {
	return fsstore.WriteJSONAtomic(path, v, fsstore.FileOptions{
		DirPerm:  0o700,
		FilePerm: perm,
	})
}

func (s *FileStore) ensureNotCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *FileStore) rootPath() string {
	root := strings.TrimSpace(s.root)
	if root == "" {
		return "peerchat"
	}
	return filepath.Clean(root)
}

func (s *FileStore) withStateLock(ctx context.Context, fn func() error) error {
	lockPath, err := fsstore.BuildLockPath(filepath.Join(s.rootPath(), ".fslocks"), "state.main")
	if err != nil {
		return err
	}
	return fsstore.WithLock(ctx, lockPath, fn)
}

func (s *FileStore) identityPath() string {
	return filepath.Join(s.rootPath(), "identity.json")
}

func (s *FileStore) accountsPath() string {
	return filepath.Join(s.rootPath(), "accounts.json")
}

func (s *FileStore) namesPath() string {
	return filepath.Join(s.rootPath(), "names.json")
}

func (s *FileStore) conversationsPath() string {
	return filepath.Join(s.rootPath(), "conversations.jsonl")
}

func (s *FileStore) messagesPath() string {
	return filepath.Join(s.rootPath(), "messages.jsonl")
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
