package peerchat

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

type IndexEventKind string

const (
	IndexMerged IndexEventKind = "merged"
	IndexError  IndexEventKind = "error"
)

// IndexEvent is delivered to index watchers after every accepted merge and
// every reported stream error.
type IndexEvent struct {
	Kind         IndexEventKind
	Conversation Conversation
	Err          error
}

type IndexOptions struct {
	Logger *slog.Logger
}

// ConversationIndex is the merged, de-duplicated view of the snapshot and the
// live conversation stream. Entries keep arrival order and are never removed.
type ConversationIndex struct {
	logger *slog.Logger

	// notifyMu serializes mutation plus notification so watchers observe
	// events in the order they were applied. Watchers must not call Merge or
	// ReportError.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	order     []string
	byID      map[string]Conversation
	err       error
	watchers  map[uint64]func(IndexEvent)
	watcherID uint64
}

func NewConversationIndex(snapshot []Conversation, opts IndexOptions) *ConversationIndex {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	idx := &ConversationIndex{
		logger:   opts.Logger,
		byID:     make(map[string]Conversation, len(snapshot)),
		watchers: map[uint64]func(IndexEvent){},
	}
	for _, c := range snapshot {
		idx.insertLocked(c)
	}
	return idx
}

// LoadConversationIndex builds an index from the source's snapshot.
func LoadConversationIndex(ctx context.Context, src ConversationSource, opts IndexOptions) (*ConversationIndex, error) {
	if src == nil {
		return nil, WrapError(ErrValidation, "conversation source is required")
	}
	snapshot, err := src.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	return NewConversationIndex(snapshot, opts), nil
}

// Merge appends c if its id is unseen. It reports whether the index changed.
func (x *ConversationIndex) Merge(c Conversation) bool {
	x.notifyMu.Lock()
	defer x.notifyMu.Unlock()

	x.mu.Lock()
	added := x.insertLocked(c)
	x.mu.Unlock()
	if !added {
		return false
	}
	x.logger.Debug("conversation merged", "conversation_id", c.ID, "peer_address", c.PeerAddress)
	x.notify(IndexEvent{Kind: IndexMerged, Conversation: c})
	return true
}

func (x *ConversationIndex) insertLocked(c Conversation) bool {
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return false
	}
	if _, exists := x.byID[id]; exists {
		return false
	}
	c.ID = id
	x.byID[id] = c
	x.order = append(x.order, id)
	return true
}

// ReportError records a live-source failure. Merged entries are kept.
func (x *ConversationIndex) ReportError(err error) {
	if err == nil {
		return
	}
	x.notifyMu.Lock()
	defer x.notifyMu.Unlock()

	wrapped := err
	if SymbolOf(err) != ErrStreamSymbol {
		wrapped = WrapCause(ErrStream, err, "conversation stream")
	}
	x.mu.Lock()
	x.err = wrapped
	x.mu.Unlock()
	x.logger.Warn("conversation stream error", "err", err)
	x.notify(IndexEvent{Kind: IndexError, Err: wrapped})
}

// Err returns the last reported stream error, if any.
func (x *ConversationIndex) Err() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.err
}

// ClearErr forgets the last stream error, typically after resubscribing.
func (x *ConversationIndex) ClearErr() {
	x.mu.Lock()
	x.err = nil
	x.mu.Unlock()
}

// Filter returns a lazy view over the entries matching pred, in arrival
// order. Each iteration reads the current state, so the sequence can be
// ranged over repeatedly.
func (x *ConversationIndex) Filter(pred func(Conversation) bool) iter.Seq[Conversation] {
	return func(yield func(Conversation) bool) {
		for _, c := range x.All() {
			if pred != nil && !pred(c) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// FindByAddress returns the first conversation with the given peer address,
// compared case-insensitively.
func (x *ConversationIndex) FindByAddress(address string) (Conversation, bool) {
	address = NormalizeAddress(address)
	if address == "" {
		return Conversation{}, false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, id := range x.order {
		c := x.byID[id]
		if NormalizeAddress(c.PeerAddress) == address {
			return c, true
		}
	}
	return Conversation{}, false
}

func (x *ConversationIndex) Get(id string) (Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.byID[strings.TrimSpace(id)]
	return c, ok
}

func (x *ConversationIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.order)
}

// All returns a copy of the entries in arrival order.
func (x *ConversationIndex) All() []Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Conversation, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.byID[id])
	}
	return out
}

// Watch registers fn for index events and returns a function that removes it.
func (x *ConversationIndex) Watch(fn func(IndexEvent)) func() {
	if fn == nil {
		return func() {}
	}
	x.mu.Lock()
	x.watcherID++
	id := x.watcherID
	x.watchers[id] = fn
	x.mu.Unlock()
	return func() {
		x.mu.Lock()
		delete(x.watchers, id)
		x.mu.Unlock()
	}
}

func (x *ConversationIndex) notify(ev IndexEvent) {
	x.mu.RLock()
	ids := make([]uint64, 0, len(x.watchers))
	for id := range x.watchers {
		ids = append(ids, id)
	}
	fns := make([]func(IndexEvent), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, x.watchers[id])
	}
	x.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Follow subscribes the index to src's live stream. After the subscription is
// established the snapshot is listed once more so conversations opened in
// between are not missed; duplicates merge as no-ops.
func (x *ConversationIndex) Follow(ctx context.Context, src ConversationSource) (Subscription, error) {
	if src == nil {
		return nil, WrapError(ErrValidation, "conversation source is required")
	}
	sub, err := src.SubscribeConversations(ctx, func(c Conversation) {
		x.Merge(c)
	}, x.ReportError)
	if err != nil {
		x.ReportError(err)
		return nil, WrapCause(ErrStream, err, "subscribe conversations")
	}
	catchUp, err := src.ListConversations(ctx)
	if err != nil {
		x.ReportError(err)
		return sub, nil
	}
	for _, c := range catchUp {
		x.Merge(c)
	}
	return sub, nil
}

// SearchFilter matches conversations whose peer contains query
// (case-insensitive) and whose peer is not self.
func SearchFilter(query string, self string) func(Conversation) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	self = NormalizeAddress(self)
	return func(c Conversation) bool {
		peer := NormalizeAddress(c.PeerAddress)
		if self != "" && peer == self {
			return false
		}
		return strings.Contains(peer, query)
	}
}
