package peerchat

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

type ReconcilerOptions struct {
	FetchTimeout time.Duration
	SendTimeout  time.Duration
	Logger       *slog.Logger
	// OnMerge receives messages newly added to the view, in view order. It
	// must not call Open, Send or Close.
	OnMerge func([]Message)
	// OnError receives live stream failures.
	OnError func(error)
}

// MessageReconciler keeps the de-duplicated message view of one open
// conversation: history fetched once, then live arrivals in arrival order.
type MessageReconciler struct {
	transport MessageTransport
	opts      ReconcilerOptions

	notifyMu sync.Mutex

	mu         sync.Mutex
	generation uint64
	conv       *Conversation
	sub        Subscription
	order      []string
	byID       map[string]Message
	pending    []Message
	loaded     bool
	sending    bool
	err        error
}

func NewMessageReconciler(transport MessageTransport, opts ReconcilerOptions) *MessageReconciler {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultResolveTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultCreateTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MessageReconciler{transport: transport, opts: opts, byID: map[string]Message{}}
}

// Open switches the reconciler to conv. The live subscription is established
// before history is fetched; arrivals in between are buffered and merged
// after the history. A stream failure is recorded, not returned.
func (r *MessageReconciler) Open(ctx context.Context, conv Conversation) error {
	if strings.TrimSpace(conv.ID) == "" {
		return WrapError(ErrValidation, "conversation id is required")
	}
	if r.transport == nil {
		return WrapError(ErrValidation, "message transport is required")
	}
	r.mu.Lock()
	r.resetLocked()
	r.generation++
	gen := r.generation
	c := conv
	r.conv = &c
	r.mu.Unlock()

	sub, err := r.transport.SubscribeMessages(ctx, conv, func(m Message) {
		r.arrive(gen, m)
	}, func(err error) {
		r.streamError(gen, err)
	})
	if err != nil {
		r.streamError(gen, err)
	} else {
		r.mu.Lock()
		if gen == r.generation {
			r.sub = sub
			sub = nil
		}
		r.mu.Unlock()
		if sub != nil {
			sub.Cancel()
			return nil
		}
	}

	fetchCtx, cancel := withTimeoutIfNeeded(ctx, r.opts.FetchTimeout)
	history, err := r.transport.FetchMessages(fetchCtx, conv)
	cancel()
	if err != nil {
		r.opts.Logger.Warn("fetch messages failed", "conversation_id", conv.ID, "err", err)
		r.historyFailed(gen, err)
		return err
	}
	slices.SortStableFunc(history, func(a, b Message) int {
		return a.SentAt.Compare(b.SentAt)
	})

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return nil
	}
	added := make([]Message, 0, len(history)+len(r.pending))
	for _, m := range history {
		if r.insertLocked(m) {
			added = append(added, m)
		}
	}
	for _, m := range r.pending {
		if r.insertLocked(m) {
			added = append(added, m)
		}
	}
	r.pending = nil
	r.loaded = true
	r.mu.Unlock()
	r.opts.Logger.Debug("conversation opened", "conversation_id", conv.ID, "messages", len(added))
	r.emit(added)
	return nil
}

// historyFailed keeps the conversation open on the live stream alone and
// records the fetch failure in Err.
func (r *MessageReconciler) historyFailed(gen uint64, err error) {
	wrapped := WrapCause(ErrStream, err, "fetch history")
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	added := make([]Message, 0, len(r.pending))
	for _, m := range r.pending {
		if r.insertLocked(m) {
			added = append(added, m)
		}
	}
	r.pending = nil
	r.loaded = true
	r.err = wrapped
	r.mu.Unlock()
	r.emit(added)
	if r.opts.OnError != nil {
		r.opts.OnError(wrapped)
	}
}

// Close stops the live subscription and clears the view.
func (r *MessageReconciler) Close() {
	r.mu.Lock()
	r.generation++
	r.resetLocked()
	r.mu.Unlock()
}

func (r *MessageReconciler) resetLocked() {
	if r.sub != nil {
		r.sub.Cancel()
		r.sub = nil
	}
	r.conv = nil
	r.order = nil
	r.byID = map[string]Message{}
	r.pending = nil
	r.loaded = false
	r.err = nil
}

func (r *MessageReconciler) Conversation() (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil {
		return Conversation{}, false
	}
	return *r.conv, true
}

// Messages returns a copy of the merged view.
func (r *MessageReconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *MessageReconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Err returns the last live stream failure of the open conversation.
func (r *MessageReconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Sending reports whether a send is outstanding.
func (r *MessageReconciler) Sending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sending
}

// Send delivers text to the open conversation. Blank text is rejected
// without contacting the network, as is a send while another is outstanding.
func (r *MessageReconciler) Send(ctx context.Context, text string) (Message, error) {
	if err := ValidateMessageText(text); err != nil {
		return Message{}, err
	}
	r.mu.Lock()
	if r.conv == nil {
		r.mu.Unlock()
		return Message{}, WrapError(ErrValidation, "no conversation is open")
	}
	if r.sending {
		r.mu.Unlock()
		return Message{}, ErrSendInFlight
	}
	r.sending = true
	gen := r.generation
	conv := *r.conv
	r.mu.Unlock()

	sendCtx, cancel := withTimeoutIfNeeded(ctx, r.opts.SendTimeout)
	msg, err := r.transport.SendMessage(sendCtx, conv, text)
	cancel()

	r.mu.Lock()
	r.sending = false
	r.mu.Unlock()
	if err != nil {
		r.opts.Logger.Warn("send message failed", "conversation_id", conv.ID, "err", err)
		return Message{}, WrapCause(ErrSendFailed, err, "send to %s", conv.ID)
	}
	r.arrive(gen, msg)
	return msg, nil
}

func (r *MessageReconciler) arrive(gen uint64, m Message) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if gen != r.generation || r.conv == nil {
		r.mu.Unlock()
		return
	}
	if m.ConversationID != "" && m.ConversationID != r.conv.ID {
		r.mu.Unlock()
		return
	}
	if !r.loaded {
		r.pending = append(r.pending, m)
		r.mu.Unlock()
		return
	}
	added := r.insertLocked(m)
	r.mu.Unlock()
	if added {
		r.emit([]Message{m})
	}
}

func (r *MessageReconciler) insertLocked(m Message) bool {
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return false
	}
	if _, exists := r.byID[id]; exists {
		return false
	}
	m.ID = id
	r.byID[id] = m
	r.order = append(r.order, id)
	return true
}

func (r *MessageReconciler) streamError(gen uint64, err error) {
	if err == nil {
		return
	}
	wrapped := err
	if SymbolOf(err) != ErrStreamSymbol {
		wrapped = WrapCause(ErrStream, err, "message stream")
	}
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.err = wrapped
	r.mu.Unlock()
	r.opts.Logger.Warn("message stream error", "err", err)
	if r.opts.OnError != nil {
		r.opts.OnError(wrapped)
	}
}

func (r *MessageReconciler) emit(added []Message) {
	if len(added) == 0 || r.opts.OnMerge == nil {
		return
	}
	r.opts.OnMerge(added)
}
