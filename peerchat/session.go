package peerchat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type SessionOptions struct {
	Classifier     Classifier
	ResolveTimeout time.Duration
	ReachTimeout   time.Duration
	CreateTimeout  time.Duration
	Logger         *slog.Logger
	// OnChange receives every state transition in order. It must not call
	// SetQuery, Create or Close.
	OnChange func(SearchState)
}

func normalizeSessionOptions(opts SessionOptions) SessionOptions {
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.ReachTimeout <= 0 {
		opts.ReachTimeout = DefaultReachTimeout
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = DefaultCreateTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// SearchState is the observable state of one peer query. Seq increases with
// every new query.
type SearchState struct {
	Seq          uint64           `json:"seq"`
	Query        string           `json:"query"`
	Identifier   Identifier       `json:"identifier"`
	Resolved     *ResolvedAddress `json:"resolved,omitempty"`
	Reachability Reachability     `json:"reachability"`
	Match        *Conversation    `json:"match,omitempty"`
	Created      *Conversation    `json:"created,omitempty"`
	Phase        SessionPhase     `json:"phase"`
	Retryable    bool             `json:"retryable,omitempty"`
	Err          error            `json:"-"`
}

func (s SearchState) Loading() bool {
	return s.Phase == PhaseResolving || s.Phase == PhaseCreating
}

func (s SearchState) CanCreate() bool {
	return s.Phase == PhaseCreatableNew
}

func (s SearchState) ConversationFound() bool {
	return s.Phase == PhaseExistingConversationFound
}

// StatusText is the one-line status shown next to the search field.
func (s SearchState) StatusText() string {
	switch s.Phase {
	case PhaseResolving:
		if s.Resolved == nil {
			return "Resolving address..."
		}
		return "Searching..."
	case PhaseInvalid:
		if strings.TrimSpace(s.Query) == "" {
			return ""
		}
		if s.Identifier.Kind == IdentifierName {
			return "Could not resolve name"
		}
		return "Invalid address"
	case PhaseSelfAddress:
		return "No self-messaging allowed"
	case PhaseUnreachable:
		return "Address is not on the network"
	case PhaseExistingConversationFound:
		return "Conversation already exists"
	case PhaseCreatableNew:
		if s.Retryable && s.Err != nil {
			return "Failed to start conversation. Please try again."
		}
		return "Address is on the network"
	case PhaseCreating:
		return "Creating conversation..."
	case PhaseCreated:
		return "Conversation created"
	case PhaseCreateFailed:
		return "Failed to start conversation. Please try again."
	default:
		return ""
	}
}

// SessionController decides, for the current query, whether the user may
// resume an existing conversation or create a new one.
type SessionController struct {
	client     NetworkClient
	index      *ConversationIndex
	resolver   *NameResolver
	reach      *ReachabilityChecker
	classifier Classifier
	opts       SessionOptions
	self       string
	unwatch    func()

	wg sync.WaitGroup

	// notifyMu orders transitions with their OnChange delivery.
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    SearchState
	cancel   context.CancelFunc
	creating bool
	closed   bool
}

func NewSessionController(client NetworkClient, names NameService, index *ConversationIndex, opts SessionOptions) (*SessionController, error) {
	if client == nil {
		return nil, WrapError(ErrValidation, "network client is required")
	}
	opts = normalizeSessionOptions(opts)
	if index == nil {
		index = NewConversationIndex(nil, IndexOptions{Logger: opts.Logger})
	}
	s := &SessionController{
		client: client,
		index:  index,
		resolver: NewNameResolver(names, ResolverOptions{
			Timeout: opts.ResolveTimeout,
			Logger:  opts.Logger,
		}),
		reach: NewReachabilityChecker(client, ReachabilityOptions{
			Timeout: opts.ReachTimeout,
			Logger:  opts.Logger,
		}),
		classifier: opts.Classifier,
		opts:       opts,
		self:       NormalizeAddress(client.CurrentUserAddress()),
		state:      SearchState{Phase: PhaseIdle, Reachability: ReachabilityUnknown},
	}
	s.unwatch = index.Watch(s.onIndexEvent)
	return s, nil
}

func (s *SessionController) Index() *ConversationIndex {
	return s.index
}

// State returns a copy of the current search state.
func (s *SessionController) State() SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until every asynchronous step started so far has completed.
func (s *SessionController) Wait() {
	s.wg.Wait()
}

// Close cancels outstanding work and detaches from the index.
func (s *SessionController) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.resolver.Cancel()
	if s.unwatch != nil {
		s.unwatch()
	}
}

// SetQuery starts evaluation of a new query. Results of earlier queries that
// are still in flight are discarded.
func (s *SessionController) SetQuery(ctx context.Context, raw string) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	queryCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	id := s.classifier.Classify(raw)
	s.state = SearchState{
		Seq:          s.state.Seq + 1,
		Query:        raw,
		Identifier:   id,
		Reachability: ReachabilityUnknown,
	}
	seq := s.state.Seq
	switch id.Kind {
	case IdentifierLiteral:
		s.evaluateLocked(queryCtx, seq, DirectAddress(id.Raw))
	case IdentifierName:
		s.state.Phase = PhaseResolving
		pending := s.resolver.Start(queryCtx, id.Raw)
		s.launch(func() {
			res, current := pending.Wait()
			if !current {
				return
			}
			s.applyResolution(queryCtx, seq, res)
		})
	default:
		s.state.Phase = PhaseInvalid
		if strings.TrimSpace(raw) == "" {
			s.state.Err = WrapError(ErrValidation, "identifier is required")
		} else {
			s.state.Err = WrapError(ErrValidation, "%q is not an address or name", strings.TrimSpace(raw))
		}
	}
	snap := s.state
	s.mu.Unlock()
	s.emit(snap)
}

// evaluateLocked applies the self, existing-conversation and reachability
// rules to a literal address.
func (s *SessionController) evaluateLocked(ctx context.Context, seq uint64, addr ResolvedAddress) {
	s.state.Resolved = &addr
	if SameAddress(addr.Address, s.self) {
		s.state.Phase = PhaseSelfAddress
		s.opts.Logger.Debug("query is own address", "peer_address", addr.Address)
		return
	}
	if c, ok := s.index.FindByAddress(addr.Address); ok {
		s.state.Match = &c
		s.state.Phase = PhaseExistingConversationFound
	} else {
		s.state.Phase = PhaseResolving
	}
	s.launch(func() {
		r, err := s.reach.Check(ctx, addr.Address)
		s.applyReachability(seq, addr, r, err)
	})
}

func (s *SessionController) applyResolution(ctx context.Context, seq uint64, res Resolution) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || s.state.Seq != seq || s.state.Phase != PhaseResolving {
		s.mu.Unlock()
		return
	}
	if res.Err != nil {
		s.state.Phase = PhaseInvalid
		s.state.Resolved = nil
		s.state.Err = res.Err
		s.opts.Logger.Debug("query name unresolved", "name", res.Name, "err", res.Err)
	} else {
		s.evaluateLocked(ctx, seq, res.Address)
	}
	snap := s.state
	s.mu.Unlock()
	s.emit(snap)
}

func (s *SessionController) applyReachability(seq uint64, addr ResolvedAddress, r Reachability, err error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || s.state.Seq != seq {
		s.mu.Unlock()
		return
	}
	s.state.Reachability = r
	switch s.state.Phase {
	case PhaseExistingConversationFound:
		// Existing conversation wins; only the reachability detail changes.
	case PhaseResolving:
		if c, ok := s.index.FindByAddress(addr.Address); ok {
			s.state.Match = &c
			s.state.Phase = PhaseExistingConversationFound
			break
		}
		switch {
		case err != nil:
			s.state.Phase = PhaseUnreachable
			s.state.Err = WrapCause(ErrUnreachable, err, "reachability of %s unknown", addr.Address)
		case r == ReachabilityUnreachable:
			s.state.Phase = PhaseUnreachable
			s.state.Err = WrapError(ErrUnreachable, "%s is not on the network", addr.Address)
		default:
			s.state.Phase = PhaseCreatableNew
		}
	default:
		s.mu.Unlock()
		return
	}
	snap := s.state
	s.mu.Unlock()
	s.emit(snap)
}

// onIndexEvent upgrades the current candidate when a conversation with it
// arrives on the live stream.
func (s *SessionController) onIndexEvent(ev IndexEvent) {
	if ev.Kind != IndexMerged {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || s.state.Resolved == nil || !SameAddress(ev.Conversation.PeerAddress, s.state.Resolved.Address) {
		s.mu.Unlock()
		return
	}
	switch s.state.Phase {
	case PhaseResolving, PhaseUnreachable, PhaseCreatableNew:
	default:
		s.mu.Unlock()
		return
	}
	c := ev.Conversation
	s.state.Match = &c
	s.state.Phase = PhaseExistingConversationFound
	s.state.Err = nil
	snap := s.state
	s.mu.Unlock()
	s.emit(snap)
}

// Create opens a conversation with the current candidate and sends
// firstMessage. It is accepted from CreatableNew only; a call while another
// creation is outstanding returns ErrCreateInFlight and changes nothing. A
// failure is reported as CreateFailed and then returns the query to
// CreatableNew with Err and Retryable set.
func (s *SessionController) Create(ctx context.Context, firstMessage string) (Conversation, error) {
	if strings.TrimSpace(firstMessage) == "" {
		return Conversation{}, WrapError(ErrValidation, "first message is required")
	}
	s.notifyMu.Lock()
	s.mu.Lock()
	if s.creating {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return Conversation{}, ErrCreateInFlight
	}
	if s.closed || !s.state.CanCreate() || s.state.Resolved == nil {
		phase := s.state.Phase
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return Conversation{}, WrapError(ErrValidation, "cannot create a conversation in phase %s", phase)
	}
	s.creating = true
	s.wg.Add(1)
	defer s.wg.Done()
	seq := s.state.Seq
	peer := s.state.Resolved.Address
	s.state.Phase = PhaseCreating
	s.state.Err = nil
	s.state.Retryable = false
	snap := s.state
	s.mu.Unlock()
	s.emit(snap)
	s.notifyMu.Unlock()

	createCtx, cancel := withTimeoutIfNeeded(ctx, s.opts.CreateTimeout)
	conv, err := s.client.CreateConversation(createCtx, peer, firstMessage)
	cancel()
	if err != nil {
		err = WrapCause(ErrCreateFailed, err, "create conversation with %s", peer)
		s.opts.Logger.Warn("create conversation failed", "peer_address", peer, "err", err)
	} else {
		s.opts.Logger.Info("conversation created", "conversation_id", conv.ID, "peer_address", peer)
		s.index.Merge(conv)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	s.creating = false
	if s.state.Seq != seq || s.state.Phase != PhaseCreating {
		s.mu.Unlock()
		return conv, err
	}
	if err != nil {
		s.state.Phase = PhaseCreateFailed
		s.state.Err = err
		s.state.Retryable = true
		failed := s.state
		s.state.Phase = PhaseCreatableNew
		snap = s.state
		s.mu.Unlock()
		s.emit(failed)
		s.emit(snap)
		return conv, err
	}
	s.state.Phase = PhaseCreated
	s.state.Created = &conv
	snap = s.state
	s.mu.Unlock()
	s.emit(snap)
	return conv, err
}

func (s *SessionController) launch(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *SessionController) emit(state SearchState) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(state)
	}
}
