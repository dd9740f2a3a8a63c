package peerchat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testSelf  = "0x0000000000000000000000000000000000000001"
	testAlice = "0xabcd000000000000000000000000000000001234"
	testBob   = "0xb0b0000000000000000000000000000000000b0b"
)

// fakeNetwork is an in-memory NetworkClient. Gates, when set, block the
// corresponding call until closed.
type fakeNetwork struct {
	self string

	mu            sync.Mutex
	reachable     map[string]bool
	reachErr      error
	reachGate     chan struct{}
	reachCalls    int
	conversations []Conversation
	listErr       error
	convArrival   func(Conversation)
	convError     func(error)
	createErr     error
	createGate    chan struct{}
	createCalls   int
	history       map[string][]Message
	fetchHook     func()
	fetchErr      error
	msgArrival    map[string]func(Message)
	msgError      map[string]func(error)
	msgCancels    int
	sendErr       error
	sendGate      chan struct{}
	sendCalls     int
	nextID        int
}

func newFakeNetwork(self string) *fakeNetwork {
	return &fakeNetwork{
		self:       self,
		reachable:  map[string]bool{},
		history:    map[string][]Message{},
		msgArrival: map[string]func(Message){},
		msgError:   map[string]func(error){},
	}
}

func (f *fakeNetwork) CurrentUserAddress() string {
	return f.self
}

func (f *fakeNetwork) IsReachable(ctx context.Context, address string) (bool, error) {
	f.mu.Lock()
	f.reachCalls++
	gate := f.reachGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reachErr != nil {
		return false, f.reachErr
	}
	return f.reachable[NormalizeAddress(address)], nil
}

func (f *fakeNetwork) ListConversations(ctx context.Context) ([]Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Conversation, len(f.conversations))
	copy(out, f.conversations)
	return out, nil
}

func (f *fakeNetwork) SubscribeConversations(ctx context.Context, onArrival func(Conversation), onError func(error)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convArrival = onArrival
	f.convError = onError
	return NewSubscription(func() {
		f.mu.Lock()
		f.convArrival = nil
		f.mu.Unlock()
	}), nil
}

func (f *fakeNetwork) emitConversation(c Conversation) {
	f.mu.Lock()
	fn := f.convArrival
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (f *fakeNetwork) FetchMessages(ctx context.Context, conversation Conversation) ([]Message, error) {
	f.mu.Lock()
	hook := f.fetchHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	history := f.history[conversation.ID]
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

func (f *fakeNetwork) SubscribeMessages(ctx context.Context, conversation Conversation, onArrival func(Message), onError func(error)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgArrival[conversation.ID] = onArrival
	f.msgError[conversation.ID] = onError
	return NewSubscription(func() {
		f.mu.Lock()
		f.msgCancels++
		f.mu.Unlock()
	}), nil
}

func (f *fakeNetwork) arrivalFor(conversationID string) func(Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgArrival[conversationID]
}

func (f *fakeNetwork) errorFor(conversationID string) func(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgError[conversationID]
}

func (f *fakeNetwork) SendMessage(ctx context.Context, conversation Conversation, text string) (Message, error) {
	f.mu.Lock()
	f.sendCalls++
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return Message{}, f.sendErr
	}
	f.nextID++
	return Message{
		ID:             fmt.Sprintf("sent-%d", f.nextID),
		ConversationID: conversation.ID,
		SenderAddress:  f.self,
		Content:        text,
		SentAt:         time.Date(2026, 3, 1, 12, 0, f.nextID, 0, time.UTC),
	}, nil
}

func (f *fakeNetwork) CreateConversation(ctx context.Context, peerAddress string, firstMessage string) (Conversation, error) {
	f.mu.Lock()
	f.createCalls++
	gate := f.createGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Conversation{}, f.createErr
	}
	f.nextID++
	c := Conversation{
		ID:          fmt.Sprintf("conv-%d", f.nextID),
		PeerAddress: NormalizeAddress(peerAddress),
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.conversations = append(f.conversations, c)
	return c, nil
}

func (f *fakeNetwork) counts() (reach int, create int, send int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachCalls, f.createCalls, f.sendCalls
}

// fakeNames resolves from a static map. Names listed in gates block until
// the gate is closed, ignoring cancellation.
type fakeNames struct {
	mu        sync.Mutex
	addresses map[string]string
	failures  map[string]error
	gates     map[string]chan struct{}
	calls     []string
}

func (n *fakeNames) ResolveName(ctx context.Context, name string) (string, error) {
	n.mu.Lock()
	n.calls = append(n.calls, name)
	gate := n.gates[name]
	n.mu.Unlock()
	if gate != nil {
		<-gate
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.failures[name]; err != nil {
		return "", err
	}
	address, ok := n.addresses[strings.ToLower(name)]
	if !ok {
		return "", WrapError(ErrNameNotFound, "%s", name)
	}
	return address, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
