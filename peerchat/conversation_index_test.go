package peerchat

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestConversationIndexIgnoresDuplicateIDs(t *testing.T) {
	t.Parallel()

	idx := NewConversationIndex([]Conversation{{ID: "c1", PeerAddress: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}}, IndexOptions{})
	if idx.Merge(Conversation{ID: "c1", PeerAddress: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}) {
		t.Fatalf("Merge() of duplicate id reported a change")
	}
	if idx.Merge(Conversation{ID: "  ", PeerAddress: testAlice}) {
		t.Fatalf("Merge() of empty id reported a change")
	}
	if got := idx.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestConversationIndexMergeOrderIndependent(t *testing.T) {
	t.Parallel()

	convs := []Conversation{
		{ID: "c1", PeerAddress: testAlice},
		{ID: "c2", PeerAddress: testBob},
		{ID: "c3", PeerAddress: testSelf},
	}
	orders := [][]int{
		{0, 1, 2, 0, 1},
		{2, 2, 1, 0},
		{1, 0, 1, 2, 2, 0},
	}
	var want []string
	for i, order := range orders {
		idx := NewConversationIndex(nil, IndexOptions{})
		for _, n := range order {
			idx.Merge(convs[n])
		}
		var ids []string
		for _, c := range idx.All() {
			ids = append(ids, c.ID)
		}
		slices.Sort(ids)
		if i == 0 {
			want = ids
			continue
		}
		if !slices.Equal(ids, want) {
			t.Fatalf("order %v produced %v, want %v", order, ids, want)
		}
	}
	if len(want) != 3 {
		t.Fatalf("merged ids = %v, want 3 entries", want)
	}
}

func TestConversationIndexKeepsArrivalOrder(t *testing.T) {
	t.Parallel()

	idx := NewConversationIndex([]Conversation{{ID: "b"}, {ID: "a"}}, IndexOptions{})
	idx.Merge(Conversation{ID: "c"})
	idx.Merge(Conversation{ID: "a"})

	var ids []string
	for _, c := range idx.All() {
		ids = append(ids, c.ID)
	}
	if !slices.Equal(ids, []string{"b", "a", "c"}) {
		t.Fatalf("order = %v, want [b a c]", ids)
	}
}

func TestConversationIndexFilterIsLazyAndRestartable(t *testing.T) {
	t.Parallel()

	idx := NewConversationIndex([]Conversation{
		{ID: "c1", PeerAddress: testAlice},
		{ID: "c2", PeerAddress: testSelf},
	}, IndexOptions{})
	seq := idx.Filter(SearchFilter("ABCD", testSelf))

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	if got := count(); got != 1 {
		t.Fatalf("first pass = %d, want 1", got)
	}
	idx.Merge(Conversation{ID: "c3", PeerAddress: "0xabcd00000000000000000000000000000000ffff"})
	if got := count(); got != 2 {
		t.Fatalf("second pass = %d, want 2", got)
	}

	for c := range idx.Filter(nil) {
		if c.ID != "c1" {
			t.Fatalf("first entry = %s, want c1", c.ID)
		}
		break
	}
}

func TestSearchFilterExcludesSelf(t *testing.T) {
	t.Parallel()

	match := SearchFilter("", "0x0000000000000000000000000000000000000001")
	if match(Conversation{PeerAddress: "0x0000000000000000000000000000000000000001"}) {
		t.Fatalf("self conversation matched")
	}
	if !match(Conversation{PeerAddress: testBob}) {
		t.Fatalf("empty query did not match peer")
	}
	if SearchFilter("ffff", "")(Conversation{PeerAddress: testBob}) {
		t.Fatalf("unrelated query matched")
	}
}

func TestConversationIndexFindByAddressIgnoresCase(t *testing.T) {
	t.Parallel()

	idx := NewConversationIndex([]Conversation{{ID: "c1", PeerAddress: "0xABCD000000000000000000000000000000001234"}}, IndexOptions{})
	c, ok := idx.FindByAddress(testAlice)
	if !ok || c.ID != "c1" {
		t.Fatalf("FindByAddress() = %+v, %v", c, ok)
	}
	if _, ok := idx.FindByAddress(testBob); ok {
		t.Fatalf("FindByAddress(bob) matched")
	}
	if _, ok := idx.FindByAddress(""); ok {
		t.Fatalf("FindByAddress(\"\") matched")
	}
}

func TestConversationIndexStreamErrorKeepsEntries(t *testing.T) {
	t.Parallel()

	idx := NewConversationIndex([]Conversation{{ID: "c1", PeerAddress: testAlice}}, IndexOptions{})
	var events []IndexEvent
	unwatch := idx.Watch(func(ev IndexEvent) { events = append(events, ev) })

	idx.ReportError(errors.New("socket closed"))
	if !errors.Is(idx.Err(), ErrStream) {
		t.Fatalf("Err() = %v, want ErrStream", idx.Err())
	}
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d after stream error, want 1", idx.Len())
	}
	if len(events) != 1 || events[0].Kind != IndexError {
		t.Fatalf("events = %+v, want one error event", events)
	}

	unwatch()
	idx.Merge(Conversation{ID: "c2", PeerAddress: testBob})
	if len(events) != 1 {
		t.Fatalf("watcher called after unwatch")
	}
	idx.ClearErr()
	if idx.Err() != nil {
		t.Fatalf("Err() after ClearErr = %v", idx.Err())
	}
}

func TestConversationIndexFollow(t *testing.T) {
	t.Parallel()

	network := newFakeNetwork(testSelf)
	network.conversations = []Conversation{{ID: "c1", PeerAddress: testAlice}}
	idx, err := LoadConversationIndex(context.Background(), network, IndexOptions{})
	if err != nil {
		t.Fatalf("LoadConversationIndex() error = %v", err)
	}

	network.mu.Lock()
	network.conversations = append(network.conversations, Conversation{ID: "c2", PeerAddress: testBob})
	network.mu.Unlock()

	sub, err := idx.Follow(context.Background(), network)
	if err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	defer sub.Cancel()
	if idx.Len() != 2 {
		t.Fatalf("Len() after catch-up = %d, want 2", idx.Len())
	}

	network.emitConversation(Conversation{ID: "c1", PeerAddress: testAlice})
	network.emitConversation(Conversation{ID: "c3", PeerAddress: "0xcccccccccccccccccccccccccccccccccccccccc"})
	if idx.Len() != 3 {
		t.Fatalf("Len() after stream = %d, want 3", idx.Len())
	}

	network.mu.Lock()
	onErr := network.convError
	network.mu.Unlock()
	onErr(errors.New("stream reset"))
	if !errors.Is(idx.Err(), ErrStream) || idx.Len() != 3 {
		t.Fatalf("after stream error: err = %v len = %d", idx.Err(), idx.Len())
	}
}
