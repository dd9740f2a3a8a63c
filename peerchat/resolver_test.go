package peerchat

import (
	"context"
	"errors"
	"testing"
)

func TestNameResolverLookup(t *testing.T) {
	t.Parallel()

	names := &fakeNames{
		addresses: map[string]string{
			"alice.eth": "0xABCD000000000000000000000000000000001234",
			"bad.eth":   "not-an-address",
		},
		failures: map[string]error{"down.eth": errors.New("timeout")},
	}
	r := NewNameResolver(names, ResolverOptions{})

	got, err := r.Lookup(context.Background(), " alice.eth ")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Address != testAlice || got.Provenance != "resolved-from:alice.eth" {
		t.Fatalf("Lookup() = %+v", got)
	}

	cases := []struct {
		name string
		want error
	}{
		{name: "missing.eth", want: ErrNameNotFound},
		{name: "down.eth", want: ErrResolution},
		{name: "bad.eth", want: ErrResolution},
		{name: "", want: ErrValidation},
	}
	for _, tc := range cases {
		if _, err := r.Lookup(context.Background(), tc.name); !errors.Is(err, tc.want) {
			t.Fatalf("Lookup(%q) error = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestNameResolverWithoutService(t *testing.T) {
	t.Parallel()

	r := NewNameResolver(nil, ResolverOptions{})
	if _, err := r.Lookup(context.Background(), "alice.eth"); !errors.Is(err, ErrResolution) {
		t.Fatalf("Lookup() error = %v, want ErrResolution", err)
	}
}

func TestNameResolverSupersession(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	names := &fakeNames{
		addresses: map[string]string{"alice.eth": testAlice, "bob.eth": testBob},
		gates:     map[string]chan struct{}{"alice.eth": gate},
	}
	r := NewNameResolver(names, ResolverOptions{})

	first := r.Start(context.Background(), "alice.eth")
	second := r.Start(context.Background(), "bob.eth")
	if first.Ticket() >= second.Ticket() {
		t.Fatalf("tickets not increasing: %d then %d", first.Ticket(), second.Ticket())
	}
	res, current := second.Wait()
	if !current || res.Address.Address != testBob {
		t.Fatalf("second Wait() = %+v, %v", res, current)
	}

	close(gate)
	res, current = first.Wait()
	if current {
		t.Fatalf("superseded request reported current: %+v", res)
	}

	r.Cancel()
	if r.Current(second.Ticket()) {
		t.Fatalf("Current() after Cancel = true")
	}
}

func TestReachabilityCheckerRejectsNonLiteral(t *testing.T) {
	t.Parallel()

	network := newFakeNetwork(testSelf)
	network.reachable[testAlice] = true
	checker := NewReachabilityChecker(network, ReachabilityOptions{})

	if _, err := checker.Check(context.Background(), "alice.eth"); !errors.Is(err, ErrValidation) {
		t.Fatalf("Check(name) error = %v, want ErrValidation", err)
	}
	if reach, _, _ := network.counts(); reach != 0 {
		t.Fatalf("reachability calls = %d, want 0", reach)
	}

	got, err := checker.Check(context.Background(), "0xABCD000000000000000000000000000000001234")
	if err != nil || got != ReachabilityReachable {
		t.Fatalf("Check(alice) = %s, %v", got, err)
	}
	got, err = checker.Check(context.Background(), testBob)
	if err != nil || got != ReachabilityUnreachable {
		t.Fatalf("Check(bob) = %s, %v", got, err)
	}
}
