package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/quailyquaily/peerchat/peerchat"
)

const (
	bobAddress   = "0xb0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0"
	carolAddress = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func executeJSON(t *testing.T, out any, args ...string) {
	t.Helper()
	stdout, stderr, err := executeCLI(t, args...)
	if err != nil {
		t.Fatalf("%v error = %v, stderr=%s", args, err, stderr)
	}
	if err := json.Unmarshal([]byte(stdout), out); err != nil {
		t.Fatalf("decode %v output error = %v, stdout=%s", args, err, stdout)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	var first map[string]any
	executeJSON(t, &first, "--dir", dir, "init", "--json")
	if first["created"] != true {
		t.Fatalf("first init created = %v, want true", first["created"])
	}
	address, _ := first["address"].(string)
	if !peerchat.IsLiteralAddress(address) {
		t.Fatalf("init address = %q", address)
	}

	var second map[string]any
	executeJSON(t, &second, "--dir", dir, "init", "--json")
	if second["created"] != false || second["address"] != address {
		t.Fatalf("second init = %v, want existing %s", second, address)
	}

	svc := peerchat.NewService(peerchat.NewFileStore(dir))
	identity, ok, err := svc.GetIdentity(context.Background())
	if err != nil || !ok {
		t.Fatalf("GetIdentity() = %v, %v", ok, err)
	}
	if !peerchat.SameAddress(identity.Address, address) {
		t.Fatalf("stored address = %s, printed %s", identity.Address, address)
	}
}

func TestVersionJSON(t *testing.T) {
	t.Parallel()

	var view map[string]string
	executeJSON(t, &view, "version", "--json")
	if view["version"] != buildVersion {
		t.Fatalf("version = %q", view["version"])
	}
}

func TestNamesAddResolveAndDelete(t *testing.T) {
	dir := t.TempDir()

	if _, stderr, err := executeCLI(t, "--dir", dir, "names", "add", "Bob.eth", bobAddress); err != nil {
		t.Fatalf("names add error = %v, stderr=%s", err, stderr)
	}
	var resolved map[string]string
	executeJSON(t, &resolved, "--dir", dir, "names", "resolve", "bob.eth", "--json")
	if !peerchat.SameAddress(resolved["address"], bobAddress) {
		t.Fatalf("resolved address = %q", resolved["address"])
	}
	if resolved["provenance"] != "resolved-from:bob.eth" {
		t.Fatalf("provenance = %q", resolved["provenance"])
	}

	if _, _, err := executeCLI(t, "--dir", dir, "names", "add", "bob", bobAddress); err == nil {
		t.Fatalf("names add without a name suffix should fail")
	}
	if _, _, err := executeCLI(t, "--dir", dir, "names", "del", "bob.eth"); err != nil {
		t.Fatalf("names del error = %v", err)
	}
	_, _, err := executeCLI(t, "--dir", dir, "names", "resolve", "bob.eth")
	if err == nil || peerchat.SymbolOf(err) != peerchat.ErrNameNotFoundSymbol {
		t.Fatalf("resolve deleted name error = %v, want %s", err, peerchat.ErrNameNotFoundSymbol)
	}
}

func TestLookupPhases(t *testing.T) {
	dir := t.TempDir()

	var id map[string]any
	executeJSON(t, &id, "--dir", dir, "id", "--json")
	self, _ := id["address"].(string)

	if _, stderr, err := executeCLI(t, "--dir", dir, "accounts", "register", bobAddress); err != nil {
		t.Fatalf("accounts register error = %v, stderr=%s", err, stderr)
	}

	testCases := []struct {
		name   string
		query  string
		phase  peerchat.SessionPhase
		status string
	}{
		{name: "self", query: self, phase: peerchat.PhaseSelfAddress, status: "No self-messaging allowed"},
		{name: "self lowercase", query: strings.ToLower(self), phase: peerchat.PhaseSelfAddress, status: "No self-messaging allowed"},
		{name: "registered", query: bobAddress, phase: peerchat.PhaseCreatableNew, status: "Address is on the network"},
		{name: "unregistered", query: carolAddress, phase: peerchat.PhaseUnreachable, status: "Address is not on the network"},
		{name: "malformed", query: "hello", phase: peerchat.PhaseInvalid, status: "Invalid address"},
		{name: "unknown name", query: "ghost.eth", phase: peerchat.PhaseInvalid, status: "Could not resolve name"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var view map[string]any
			executeJSON(t, &view, "--dir", dir, "lookup", tc.query, "--json")
			if view["phase"] != string(tc.phase) {
				t.Fatalf("phase = %v, want %s (view=%v)", view["phase"], tc.phase, view)
			}
			if view["status"] != tc.status {
				t.Fatalf("status = %v, want %q", view["status"], tc.status)
			}
		})
	}
}

func TestStartConversationFlow(t *testing.T) {
	dir := t.TempDir()

	var id map[string]any
	executeJSON(t, &id, "--dir", dir, "id", "--json")
	self, _ := id["address"].(string)

	if _, _, err := executeCLI(t, "--dir", dir, "accounts", "register", bobAddress); err != nil {
		t.Fatalf("accounts register error = %v", err)
	}
	if _, _, err := executeCLI(t, "--dir", dir, "names", "add", "bob.eth", bobAddress); err != nil {
		t.Fatalf("names add error = %v", err)
	}

	var started map[string]any
	executeJSON(t, &started, "--dir", dir, "start", "bob.eth", "hello bob", "--json")
	convID, _ := started["conversation_id"].(string)
	if convID == "" || started["existing"] != false {
		t.Fatalf("start = %v", started)
	}
	if !peerchat.SameAddress(started["peer_address"].(string), bobAddress) {
		t.Fatalf("peer_address = %v", started["peer_address"])
	}

	var again map[string]any
	executeJSON(t, &again, "--dir", dir, "start", bobAddress, "second", "--json")
	if again["conversation_id"] != convID || again["existing"] != true {
		t.Fatalf("second start = %v, want existing %s", again, convID)
	}

	if _, stderr, err := executeCLI(t, "--dir", dir, "send", convID, "third"); err != nil {
		t.Fatalf("send error = %v, stderr=%s", err, stderr)
	}

	var messages []peerchat.Message
	executeJSON(t, &messages, "--dir", dir, "messages", "list", convID, "--json")
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	if messages[0].Content != "hello bob" || messages[2].Content != "third" {
		t.Fatalf("message order = %q, %q, %q", messages[0].Content, messages[1].Content, messages[2].Content)
	}

	var list []map[string]any
	executeJSON(t, &list, "--dir", dir, "conversations", "list", "--search", "b0b0", "--json")
	if len(list) != 1 || list[0]["conversation_id"] != convID {
		t.Fatalf("conversations list = %v", list)
	}
	stdout, _, err := executeCLI(t, "--dir", dir, "conversations", "list", "--search", "ffff")
	if err != nil || !strings.Contains(stdout, "no conversations") {
		t.Fatalf("filtered list = %q, %v", stdout, err)
	}

	var asBob []map[string]any
	executeJSON(t, &asBob, "--dir", dir, "--as", bobAddress, "conversations", "list", "--json")
	if len(asBob) != 1 || !peerchat.SameAddress(asBob[0]["peer_address"].(string), self) {
		t.Fatalf("bob's conversations = %v, want peer %s", asBob, self)
	}

	var lookup map[string]any
	executeJSON(t, &lookup, "--dir", dir, "lookup", "bob.eth", "--json")
	if lookup["phase"] != string(peerchat.PhaseExistingConversationFound) || lookup["conversation_id"] != convID {
		t.Fatalf("lookup after start = %v", lookup)
	}
}

func TestStartRejectsUnreachable(t *testing.T) {
	dir := t.TempDir()

	_, _, err := executeCLI(t, "--dir", dir, "start", carolAddress, "hi")
	if err == nil || !strings.Contains(err.Error(), "Address is not on the network") {
		t.Fatalf("start unreachable error = %v", err)
	}
	_, _, err = executeCLI(t, "--dir", dir, "start", bobAddress, "   ")
	if peerchat.SymbolOf(err) != peerchat.ErrValidationSymbol {
		t.Fatalf("start blank message error = %v, want %s", err, peerchat.ErrValidationSymbol)
	}
}

func TestMessagesUnknownConversation(t *testing.T) {
	dir := t.TempDir()

	_, _, err := executeCLI(t, "--dir", dir, "messages", "list", "missing")
	if peerchat.SymbolOf(err) != peerchat.ErrNotFoundSymbol {
		t.Fatalf("messages list error = %v, want %s", err, peerchat.ErrNotFoundSymbol)
	}
}

func TestRedisBackendRequiresURL(t *testing.T) {
	dir := t.TempDir()

	_, _, err := executeCLI(t, "--dir", dir, "--backend", "redis", "lookup", bobAddress)
	if err == nil || !strings.Contains(err.Error(), "redis_url") {
		t.Fatalf("redis backend without url error = %v", err)
	}
}
