package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBuildLockPath(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), ".fslocks")
	got, err := BuildLockPath(root, "state.main")
	if err != nil {
		t.Fatalf("BuildLockPath() error = %v", err)
	}
	want := filepath.Join(root, "state.main.lck")
	if got != want {
		t.Fatalf("BuildLockPath() = %q, want %q", got, want)
	}
}

func TestBuildLockPathInvalidKey(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), ".fslocks")
	for _, key := range []string{"", "State.main", "state/main", ".state.main", "state.main.", "state main"} {
		key := key
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			_, err := BuildLockPath(root, key)
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("BuildLockPath(%q) error = %v, want ErrInvalidPath", key, err)
			}
		})
	}
}

func TestWithLockSerializesCallers(t *testing.T) {
	t.Parallel()

	lockPath, err := BuildLockPath(filepath.Join(t.TempDir(), ".fslocks"), "state.main")
	if err != nil {
		t.Fatalf("BuildLockPath() error = %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), lockPath, func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
	if _, err := os.Stat(lockPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock file should be removed after release, stat err = %v", err)
	}
}

func TestWithLockHonoursContext(t *testing.T) {
	t.Parallel()

	lockPath, err := BuildLockPath(filepath.Join(t.TempDir(), ".fslocks"), "state.main")
	if err != nil {
		t.Fatalf("BuildLockPath() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(lockPath, []byte("held\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	called := false
	err = WithLock(ctx, lockPath, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WithLock() error = %v, want deadline exceeded", err)
	}
	if called {
		t.Fatalf("fn must not run without the lock")
	}
}

func TestReadWriteJSONAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "names.json")
	type payload struct {
		Name string `json:"name"`
	}
	in := payload{Name: "alice.eth"}
	if err := WriteJSONAtomic(path, in, FileOptions{}); err != nil {
		t.Fatalf("WriteJSONAtomic() error = %v", err)
	}
	var out payload
	ok, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if !ok || out.Name != in.Name {
		t.Fatalf("ReadJSON() = (%+v, %v), want (%+v, true)", out, ok, in)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	t.Parallel()

	var out map[string]any
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ok {
		t.Fatalf("ReadJSON() exists = true, want false")
	}
}

func TestReadJSONStrictRejects(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
	}{
		{name: "unknown field", raw: `{"name":"alpha","unknown":"x"}` + "\n"},
		{name: "trailing data", raw: `{"name":"alpha"}` + "\n" + `{"name":"beta"}` + "\n"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "state.json")
			if err := os.WriteFile(path, []byte(tc.raw), 0o600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			var out struct {
				Name string `json:"name"`
			}
			_, err := ReadJSONStrict(path, &out)
			if !errors.Is(err, ErrDecodeFailed) {
				t.Fatalf("ReadJSONStrict() error = %v, want ErrDecodeFailed", err)
			}
		})
	}
}

func TestJSONLAppendAndRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "messages.jsonl")
	w, err := NewJSONLWriter(path, JSONLOptions{FlushEachWrite: true})
	if err != nil {
		t.Fatalf("NewJSONLWriter() error = %v", err)
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		if err := w.AppendJSON(map[string]string{"id": id}); err != nil {
			t.Fatalf("AppendJSON(%s) error = %v", id, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var ids []string
	ok, err := ReadJSONL(path, func(line []byte) error {
		var rec map[string]string
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		ids = append(ids, rec["id"])
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if !ok {
		t.Fatalf("ReadJSONL() exists = false, want true")
	}
	if strings.Join(ids, ",") != "m1,m2,m3" {
		t.Fatalf("ReadJSONL() ids = %v, want [m1 m2 m3]", ids)
	}
}

func TestReadJSONLDecodeError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":\"m1\"}\nnot-json\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := ReadJSONL(path, func(line []byte) error {
		var rec map[string]string
		return json.Unmarshal(line, &rec)
	})
	if !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("ReadJSONL() error = %v, want ErrDecodeFailed", err)
	}
}
