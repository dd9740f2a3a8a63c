package fsstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

const (
	lockRetryInterval = 10 * time.Millisecond
	lockStaleAfter    = 30 * time.Second
)

var lockKeyPattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

func BuildLockPath(root string, key string) (string, error) {
	normalizedRoot, err := normalizePath(root)
	if err != nil {
		return "", err
	}
	if !lockKeyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: invalid lock key %q", ErrInvalidPath, key)
	}
	return filepath.Join(normalizedRoot, key+".lck"), nil
}

// WithLock runs fn while holding an exclusive lock file at lockPath. Lock files
// older than lockStaleAfter are treated as abandoned and removed.
func WithLock(ctx context.Context, lockPath string, fn func() error) error {
	normalizedPath, err := normalizePath(lockPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := os.MkdirAll(filepath.Dir(normalizedPath), 0o700); err != nil {
		return fmt.Errorf("ensure lock dir %s: %w", normalizedPath, err)
	}

	for {
		file, err := os.OpenFile(normalizedPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = file.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("acquire lock %s: %w", normalizedPath, err)
		}
		if info, statErr := os.Stat(normalizedPath); statErr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			_ = os.Remove(normalizedPath)
			continue
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %s: %w", normalizedPath, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
	defer func() {
		_ = os.Remove(normalizedPath)
	}()
	return fn()
}
