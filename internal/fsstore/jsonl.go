package fsstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type JSONLOptions struct {
	DirPerm        os.FileMode
	FilePerm       os.FileMode
	FlushEachWrite bool
}

// JSONLWriter appends one JSON document per line to a file.
type JSONLWriter struct {
	path string
	opts JSONLOptions

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func NewJSONLWriter(path string, opts JSONLOptions) (*JSONLWriter, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	if opts.DirPerm == 0 {
		opts.DirPerm = 0o700
	}
	if opts.FilePerm == 0 {
		opts.FilePerm = 0o600
	}
	w := &JSONLWriter{
		path: normalizedPath,
		opts: opts,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *JSONLWriter) AppendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode jsonl %s: %v", ErrEncodeFailed, w.path, err)
	}
	return w.appendBytes(data)
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLWriter) appendBytes(data []byte) error {
	data = bytes.TrimRight(data, "\n")
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("%w: jsonl line contains newline", ErrEncodeFailed)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("append jsonl %s: %w", w.path, err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("append jsonl %s: %w", w.path, err)
	}
	if w.opts.FlushEachWrite {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("flush jsonl %s: %w", w.path, err)
		}
	}
	return nil
}

func (w *JSONLWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), w.opts.DirPerm); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", w.path, err)
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, w.opts.FilePerm)
	if err != nil {
		return fmt.Errorf("open jsonl %s: %w", w.path, err)
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

func (w *JSONLWriter) closeLocked() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.writer.Flush()
	closeErr := w.file.Close()
	w.file = nil
	w.writer = nil
	if flushErr != nil {
		return fmt.Errorf("flush jsonl %s: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close jsonl %s: %w", w.path, closeErr)
	}
	return nil
}

// ReadJSONL calls fn for every non-blank line of the file at path. A missing
// file reports ok=false without error.
func ReadJSONL(path string, fn func(line []byte) error) (bool, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return false, err
	}
	file, err := os.Open(normalizedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open jsonl %s: %w", normalizedPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return false, fmt.Errorf("%w: %s line %d: %v", ErrDecodeFailed, normalizedPath, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan jsonl %s: %w", normalizedPath, err)
	}
	return true, nil
}
