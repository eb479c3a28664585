package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 10 * time.Millisecond

// FileBackend stores all keys in one JSON document on disk.
//
// Every access holds an advisory lock on "<path>.lock", so separate processes
// on one host see a consistent document. The in-process mutex is needed because
// a flock.Flock instance does not exclude goroutines of its own process.
type FileBackend struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

var (
	_ Backend   = (*FileBackend)(nil)
	_ MaxMerger = (*FileBackend)(nil)
)

// NewFile creates a file backend rooted at path. The parent directory is created if needed.
func NewFile(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file backend: %w", err)
	}

	return &FileBackend{path: path, lock: flock.New(path + ".lock")}, nil
}

// Name returns "file".
func (b *FileBackend) Name() string { return "file" }

// Path returns the document path.
func (b *FileBackend) Path() string { return b.path }

// Get returns the value stored under key.
func (b *FileBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := b.withLock(ctx, false, func() error {
		doc, err := b.load()
		if err != nil {
			return err
		}
		v, ok = doc[key]

		return nil
	})

	return v, ok, err
}

// Set stores value under key.
func (b *FileBackend) Set(ctx context.Context, key, value string) error {
	return b.withLock(ctx, true, func() error {
		doc, err := b.load()
		if err != nil {
			return err
		}
		doc[key] = value

		return b.save(doc)
	})
}

// MergeMax stores max(current, v) while holding the exclusive lock.
func (b *FileBackend) MergeMax(ctx context.Context, key string, v int64) (int64, error) {
	stored := v
	err := b.withLock(ctx, true, func() error {
		doc, err := b.load()
		if err != nil {
			return err
		}

		if cur, parseErr := strconv.ParseInt(doc[key], 10, 64); parseErr == nil && cur >= v {
			stored = cur
			return nil
		}
		doc[key] = strconv.FormatInt(v, 10)

		return b.save(doc)
	})
	if err != nil {
		return 0, err
	}

	return stored, nil
}

func (b *FileBackend) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = b.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = b.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("file backend lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("file backend lock: %w", ctx.Err())
	}
	defer func() { _ = b.lock.Unlock() }()

	return fn()
}

func (b *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file backend read: %w", err)
	}

	doc := map[string]string{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("file backend decode: %w", err)
	}

	return doc, nil
}

func (b *FileBackend) save(doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("file backend encode: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("file backend write: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("file backend rename: %w", err)
	}

	return nil
}
