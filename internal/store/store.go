// Package store holds the backends that persist the playback record between
// requests. All of them satisfy player.Store.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/rs/zerolog"
)

// lockRetry is how often a blocked File update retries the lock
const lockRetry = 10 * time.Millisecond

// Store kinds accepted by Open
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindRedis  = "redis"
)

// Options selects and configures a backend
type Options struct {
	Kind  string       // memory, file or redis
	Path  string       // File backend document path
	Redis RedisOptions // Redis backend settings
}

// Open creates the backend named by opts.Kind. The returned close function
// releases backend resources and is never nil.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (player.Store, func() error, error) {
	noop := func() error { return nil }

	switch opts.Kind {
	case "", KindMemory:
		return NewMemory(), noop, nil
	case KindFile:
		if opts.Path == "" {
			return nil, noop, errors.New("file store requires a path")
		}
		f := NewFile(opts.Path, logger)
		return f, f.Close, nil
	case KindRedis:
		r, err := NewRedis(ctx, opts.Redis, logger)
		if err != nil {
			return nil, noop, err
		}
		return r, r.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store kind %q (must be memory, file or redis)", opts.Kind)
	}
}

// Memory keeps the record for the lifetime of the process
type Memory struct {
	mu  sync.RWMutex
	rec player.Record
	ok  bool
}

// NewMemory creates an empty Memory store
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns the last saved record
func (m *Memory) Load(ctx context.Context) (player.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec, m.ok, nil
}

// Save replaces the record
func (m *Memory) Save(ctx context.Context, rec player.Record) error {
	return m.Update(ctx, replace(rec))
}

// Update runs fn under the store lock
func (m *Memory) Update(ctx context.Context, fn player.UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, write, err := fn(m.rec, m.ok)
	if err != nil || !write {
		return err
	}
	m.rec = rec
	m.ok = true
	return nil
}

// replace is an UpdateFunc that writes rec unconditionally
func replace(rec player.Record) player.UpdateFunc {
	return func(player.Record, bool) (player.Record, bool, error) {
		return rec, true, nil
	}
}

// File keeps the record in a JSON document. The document is read back on
// every Load, so edits made while the server runs are picked up. Updates hold
// an advisory lock on path + ".lock", so processes sharing the document take
// turns.
type File struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex // flock is per process; this orders goroutines within it
	lock *flock.Flock
}

// NewFile creates a File store at path
func NewFile(path string, logger zerolog.Logger) *File {
	return &File{
		path:   path,
		logger: logger.With().Str("component", "store").Str("path", path).Logger(),
		lock:   flock.New(path + ".lock"),
	}
}

// Close releases the lock file handle
func (f *File) Close() error {
	return f.lock.Close()
}

// Path returns the document path
func (f *File) Path() string {
	return f.path
}

// Load reads the document. A missing or empty file means no state yet; an
// unparseable one is logged and treated the same so playback keeps working.
func (f *File) Load(ctx context.Context) (player.Record, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return player.Record{}, false, nil
		}
		return player.Record{}, false, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return player.Record{}, false, nil
	}

	var rec player.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		f.logger.Warn().Err(err).Msg("Ignoring unreadable state file")
		return player.Record{}, false, nil
	}
	return rec, true, nil
}

// Save replaces the document
func (f *File) Save(ctx context.Context, rec player.Record) error {
	return f.Update(ctx, replace(rec))
}

// Update runs fn while holding the document lock and writes its result via
// a temp file and rename
func (f *File) Update(ctx context.Context, fn player.UpdateFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	locked, err := f.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock state file: %w", ctx.Err())
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to unlock state file")
		}
	}()

	rec, ok, err := f.Load(ctx)
	if err != nil {
		return err
	}
	next, write, err := fn(rec, ok)
	if err != nil || !write {
		return err
	}
	return f.write(next)
}

func (f *File) write(rec player.Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
