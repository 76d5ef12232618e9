package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Source produces the current catalog
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// FileConfig configures a FileSource
type FileConfig struct {
	Path    string        // Path to the songs.json document
	Timeout time.Duration // Upper bound for a whole Load, retries included
	Retries int           // Attempts per Load (minimum 1)
	Backoff time.Duration // Delay before the first retry, doubled after each
}

// FileSource reads the catalog document from disk on every Load
type FileSource struct {
	cfg    FileConfig
	logger zerolog.Logger
}

// NewFileSource creates a FileSource
func NewFileSource(cfg FileConfig, logger zerolog.Logger) *FileSource {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return &FileSource{
		cfg:    cfg,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// Path returns the catalog file path
func (s *FileSource) Path() string {
	return s.cfg.Path
}

// Load reads and parses the catalog file. Read and parse failures are
// retried with backoff since the file may be caught mid-write; an empty
// catalog is returned immediately.
func (s *FileSource) Load(ctx context.Context) (*Catalog, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	var lastErr error
	backoff := s.cfg.Backoff

	for i := 0; i < s.cfg.Retries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}

		c, err := s.loadOnce()
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrCatalogEmpty) {
			return nil, err
		}
		lastErr = err

		if i < s.cfg.Retries-1 {
			s.logger.Debug().
				Err(err).
				Int("attempt", i+1).
				Msg("Catalog load failed, retrying")
			if !sleep(ctx, backoff) {
				break
			}
			backoff = nextBackoff(backoff)
		}
	}

	return nil, lastErr
}

func (s *FileSource) loadOnce() (*Catalog, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return Parse(data)
}

// WatchedSource keeps the last successfully loaded catalog in memory and
// reloads it when the file changes on disk
type WatchedSource struct {
	file   *FileSource
	logger zerolog.Logger

	mu      sync.RWMutex
	current *Catalog
	lastErr error
}

// NewWatchedSource performs the initial load. It fails only if that load fails.
func NewWatchedSource(ctx context.Context, file *FileSource, logger zerolog.Logger) (*WatchedSource, error) {
	w := &WatchedSource{
		file:   file,
		logger: logger.With().Str("component", "catalog-watch").Logger(),
	}
	c, err := file.Load(ctx)
	if err != nil {
		return nil, err
	}
	w.current = c
	return w, nil
}

// Load returns the cached catalog
func (w *WatchedSource) Load(ctx context.Context) (*Catalog, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.current == nil {
		if w.lastErr != nil {
			return nil, w.lastErr
		}
		return nil, ErrCatalogUnavailable
	}
	return w.current, nil
}

// Reload reads the file again. A failed reload keeps the previous catalog.
func (w *WatchedSource) Reload(ctx context.Context) error {
	c, err := w.file.Load(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.lastErr = err
		return err
	}
	w.current = c
	w.lastErr = nil
	return nil
}

// Run watches the catalog's directory and reloads on changes to the file.
// The directory is watched rather than the file so editors that replace the
// file via rename are picked up. Blocks until ctx is cancelled.
func (w *WatchedSource) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	path, err := filepath.Abs(w.file.Path())
	if err != nil {
		return fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w.logger.Info().Str("path", path).Msg("Watching catalog")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("Catalog reload failed, keeping previous catalog")
				continue
			}
			w.logger.Info().Msg("Catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Catalog watcher error")
		}
	}
}

// sleep waits for d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles the delay, capped at 2 seconds
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > 2*time.Second {
		return 2 * time.Second
	}
	return next
}

// Static is a Source that always returns the same catalog
type Static struct {
	Catalog *Catalog
}

// Load returns the wrapped catalog
func (s Static) Load(ctx context.Context) (*Catalog, error) {
	if s.Catalog == nil {
		return nil, ErrCatalogEmpty
	}
	return s.Catalog, nil
}
