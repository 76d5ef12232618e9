// Package player owns the single shared playback session.
//
// Elapsed time is never ticked. It is derived from the wall-clock delta
// since the last reconciliation, and every operation reconciles first so
// each caller sees time as of its own clock reading.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/clock"
	"github.com/rs/zerolog"
)

// UpdateFunc computes the next record from the stored one; ok is false when
// nothing is stored yet. next is written only when write is true. A store may
// call it more than once when a concurrent writer gets in first.
type UpdateFunc func(rec Record, ok bool) (next Record, write bool, err error)

// Store persists the playback Record between operations
type Store interface {
	// Load returns the stored record; ok is false when nothing is stored yet
	Load(ctx context.Context) (rec Record, ok bool, err error)

	// Update runs fn against the stored record and writes its result as one
	// step, serialized against every other writer sharing the store
	Update(ctx context.Context, fn UpdateFunc) error
}

// Config holds player policies
type Config struct {
	Fallback   catalog.FallbackPolicy // Track selection when the stored title is gone
	SeekPolicy SeekPolicy             // Handling of out-of-range seeks
}

// Change describes a completed control operation
type Change struct {
	Token    string // Normalized control token
	Snapshot Snapshot
}

// Listener is notified after a control operation completes, outside the
// player lock
type Listener func(ctx context.Context, change Change)

// Player is the playback state machine. All methods are safe for concurrent
// use; each one runs load, reconcile, operate and save as one unit.
type Player struct {
	mu     sync.Mutex
	source catalog.Source
	store  Store
	clock  clock.Clock
	config Config
	logger zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []Listener
}

// New creates a Player
func New(source catalog.Source, store Store, clk clock.Clock, cfg Config, logger zerolog.Logger) *Player {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Player{
		source: source,
		store:  store,
		clock:  clk,
		config: cfg,
		logger: logger.With().Str("component", "player").Logger(),
	}
}

// OnChange registers a listener for completed control operations
func (p *Player) OnChange(l Listener) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, l)
}

func (p *Player) notify(ctx context.Context, token string, snap Snapshot) {
	p.listenersMu.RLock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ctx, Change{Token: token, Snapshot: snap})
	}
}

// operation mutates state. It returns false when nothing changed, in which
// case the store is not written.
type operation func(c *catalog.Catalog, s *state, now time.Time) (bool, error)

// do runs op against freshly loaded and reconciled state under the lock and
// inside one store update. applied reports whether op changed anything.
func (p *Player) do(ctx context.Context, op operation) (snap Snapshot, applied bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cat, err := p.source.Load(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}

	var opErr error
	err = p.store.Update(ctx, func(rec Record, ok bool) (Record, bool, error) {
		now := p.clock.Now()
		s := p.restore(cat, rec, ok, now)
		s.reconcile(mustTrack(cat, s.index).Seconds, now)

		applied, opErr = false, nil
		if op != nil {
			if applied, opErr = op(cat, &s, now); opErr != nil {
				return Record{}, false, opErr
			}
		}

		track := mustTrack(cat, s.index)
		snap = s.snapshot(track)
		return s.record(track), applied || !ok, nil
	})
	if opErr != nil {
		return Snapshot{}, false, opErr
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to update playback state: %w", err)
	}
	return snap, applied, nil
}

// run is do for callers that only want the snapshot
func (p *Player) run(ctx context.Context, op operation) (Snapshot, error) {
	snap, _, err := p.do(ctx, op)
	return snap, err
}

// restore turns a stored record into state valid for cat. A stale title is
// resolved through the fallback policy rather than failing the request.
func (p *Player) restore(cat *catalog.Catalog, rec Record, ok bool, now time.Time) state {
	if !ok {
		return state{reconciledAt: now}
	}

	title := ""
	if rec.Song != nil {
		title = rec.Song.Title
	}

	idx := cat.Resolve(title, rec.Index, p.config.Fallback)
	track := mustTrack(cat, idx)

	s := state{
		index:        idx,
		elapsed:      rec.Elapsed,
		playing:      rec.Playing,
		reconciledAt: rec.ReconciledAt,
		remainder:    rec.Remainder,
	}

	if title != "" && track.Title != title {
		p.logger.Debug().
			Str("stored", title).
			Str("selected", track.Title).
			Str("policy", p.config.Fallback.String()).
			Msg("Stored track not in catalog, falling back")
		s.elapsed = 0
		s.remainder = 0
	}

	// Documents without a timestamp credit nothing for the unknown gap
	if s.reconciledAt.IsZero() {
		s.reconciledAt = now
	}
	if s.elapsed < 0 {
		s.elapsed = 0
	}
	if s.elapsed > track.Seconds {
		s.elapsed = track.Seconds
	}

	return s
}

// Current returns the reconciled snapshot without changing anything else
func (p *Player) Current(ctx context.Context) (Snapshot, error) {
	return p.run(ctx, nil)
}

// TogglePlayPause flips the playing flag. Time up to now is credited under
// the old flag first.
func (p *Player) TogglePlayPause(ctx context.Context) (Snapshot, error) {
	return p.run(ctx, func(_ *catalog.Catalog, s *state, _ time.Time) (bool, error) {
		s.playing = !s.playing
		return true, nil
	})
}

// SetPlaying sets the playing flag explicitly. Setting the current value is
// a no-op.
func (p *Player) SetPlaying(ctx context.Context, playing bool) (Snapshot, error) {
	return p.run(ctx, func(_ *catalog.Catalog, s *state, _ time.Time) (bool, error) {
		if s.playing == playing {
			return false, nil
		}
		s.playing = playing
		return true, nil
	})
}

// Advance selects the next or previous track, wrapping around the catalog,
// and rewinds to 0. The playing flag is kept.
func (p *Player) Advance(ctx context.Context, dir Direction) (Snapshot, error) {
	return p.run(ctx, func(c *catalog.Catalog, s *state, now time.Time) (bool, error) {
		s.advance(dir, c.Len(), now)
		return true, nil
	})
}

// Seek jumps to target seconds within the current track. Out-of-range
// targets leave the state unchanged; under SeekReject they also return
// ErrInvalidSeekTarget.
func (p *Player) Seek(ctx context.Context, target int) (Snapshot, error) {
	snap, _, err := p.seekTo(ctx, target)
	return snap, err
}

// seekTo is Seek that also reports whether the position moved
func (p *Player) seekTo(ctx context.Context, target int) (Snapshot, bool, error) {
	return p.do(ctx, func(c *catalog.Catalog, s *state, now time.Time) (bool, error) {
		track := mustTrack(c, s.index)
		if s.seek(target, track.Seconds, now) {
			return true, nil
		}
		if p.config.SeekPolicy == SeekReject {
			return false, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidSeekTarget, target, track.Seconds)
		}
		p.logger.Debug().
			Int("target", target).
			Int("duration", track.Seconds).
			Msg("Ignoring out-of-range seek")
		return false, nil
	})
}

// Record exports the reconciled state for an external serializer
func (p *Player) Record(ctx context.Context) (Record, error) {
	var rec Record
	_, err := p.run(ctx, func(c *catalog.Catalog, s *state, _ time.Time) (bool, error) {
		rec = s.record(mustTrack(c, s.index))
		return false, nil
	})
	return rec, err
}

// Restore replaces the state with rec, resolved against the live catalog.
// A missing timestamp is treated as now.
func (p *Player) Restore(ctx context.Context, rec Record) (Snapshot, error) {
	return p.run(ctx, func(c *catalog.Catalog, s *state, now time.Time) (bool, error) {
		*s = p.restore(c, rec, true, now)
		s.reconcile(mustTrack(c, s.index).Seconds, now)
		return true, nil
	})
}

// mustTrack returns the track at an index the caller already resolved
func mustTrack(c *catalog.Catalog, idx int) catalog.Track {
	t, err := c.TrackAt(idx)
	if err != nil {
		// Indices come from Resolve or wrap, both bounded by Len
		panic(fmt.Sprintf("player: unresolved index %d: %v", idx, err))
	}
	return t
}
