package player

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jfmyers9/nowplaying/internal/catalog"
)

// ErrInvalidSeekTarget is returned by Seek under SeekReject when the target
// is outside [0, duration]
var ErrInvalidSeekTarget = errors.New("seek target out of range")

// Direction selects the neighbour track for Advance
type Direction int

const (
	Next Direction = 1
	Prev Direction = -1
)

// String returns the control token for the direction
func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}
	return "next"
}

// SeekPolicy decides what happens to an out-of-range seek
type SeekPolicy int

const (
	SeekIgnore SeekPolicy = iota // Drop the request, keep the current position
	SeekReject                   // Drop the request and return ErrInvalidSeekTarget
)

// ParseSeekPolicy maps a config value to a SeekPolicy
func ParseSeekPolicy(s string) (SeekPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return SeekIgnore, nil
	case "reject":
		return SeekReject, nil
	default:
		return SeekIgnore, fmt.Errorf("unknown seek policy %q (must be 'ignore' or 'reject')", s)
	}
}

// Snapshot is a read-only view of the playback state at one instant
type Snapshot struct {
	Track   catalog.Track
	Index   int
	Elapsed int // Seconds into Track
	Playing bool
	At      time.Time // Clock reading the snapshot was reconciled to
}

// Record is the serialized form of the playback state handed to a Store.
// The song/current_time/is_playing keys match the older current.json layout,
// so such a file can be restored directly.
type Record struct {
	Song         *catalog.Track `json:"song,omitempty"`
	Index        int            `json:"current_index"`
	Elapsed      int            `json:"current_time"`
	Playing      bool           `json:"is_playing"`
	ReconciledAt time.Time      `json:"reconciled_at"`
	Remainder    time.Duration  `json:"remainder,omitempty"` // Uncredited sub-second play time
}

// state is the mutable playback state. Only Player touches it, under its lock.
type state struct {
	index        int
	elapsed      int
	playing      bool
	reconciledAt time.Time
	remainder    time.Duration
}

// reconcile credits whole seconds of wall-clock time since the last
// reconciliation while playing, clamped to duration. The track holds at its
// end; there is no auto-advance. A clock reading earlier than reconciledAt
// credits nothing and leaves reconciledAt where it is.
func (s *state) reconcile(duration int, now time.Time) {
	if now.Before(s.reconciledAt) {
		return
	}

	if s.playing {
		delta := now.Sub(s.reconciledAt) + s.remainder
		whole := int(delta / time.Second)
		s.remainder = delta - time.Duration(whole)*time.Second
		s.elapsed += whole
	} else {
		s.remainder = 0
	}

	if s.elapsed >= duration {
		s.elapsed = duration
		s.remainder = 0
	}
	if s.elapsed < 0 {
		s.elapsed = 0
	}

	s.reconciledAt = now
}

// advance moves to the neighbouring track, wrapping at both ends
func (s *state) advance(dir Direction, n int, now time.Time) {
	s.index = wrap(s.index+int(dir), n)
	s.elapsed = 0
	s.remainder = 0
	s.mark(now)
}

// seek sets the position if target is within [0, duration]
func (s *state) seek(target, duration int, now time.Time) bool {
	if target < 0 || target > duration {
		return false
	}
	s.elapsed = target
	s.remainder = 0
	s.mark(now)
	return true
}

// mark moves reconciledAt forward to now, never backward
func (s *state) mark(now time.Time) {
	if now.After(s.reconciledAt) {
		s.reconciledAt = now
	}
}

func (s *state) record(track catalog.Track) Record {
	t := track
	return Record{
		Song:         &t,
		Index:        s.index,
		Elapsed:      s.elapsed,
		Playing:      s.playing,
		ReconciledAt: s.reconciledAt,
		Remainder:    s.remainder,
	}
}

func (s *state) snapshot(track catalog.Track) Snapshot {
	return Snapshot{
		Track:   track,
		Index:   s.index,
		Elapsed: s.elapsed,
		Playing: s.playing,
		At:      s.reconciledAt,
	}
}

// wrap is a modulo that is never negative
func wrap(i, n int) int {
	if n <= 0 {
		return 0
	}
	return ((i % n) + n) % n
}
