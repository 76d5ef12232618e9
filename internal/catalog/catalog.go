// Package catalog loads the ordered list of tracks the player walks through.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var (
	// ErrCatalogUnavailable is returned when the catalog cannot be read or parsed
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrCatalogEmpty is returned when the catalog has no tracks
	ErrCatalogEmpty = errors.New("catalog is empty")

	// ErrIndexOutOfRange is returned by TrackAt for an index outside [0, N)
	ErrIndexOutOfRange = errors.New("track index out of range")

	// ErrInvalidDuration is returned when a duration is not minutes:seconds
	ErrInvalidDuration = errors.New("invalid duration")
)

// FallbackPolicy decides which track to select when a remembered title is no
// longer in the catalog.
type FallbackPolicy int

const (
	// DefaultToFirst selects index 0
	DefaultToFirst FallbackPolicy = iota
	// KeepIndex keeps the remembered index if it is still in range, else index 0
	KeepIndex
)

// String returns the config name of the policy
func (p FallbackPolicy) String() string {
	switch p {
	case DefaultToFirst:
		return "first"
	case KeepIndex:
		return "index"
	default:
		return "unknown"
	}
}

// ParseFallbackPolicy maps a config value to a FallbackPolicy
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return DefaultToFirst, nil
	case "index":
		return KeepIndex, nil
	default:
		return DefaultToFirst, fmt.Errorf("unknown fallback policy %q (must be 'first' or 'index')", s)
	}
}

// Catalog is an immutable, non-empty, ordered list of tracks
type Catalog struct {
	tracks []Track
}

// document is the on-disk layout: {"songs": [...]}
type document struct {
	Songs []Track `json:"songs"`
}

// New builds a catalog, validating every track
func New(tracks []Track) (*Catalog, error) {
	if len(tracks) == 0 {
		return nil, ErrCatalogEmpty
	}

	out := make([]Track, len(tracks))
	for i, t := range tracks {
		if strings.TrimSpace(t.Title) == "" {
			return nil, fmt.Errorf("track %d: missing title", i)
		}
		secs, err := DurationSeconds(t)
		if err != nil {
			return nil, fmt.Errorf("track %d (%s): %w", i, t.Title, err)
		}
		t.Seconds = secs
		out[i] = t
	}

	return &Catalog{tracks: out}, nil
}

// Parse decodes a catalog document. Malformed input is reported as
// ErrCatalogUnavailable; a document with no songs as ErrCatalogEmpty.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	c, err := New(doc.Songs)
	if err != nil {
		if errors.Is(err, ErrCatalogEmpty) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	return c, nil
}

// Len returns the number of tracks
func (c *Catalog) Len() int {
	return len(c.tracks)
}

// Tracks returns a copy of the track list
func (c *Catalog) Tracks() []Track {
	out := make([]Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// TrackAt returns the track at index i
func (c *Catalog) TrackAt(i int) (Track, error) {
	if i < 0 || i >= len(c.tracks) {
		return Track{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(c.tracks))
	}
	return c.tracks[i], nil
}

// IndexOfTitle returns the first index whose title matches exactly
func (c *Catalog) IndexOfTitle(title string) (int, bool) {
	_, idx, ok := lo.FindIndexOf(c.tracks, func(t Track) bool {
		return t.Title == title
	})
	return idx, ok
}

// Resolve picks the index for a remembered (title, index) pair against this
// catalog. A matching title always wins, so a reordered catalog keeps the
// same song selected. An empty title means only the index was remembered.
// Otherwise the policy decides. The result is always a valid index.
func (c *Catalog) Resolve(title string, index int, policy FallbackPolicy) int {
	inRange := index >= 0 && index < len(c.tracks)

	if title == "" {
		if inRange {
			return index
		}
		return 0
	}

	if idx, ok := c.IndexOfTitle(title); ok {
		return idx
	}

	if policy == KeepIndex && inRange {
		return index
	}
	return 0
}
