package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Track is a single catalog entry. Title and Duration are the only fields the
// player looks at; everything else in the song object is carried in Meta and
// written back out unchanged.
type Track struct {
	Title    string         // Unique within a catalog
	Duration string         // Duration as written in the catalog ("3:20")
	Seconds  int            // Duration in whole seconds
	Meta     map[string]any // Display metadata (artist, album, cover, ...)
}

// Artist returns the "artist" metadata field, if it is a string
func (t Track) Artist() string { return t.metaString("artist") }

// Album returns the "album" metadata field, if it is a string
func (t Track) Album() string { return t.metaString("album") }

// Cover returns the "cover" metadata field, if it is a string
func (t Track) Cover() string { return t.metaString("cover") }

func (t Track) metaString(key string) string {
	if t.Meta == nil {
		return ""
	}
	s, _ := t.Meta[key].(string)
	return s
}

// MarshalJSON writes the track as a flat song object
func (t Track) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Meta)+2)
	for k, v := range t.Meta {
		out[k] = v
	}
	out["title"] = t.Title
	out["duration"] = t.Duration
	return json.Marshal(out)
}

// UnmarshalJSON reads a flat song object. A duration that does not parse
// leaves Seconds at zero; catalog validation reports it.
func (t *Track) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	title, _ := raw["title"].(string)
	t.Title = title
	t.Seconds = 0

	switch d := raw["duration"].(type) {
	case string:
		t.Duration = d
		if secs, err := ParseDuration(d); err == nil {
			t.Seconds = secs
		}
	case float64:
		// Some catalogs store plain seconds
		if d >= 0 {
			t.Seconds = int(d)
			t.Duration = FormatDuration(t.Seconds)
		} else {
			t.Duration = strconv.FormatFloat(d, 'f', -1, 64)
		}
	default:
		t.Duration = ""
	}

	delete(raw, "title")
	delete(raw, "duration")
	if len(raw) == 0 {
		raw = nil
	}
	t.Meta = raw

	return nil
}

// ParseDuration converts "minutes:seconds" into total seconds.
// Anything other than exactly two non-negative integer parts is rejected.
func ParseDuration(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q: expected minutes:seconds", ErrInvalidDuration, s)
	}

	minutes, err := parseComponent(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: minutes: %v", ErrInvalidDuration, s, err)
	}
	seconds, err := parseComponent(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: seconds: %v", ErrInvalidDuration, s, err)
	}

	return minutes*60 + seconds, nil
}

func parseComponent(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative value %s", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", s)
	}
	return n, nil
}

// FormatDuration renders seconds as M:SS
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// DurationSeconds returns the track's duration in seconds, parsing the
// textual form so a hand-built Track is validated the same way as a loaded one.
func DurationSeconds(t Track) (int, error) {
	return ParseDuration(t.Duration)
}
