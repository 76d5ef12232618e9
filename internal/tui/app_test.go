package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/remote"
)

type fakeController struct {
	tokens chan string
}

func (f *fakeController) Dispatch(ctx context.Context, token string) error {
	f.tokens <- token
	return nil
}

func status(title string, index, elapsed, seconds int, playing bool) *remote.Status {
	return &remote.Status{
		Song:        catalog.Track{Title: title, Seconds: seconds},
		Index:       index,
		CurrentTime: elapsed,
		IsPlaying:   playing,
	}
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name  string
		s     *remote.Status
		since time.Duration
		want  time.Duration
	}{
		{"playing adds whole seconds", status("A", 0, 10, 200, true), 2500 * time.Millisecond, 12 * time.Second},
		{"paused holds", status("A", 0, 10, 200, false), 5 * time.Second, 10 * time.Second},
		{"clamped at duration", status("A", 0, 198, 200, true), 10 * time.Second, 200 * time.Second},
		{"negative since ignored", status("A", 0, 10, 200, true), -time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := interpolate(tt.s, tt.since); got != tt.want {
				t.Errorf("interpolate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeekTarget(t *testing.T) {
	tests := []struct {
		pos, delta, dur, want time.Duration
	}{
		{50 * time.Second, 10 * time.Second, 200 * time.Second, 60 * time.Second},
		{5 * time.Second, -10 * time.Second, 200 * time.Second, 0},
		{195 * time.Second, 10 * time.Second, 200 * time.Second, 200 * time.Second},
	}

	for _, tt := range tests {
		if got := seekTarget(tt.pos, tt.delta, tt.dur); got != tt.want {
			t.Errorf("seekTarget(%v, %v, %v) = %v, want %v", tt.pos, tt.delta, tt.dur, got, tt.want)
		}
	}
}

func TestBuildProgressBar(t *testing.T) {
	bar := buildProgressBar(50*time.Second, 100*time.Second, 10)
	if strings.Count(bar, "█") != 5 || strings.Count(bar, "░") != 5 {
		t.Errorf("half bar = %q", bar)
	}

	if got := buildProgressBar(0, 0, 4); got != "----" {
		t.Errorf("zero duration bar = %q", got)
	}
	if got := buildProgressBar(time.Second, time.Second, -1); got != "" {
		t.Errorf("negative width bar = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{200 * time.Second, "03:20"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRenderNowPlaying(t *testing.T) {
	if got := renderNowPlaying(nil); !strings.Contains(got, "Waiting") {
		t.Errorf("nil status = %q", got)
	}

	got := renderNowPlaying(status("Alpha [live]", 0, 0, 200, false))
	if !strings.Contains(got, "Alpha") || !strings.Contains(got, "⏸") {
		t.Errorf("paused render = %q", got)
	}
	if !strings.Contains(got, "[live[]") {
		t.Errorf("title not escaped: %q", got)
	}
}

func TestApplyTracksRecent(t *testing.T) {
	a := New(DefaultConfig(), nil, "http://localhost:5000")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	titles := []string{"A", "A", "B", "C", "C", "D", "E", "F", "G"}
	for i, title := range titles {
		a.apply(remote.Update{Status: status(title, int(title[0]-'A'), i, 200, true)}, now)
	}
	a.apply(remote.Update{Err: errors.New("connection refused")}, now)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastErr == nil {
		t.Error("poll error not recorded")
	}
	if a.current.Title() != "G" {
		t.Errorf("current = %q, an error must keep the last state", a.current.Title())
	}

	recent := a.getRecentTracks()
	var got []string
	for _, r := range recent {
		got = append(got, r.Title)
	}
	if want := "F,E,D,C,B"; strings.Join(got, ",") != want {
		t.Errorf("recent = %v, want %s", got, want)
	}
}

func TestKeyBindings(t *testing.T) {
	ctrl := &fakeController{tokens: make(chan string, 1)}
	a := New(DefaultConfig(), ctrl, "")
	a.apply(remote.Update{Status: status("A", 0, 100, 200, false)}, time.Now())

	tests := []struct {
		name  string
		event *tcell.EventKey
		want  string
	}{
		{"space", tcell.NewEventKey(tcell.KeyRune, ' ', tcell.ModNone), "play_pause"},
		{"n", tcell.NewEventKey(tcell.KeyRune, 'n', tcell.ModNone), "next"},
		{"P", tcell.NewEventKey(tcell.KeyRune, 'P', tcell.ModNone), "prev"},
		{"left", tcell.NewEventKey(tcell.KeyLeft, 0, tcell.ModNone), "seek:90"},
		{"right", tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModNone), "seek:110"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ev := a.handleKeyEvent(tt.event); ev != nil {
				t.Fatal("key was not consumed")
			}
			select {
			case got := <-ctrl.tokens:
				if got != tt.want {
					t.Errorf("dispatched %q, want %q", got, tt.want)
				}
			case <-time.After(time.Second):
				t.Fatal("nothing dispatched")
			}
		})
	}

	if ev := a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)); ev == nil {
		t.Error("unbound key was consumed")
	}
}
