package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jfmyers9/nowplaying/internal/remote"
	"github.com/rivo/tview"
)

const (
	maxRecentTracks = 5
	seekStep        = 10 * time.Second
	controlTimeout  = 2 * time.Second
)

// Config holds TUI configuration options
type Config struct {
	RefreshRate time.Duration // How often to redraw
}

// DefaultConfig returns the default TUI configuration
func DefaultConfig() Config {
	return Config{
		RefreshRate: 500 * time.Millisecond,
	}
}

// Controller sends control tokens to the server
type Controller interface {
	Dispatch(ctx context.Context, token string) error
}

// RecentTrack stores info about a recently played track
type RecentTrack struct {
	Title    string
	Artist   string
	PlayedAt time.Time
}

// App is the terminal remote for a nowplaying server
type App struct {
	app        *tview.Application
	nowPlaying *tview.TextView
	progress   *tview.TextView
	status     *tview.TextView
	server     *tview.TextView
	recent     *tview.TextView

	config     Config
	controller Controller

	// Mutex protects shared state accessed by the update consumer, the
	// ticker and key handlers
	mu sync.Mutex

	// Current state (guarded by mu)
	current    *remote.Status
	polledAt   time.Time
	lastErr    error
	lastAction string
	serverURL  string

	// Session stats (guarded by mu)
	sessionStart time.Time
	commandsSent int

	// Ring buffer for recent tracks
	recentBuf   [maxRecentTracks]RecentTrack
	recentCount int

	// Last-rendered content for change detection
	lastNowPlaying string
	lastProgress   string
	lastServer     string
	lastRecent     string

	// Cached progress bar width to stabilize change detection.
	// Updated only when GetInnerRect returns a positive value.
	lastBarWidth int

	cancelFunc context.CancelFunc
}

// New creates a new TUI application with the given config
func New(cfg Config, controller Controller, serverURL string) *App {
	a := &App{
		app:          tview.NewApplication(),
		config:       cfg,
		controller:   controller,
		serverURL:    serverURL,
		sessionStart: time.Now(),
	}
	a.setupUI()
	return a
}

// setupUI creates the UI layout
func (a *App) setupUI() {
	a.nowPlaying = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.nowPlaying.SetBorder(true).
		SetTitle(" Now Playing ").
		SetTitleAlign(tview.AlignLeft)

	a.progress = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.progress.SetBorder(true)

	a.server = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.server.SetBorder(true).
		SetTitle(" Server ").
		SetTitleAlign(tview.AlignLeft)

	a.recent = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.recent.SetBorder(true).
		SetTitle(" Recent ").
		SetTitleAlign(tview.AlignLeft)

	a.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]q:quit  space:play/pause  n:next  p:prev  ←/→:seek 10s[-]")

	bottomRow := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.server, 0, 1, false).
		AddItem(a.recent, 0, 1, false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.nowPlaying, 0, 3, false).
		AddItem(a.progress, 3, 1, false).
		AddItem(bottomRow, 7, 1, false).
		AddItem(a.status, 1, 1, false)

	a.app.SetInputCapture(a.handleKeyEvent)
	a.app.SetRoot(flex, true)
}

// handleKeyEvent processes keyboard input
func (a *App) handleKeyEvent(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyLeft:
		a.seekBy(-seekStep)
		return nil
	case tcell.KeyRight:
		a.seekBy(seekStep)
		return nil
	}

	switch event.Rune() {
	case 'q', 'Q':
		a.Stop()
		return nil
	case ' ':
		a.send("play_pause")
		return nil
	case 'n', 'N':
		a.send("next")
		return nil
	case 'p', 'P':
		a.send("prev")
		return nil
	}
	return event
}

// seekBy seeks relative to the interpolated position
func (a *App) seekBy(delta time.Duration) {
	a.mu.Lock()
	cur := a.current
	at := a.polledAt
	a.mu.Unlock()
	if cur == nil {
		return
	}

	pos := interpolate(cur, time.Since(at))
	target := seekTarget(pos, delta, cur.Duration())
	a.send("seek:" + strconv.Itoa(int(target/time.Second)))
}

// send dispatches a token off the UI goroutine
func (a *App) send(token string) {
	if a.controller == nil {
		return
	}

	a.mu.Lock()
	a.lastAction = token
	a.commandsSent++
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		err := a.controller.Dispatch(ctx, token)

		a.mu.Lock()
		a.lastErr = err
		a.mu.Unlock()
	}()
}

// Run starts the TUI, consuming state from the poller's update channel
func (a *App) Run(ctx context.Context, updates <-chan remote.Update) error {
	ctx, a.cancelFunc = context.WithCancel(ctx)

	go a.handleUpdates(ctx, updates)

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	a.cancelFunc()
	return nil
}

// handleUpdates consumes poll results and drives redraws. The channel
// consumer only updates state; a single ticker is the sole source of
// redraws so they never queue up.
func (a *App) handleUpdates(ctx context.Context, updates <-chan remote.Update) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-updates:
				a.apply(update, time.Now())
			}
		}
	}()

	refreshRate := a.config.RefreshRate
	if refreshRate <= 0 {
		refreshRate = 500 * time.Millisecond
	}
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.app.Stop()
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

// apply records a poll result, moving the previous track into the recent
// list when the track changes
func (a *App) apply(update remote.Update, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if update.Err != nil {
		a.lastErr = update.Err
		return
	}
	a.lastErr = nil

	if a.current != nil && update.Status != nil &&
		(update.Status.Index != a.current.Index || update.Status.Title() != a.current.Title()) {
		a.addToRecentTracks(a.current, now)
	}
	a.current = update.Status
	a.polledAt = now
}

// addToRecentTracks adds a track to the ring buffer. Must be called with a.mu held.
func (a *App) addToRecentTracks(s *remote.Status, now time.Time) {
	idx := a.recentCount % maxRecentTracks
	a.recentBuf[idx] = RecentTrack{
		Title:    s.Title(),
		Artist:   s.Artist(),
		PlayedAt: now,
	}
	a.recentCount++
}

// getRecentTracks returns recent tracks in most-recent-first order.
// Must be called with a.mu held.
func (a *App) getRecentTracks() []RecentTrack {
	n := min(a.recentCount, maxRecentTracks)
	result := make([]RecentTrack, n)
	for i := 0; i < n; i++ {
		idx := (a.recentCount - 1 - i) % maxRecentTracks
		result[i] = a.recentBuf[idx]
	}
	return result
}

// refresh updates all UI components
func (a *App) refresh() {
	a.app.QueueUpdateDraw(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		a.updateNowPlaying()
		a.updateProgress()
		a.updateServer()
		a.updateRecentTracks()
	})
}

func (a *App) updateNowPlaying() {
	text := renderNowPlaying(a.current)
	if text != a.lastNowPlaying {
		a.lastNowPlaying = text
		a.nowPlaying.SetText(text)
	}
}

func (a *App) updateProgress() {
	var text string

	if a.current != nil {
		_, _, width, _ := a.progress.GetInnerRect()
		barWidth := width - 14 // Account for time display
		if barWidth > 0 {
			a.lastBarWidth = barWidth
		}
		if a.lastBarWidth < 10 {
			a.lastBarWidth = 10
		}

		pos := interpolate(a.current, time.Since(a.polledAt))
		dur := a.current.Duration()
		text = fmt.Sprintf("%s %s %s", formatDuration(pos), buildProgressBar(pos, dur, a.lastBarWidth), formatDuration(dur))
	}

	if text != a.lastProgress {
		a.lastProgress = text
		a.progress.SetText(text)
	}
}

func (a *App) updateServer() {
	var sb strings.Builder

	if a.lastErr != nil {
		sb.WriteString(fmt.Sprintf("[red]✗ %s[-]\n", tview.Escape(a.lastErr.Error())))
	} else {
		sb.WriteString(fmt.Sprintf("[green]✓ %s[-]\n", tview.Escape(a.serverURL)))
	}

	if a.lastAction != "" {
		sb.WriteString(fmt.Sprintf("Last: %s\n", a.lastAction))
	} else {
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Sent: %d\n", a.commandsSent))
	sb.WriteString(fmt.Sprintf("Session: %s", formatDuration(time.Since(a.sessionStart))))

	text := sb.String()
	if text != a.lastServer {
		a.lastServer = text
		a.server.SetText(text)
	}
}

func (a *App) updateRecentTracks() {
	var sb strings.Builder

	tracks := a.getRecentTracks()
	if len(tracks) == 0 {
		sb.WriteString("[gray]No recent tracks[-]")
	} else {
		for i, track := range tracks {
			if i > 0 {
				sb.WriteString("\n")
			}
			name := track.Title
			if len(name) > 20 {
				name = name[:17] + "..."
			}
			sb.WriteString(fmt.Sprintf("[gray]%s[-] [white]%s[-]", track.PlayedAt.Format("15:04"), tview.Escape(name)))
		}
	}

	text := sb.String()
	if text != a.lastRecent {
		a.lastRecent = text
		a.recent.SetText(text)
	}
}

// Stop stops the TUI application
func (a *App) Stop() {
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.app.Stop()
}

func renderNowPlaying(s *remote.Status) string {
	if s == nil {
		return "\n\n[gray]Waiting for server...[-]"
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("[white::b]%s[-:-:-]\n", tview.Escape(s.Title())))
	sb.WriteString(fmt.Sprintf("[yellow]%s[-]\n", tview.Escape(s.Artist())))
	sb.WriteString(fmt.Sprintf("[gray]%s[-]", tview.Escape(s.Album())))

	stateIcon := "[green]▶[-]" // Play triangle
	if !s.IsPlaying {
		stateIcon = "[yellow]⏸[-]" // Pause icon
	}
	sb.WriteString(fmt.Sprintf("\n\n%s", stateIcon))
	return sb.String()
}

// interpolate estimates the position since the last poll. Only whole
// seconds are shown, matching the server.
func interpolate(s *remote.Status, since time.Duration) time.Duration {
	pos := s.Position()
	if s.IsPlaying && since > 0 {
		pos += since.Truncate(time.Second)
	}
	if dur := s.Duration(); dur > 0 && pos > dur {
		pos = dur
	}
	return pos
}

// seekTarget clamps pos+delta into [0, duration]
func seekTarget(pos, delta, duration time.Duration) time.Duration {
	target := pos + delta
	if target < 0 {
		return 0
	}
	if target > duration {
		return duration
	}
	return target
}

// buildProgressBar creates a text-based progress bar
func buildProgressBar(position, duration time.Duration, width int) string {
	if duration == 0 || width <= 0 {
		return strings.Repeat("-", max(width, 0))
	}

	progress := float64(position) / float64(duration)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}

	filled := int(progress * float64(width))
	empty := width - filled

	return "[green]" + strings.Repeat("█", filled) + "[-]" +
		"[gray]" + strings.Repeat("░", empty) + "[-]"
}

// formatDuration formats a duration as MM:SS or HH:MM:SS for longer durations
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
