// Package remote is a client for a running nowplaying server.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/history"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 5 * time.Second
	maxRetries     = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Status is the server's view of the playback state
type Status struct {
	Status      string        `json:"status,omitempty"`
	Song        catalog.Track `json:"song"`
	Index       int           `json:"current_index"`
	CurrentTime int           `json:"current_time"`
	IsPlaying   bool          `json:"is_playing"`
}

// Title returns the current track title
func (s *Status) Title() string { return s.Song.Title }

// Artist returns the current track artist
func (s *Status) Artist() string { return s.Song.Artist() }

// Album returns the current track album
func (s *Status) Album() string { return s.Song.Album() }

// Duration returns the current track length
func (s *Status) Duration() time.Duration {
	return time.Duration(s.Song.Seconds) * time.Second
}

// Position returns the elapsed time
func (s *Status) Position() time.Duration {
	return time.Duration(s.CurrentTime) * time.Second
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if retried
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

// Client talks to the nowplaying HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "remote").Logger()
	}
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Current returns the reconciled playback state
func (c *Client) Current(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/api/current_song", true, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Control sends a control token (play_pause, play, pause, next, prev)
func (c *Client) Control(ctx context.Context, action string) (*Status, error) {
	var s Status
	path := "/api/control/" + url.PathEscape(action)
	if err := c.get(ctx, path, false, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Dispatch sends a raw control token, routing "seek:<n>" to the seek
// endpoint. It lets a Client forward commands on behalf of another process.
func (c *Client) Dispatch(ctx context.Context, token string) error {
	if rest, ok := strings.CutPrefix(token, "seek:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("invalid seek token %q: %w", token, err)
		}
		_, err = c.Seek(ctx, n)
		return err
	}
	_, err := c.Control(ctx, token)
	return err
}

// Seek jumps to seconds within the current track and returns the resulting
// elapsed time
func (c *Client) Seek(ctx context.Context, seconds int) (int, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("seek target must not be negative: %d", seconds)
	}
	var resp struct {
		CurrentTime int `json:"current_time"`
	}
	if err := c.get(ctx, "/api/seek/"+strconv.Itoa(seconds), false, &resp); err != nil {
		return 0, err
	}
	return resp.CurrentTime, nil
}

// Catalog returns the server's track list
func (c *Client) Catalog(ctx context.Context) ([]catalog.Track, error) {
	var resp struct {
		Songs []catalog.Track `json:"songs"`
	}
	if err := c.get(ctx, "/api/catalog", true, &resp); err != nil {
		return nil, err
	}
	return resp.Songs, nil
}

// History returns up to limit recent commands, newest first, and the total
// number stored
func (c *Client) History(ctx context.Context, limit int) ([]history.Entry, int, error) {
	var resp struct {
		Entries []history.Entry `json:"entries"`
		Total   int             `json:"total"`
	}
	path := "/api/history?limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, path, true, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Entries, resp.Total, nil
}

// WaitReady polls /healthz until it answers, up to attempts times
func (c *Client) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		var body map[string]string
		lastErr = c.do(ctx, "/healthz", &body)
		if lastErr == nil {
			return nil
		}
		c.logger.Debug().Err(lastErr).Int("attempt", i+1).Msg("Server not ready")
		if i < attempts-1 && !sleep(ctx, interval) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("server at %s not ready: %w", c.baseURL, lastErr)
}

// get performs a GET with retries. Network errors are only retried when
// the request is safe to repeat; 5xx responses are always retried since
// the server commits nothing when it fails.
func (c *Client) get(ctx context.Context, path string, idempotent bool, out any) error {
	var lastErr error
	backoff := initialBackoff

	for i := 0; i < maxRetries; i++ {
		err := c.do(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err, idempotent) || i == maxRetries-1 {
			break
		}

		c.logger.Debug().
			Err(err).
			Str("path", path).
			Int("attempt", i+1).
			Msg("Request failed, retrying")
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}

	return lastErr
}

// do performs a single GET and decodes the JSON body
func (c *Client) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "nowplaying/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func shouldRetry(err error, idempotent bool) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if !idempotent {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
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

// nextBackoff doubles the delay, capped at maxBackoff
func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
