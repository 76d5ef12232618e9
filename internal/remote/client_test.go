package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const currentSongBody = `{"song":{"title":"Alpha","artist":"A","album":"X","duration":"3:20"},"current_index":0,"current_time":42,"is_playing":true}`

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/"), ts
}

func TestCurrent(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/current_song" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(currentSongBody))
	})

	s, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if s.Title() != "Alpha" || s.Artist() != "A" || s.Album() != "X" {
		t.Errorf("track = %q %q %q", s.Title(), s.Artist(), s.Album())
	}
	if s.Duration() != 200*time.Second || s.Position() != 42*time.Second || !s.IsPlaying {
		t.Errorf("duration %v position %v playing %v", s.Duration(), s.Position(), s.IsPlaying)
	}
}

func TestControlAndSeek(t *testing.T) {
	var paths []string
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/api/seek/90":
			_, _ = w.Write([]byte(`{"status":"success","current_time":90}`))
		default:
			_, _ = w.Write([]byte(`{"status":"success","song":{"title":"Bravo","duration":"2:30"},"current_index":1,"current_time":0,"is_playing":false}`))
		}
	})
	ctx := context.Background()

	s, err := c.Control(ctx, "next")
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	if s.Status != "success" || s.Index != 1 || s.Title() != "Bravo" {
		t.Errorf("status = %+v", s)
	}

	got, err := c.Seek(ctx, 90)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got != 90 {
		t.Errorf("Seek = %d, want 90", got)
	}

	if _, err := c.Seek(ctx, -1); err == nil {
		t.Error("negative seek did not fail")
	}

	want := []string{"/api/control/next", "/api/seek/90"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestDispatch(t *testing.T) {
	var paths []string
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","current_time":30}`))
	})
	ctx := context.Background()

	for _, token := range []string{"play_pause", "seek:30"} {
		if err := c.Dispatch(ctx, token); err != nil {
			t.Fatalf("Dispatch(%q): %v", token, err)
		}
	}
	if err := c.Dispatch(ctx, "seek:soon"); err == nil {
		t.Error("malformed seek token accepted")
	}

	want := []string{"/api/control/play_pause", "/api/seek/30"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"catalog unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(currentSongBody))
	})

	if _, err := c.Current(context.Background()); err != nil {
		t.Fatalf("Current: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestErrorsSurface(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "server error exhausts retries", status: http.StatusInternalServerError, wantCalls: maxRetries},
		{name: "client error not retried", status: http.StatusBadRequest, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
			})

			_, err := c.Control(context.Background(), "next")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Message != "boom" {
				t.Errorf("APIError = %+v", apiErr)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestCatalogAndHistory(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/catalog":
			_, _ = w.Write([]byte(`{"songs":[{"title":"Alpha","duration":"3:20"},{"title":"Bravo","duration":"2:30"}]}`))
		case "/api/history":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			_, _ = w.Write([]byte(`{"entries":[{"id":2,"command":"next","current_index":1,"title":"Bravo","current_time":0,"is_playing":true,"timestamp":"2024-01-01T12:00:00Z"}],"total":7}`))
		}
	})
	ctx := context.Background()

	tracks, err := c.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if len(tracks) != 2 || tracks[1].Seconds != 150 {
		t.Errorf("tracks = %+v", tracks)
	}

	entries, total, err := c.History(ctx, 5)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if total != 7 || len(entries) != 1 || entries[0].Command != "next" {
		t.Errorf("history = %+v total %d", entries, total)
	}
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if err := c.WaitReady(context.Background(), 5, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestWaitReady_GivesUp(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if err := c.WaitReady(context.Background(), 2, time.Millisecond); err == nil {
		t.Error("WaitReady succeeded against a closed port")
	}
}

func TestPoller(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(currentSongBody))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan Update)
	done := make(chan error, 1)
	go func() {
		done <- NewPoller(c, 10*time.Millisecond, zerolog.Nop()).Run(ctx, updates)
	}()

	for i := 0; i < 2; i++ {
		select {
		case u := <-updates:
			if u.Err != nil || u.Status == nil || u.Status.Title() != "Alpha" {
				t.Fatalf("update %d = %+v", i, u)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no update from poller")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
