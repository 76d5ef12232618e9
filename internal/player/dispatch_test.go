package player

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in     string
		token  string
		target int
		known  bool
	}{
		{in: "play_pause", token: "play_pause", known: true},
		{in: "  PLAY \n", token: "play", known: true},
		{in: "pause", token: "pause", known: true},
		{in: "Next", token: "next", known: true},
		{in: "prev", token: "prev", known: true},
		{in: "seek:42", token: "seek", target: 42, known: true},
		{in: "seek: 7", token: "seek", target: 7, known: true},
		{in: "seek:abc", token: "seek:abc"},
		{in: "seek", token: "seek"},
		{in: "rewind", token: "rewind"},
		{in: "", token: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseCommand(tt.in)
			if got.Token != tt.token || got.Target != tt.target || got.Known != tt.known {
				t.Errorf("ParseCommand(%q) = %+v, want token %q target %d known %v",
					tt.in, got, tt.token, tt.target, tt.known)
			}
		})
	}
}

func TestDispatch_Table(t *testing.T) {
	tests := []struct {
		token       string
		wantIndex   int
		wantElapsed int
		wantPlaying bool
	}{
		{token: "play_pause", wantIndex: 0, wantElapsed: 10, wantPlaying: true},
		{token: "play", wantIndex: 0, wantElapsed: 10, wantPlaying: true},
		{token: "pause", wantIndex: 0, wantElapsed: 10, wantPlaying: false},
		{token: "next", wantIndex: 1, wantElapsed: 0, wantPlaying: false},
		{token: "prev", wantIndex: 2, wantElapsed: 0, wantPlaying: false},
		{token: "seek:99", wantIndex: 0, wantElapsed: 99, wantPlaying: false},
		{token: "seek:999", wantIndex: 0, wantElapsed: 10, wantPlaying: false},
		{token: "bogus", wantIndex: 0, wantElapsed: 10, wantPlaying: false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			p, _, _ := newTestPlayer(t, Config{})
			ctx := context.Background()
			mustSnap(t)(p.Seek(ctx, 10))

			snap := mustSnap(t)(p.Dispatch(ctx, tt.token))
			if snap.Index != tt.wantIndex || snap.Elapsed != tt.wantElapsed || snap.Playing != tt.wantPlaying {
				t.Errorf("Dispatch(%q) = index %d elapsed %d playing %v, want %d %d %v",
					tt.token, snap.Index, snap.Elapsed, snap.Playing,
					tt.wantIndex, tt.wantElapsed, tt.wantPlaying)
			}
		})
	}
}

func TestDispatch_UnknownTokenDoesNotWrite(t *testing.T) {
	p, _, st := newTestPlayer(t, Config{})
	ctx := context.Background()

	mustSnap(t)(p.Current(ctx))
	saves := st.saves

	mustSnap(t)(p.Dispatch(ctx, "shuffle"))
	if st.saves != saves {
		t.Errorf("unknown token wrote the store (%d -> %d)", saves, st.saves)
	}
}

func TestDispatch_NotifiesListeners(t *testing.T) {
	p, clk, _ := newTestPlayer(t, Config{})
	ctx := context.Background()

	var (
		mu      sync.Mutex
		changes []Change
	)
	p.OnChange(func(ctx context.Context, c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	mustSnap(t)(p.Dispatch(ctx, "play"))
	clk.Advance(2 * time.Second)
	mustSnap(t)(p.Dispatch(ctx, "seek:30"))
	mustSnap(t)(p.Dispatch(ctx, "nope"))

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if changes[0].Token != "play" || !changes[0].Snapshot.Playing {
		t.Errorf("first change = %+v", changes[0])
	}
	if changes[1].Token != "seek:30" || changes[1].Snapshot.Elapsed != 30 {
		t.Errorf("second change = %+v", changes[1])
	}
}

func TestDispatch_IgnoredSeekDoesNotNotify(t *testing.T) {
	p, _, st := newTestPlayer(t, Config{})
	ctx := context.Background()

	mustSnap(t)(p.Seek(ctx, 10))
	saves := st.saves

	var calls int
	p.OnChange(func(ctx context.Context, c Change) { calls++ })

	snap := mustSnap(t)(p.Dispatch(ctx, "seek:500"))
	if snap.Elapsed != 10 {
		t.Errorf("elapsed = %d, want 10", snap.Elapsed)
	}
	if calls != 0 {
		t.Errorf("listener called %d times for an ignored seek", calls)
	}
	if st.saves != saves {
		t.Errorf("ignored seek wrote the store (%d -> %d)", saves, st.saves)
	}

	mustSnap(t)(p.Dispatch(ctx, "seek:20"))
	if calls != 1 {
		t.Errorf("listener called %d times after a valid seek, want 1", calls)
	}
}

func TestDispatch_ListenerMayCallPlayer(t *testing.T) {
	p, _, _ := newTestPlayer(t, Config{})
	ctx := context.Background()

	done := make(chan Snapshot, 1)
	p.OnChange(func(ctx context.Context, c Change) {
		snap, err := p.Current(ctx)
		if err != nil {
			t.Errorf("Current in listener: %v", err)
		}
		done <- snap
	})

	mustSnap(t)(p.Dispatch(ctx, "next"))
	select {
	case snap := <-done:
		if snap.Index != 1 {
			t.Errorf("listener saw index %d, want 1", snap.Index)
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not run")
	}
}
