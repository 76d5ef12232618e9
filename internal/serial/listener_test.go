package serial

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recorder is a Commander that remembers every token
type recorder struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (r *recorder) Dispatch(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

// timeoutReader returns (0, nil) between chunks like a port read timeout
type timeoutReader struct {
	chunks []string
	empty  int
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	if t.empty > 0 {
		t.empty--
		return 0, nil
	}
	if len(t.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, t.chunks[0])
	t.chunks = t.chunks[1:]
	t.empty = 150
	return n, nil
}

func TestHandle(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{line: "play", want: []string{"play_pause"}},
		{line: "PAUSE\r", want: []string{"play_pause"}},
		{line: "  next ", want: []string{"next"}},
		{line: "prev", want: []string{"prev"}},
		{line: "", want: nil},
		{line: "volume", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			rec := &recorder{}
			l := NewListener(Config{}, rec, zerolog.Nop())
			l.Handle(context.Background(), tt.line)

			got := rec.got()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Handle(%q) dispatched %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestHandle_CustomCommands(t *testing.T) {
	rec := &recorder{}
	l := NewListener(Config{Commands: map[string]string{"Play": "play", "Stop": "pause", "fwd": "seek:30"}}, rec, zerolog.Nop())
	ctx := context.Background()

	for _, line := range []string{"play", "stop", "fwd", "next"} {
		l.Handle(ctx, line)
	}

	want := "play,pause,seek:30"
	if got := strings.Join(rec.got(), ","); got != want {
		t.Errorf("dispatched %s, want %s", got, want)
	}
}

func TestHandle_DispatchErrorIsSwallowed(t *testing.T) {
	rec := &recorder{err: errors.New("server down")}
	l := NewListener(Config{}, rec, zerolog.Nop())

	l.Handle(context.Background(), "next")
	if len(rec.got()) != 1 {
		t.Error("command was not attempted")
	}
}

func TestServe_SplitsLines(t *testing.T) {
	rec := &recorder{}
	l := NewListener(Config{}, rec, zerolog.Nop())

	input := "play\r\nne"
	r := &timeoutReader{chunks: []string{input, "xt\n\nbogus\nprev"}}

	err := l.Serve(context.Background(), r)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Serve returned %v, want EOF", err)
	}

	want := "play_pause,next,prev"
	if got := strings.Join(rec.got(), ","); got != want {
		t.Errorf("dispatched %s, want %s", got, want)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	l := NewListener(Config{}, &recorder{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	r := &timeoutReader{empty: 1 << 30}
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, r) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestRun_Reopens(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		opens int
	)
	open := func(name string, baud int) (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		if name != "/dev/ttyTEST" || baud != 9600 {
			t.Errorf("open(%q, %d)", name, baud)
		}
		switch opens {
		case 1:
			return nil, errors.New("no such device")
		case 2:
			return io.NopCloser(strings.NewReader("next\n")), nil
		default:
			return io.NopCloser(strings.NewReader("prev\n")), nil
		}
	}

	l := NewListener(Config{Port: "/dev/ttyTEST", Baud: 9600, Retry: 5 * time.Millisecond}, rec, zerolog.Nop(), WithOpener(open))

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(rec.got()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("dispatched %v, want at least next and prev", rec.got())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	got := rec.got()
	if got[0] != "next" || got[1] != "prev" {
		t.Errorf("dispatched %v, want next then prev", got)
	}
}
