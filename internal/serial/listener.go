// Package serial turns button presses arriving as text lines on a serial
// port into control commands.
package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	goserial "go.bug.st/serial"
)

const (
	// DefaultPort is the usual USB serial adapter device
	DefaultPort = "/dev/ttyUSB0"
	// DefaultBaud matches the button box firmware
	DefaultBaud = 115200
	// DefaultRetry is the delay before reopening a failed port
	DefaultRetry = 2 * time.Second

	readTimeout = time.Second
	maxLineLen  = 256
)

// DefaultCommands maps device lines to control tokens. The hardware has a
// single play/pause button that sends either word.
func DefaultCommands() map[string]string {
	return map[string]string{
		"play":  "play_pause",
		"pause": "play_pause",
		"next":  "next",
		"prev":  "prev",
	}
}

// Commander receives control tokens
type Commander interface {
	Dispatch(ctx context.Context, token string) error
}

// CommanderFunc adapts a function to Commander
type CommanderFunc func(ctx context.Context, token string) error

// Dispatch calls f
func (f CommanderFunc) Dispatch(ctx context.Context, token string) error {
	return f(ctx, token)
}

// Opener opens the named port
type Opener func(name string, baud int) (io.ReadCloser, error)

// OpenPort opens a real serial port with a read timeout so reads return
// periodically and cancellation is noticed
func OpenPort(name string, baud int) (io.ReadCloser, error) {
	port, err := goserial.Open(name, &goserial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return port, nil
}

// Config configures a Listener
type Config struct {
	Port     string
	Baud     int
	Retry    time.Duration
	Commands map[string]string // device line (lower case) -> control token
}

// Listener reads command lines from a serial port and forwards them
type Listener struct {
	cfg    Config
	cmd    Commander
	open   Opener
	logger zerolog.Logger
}

// Option configures a Listener
type Option func(*Listener)

// WithOpener replaces the port opener
func WithOpener(open Opener) Option {
	return func(l *Listener) {
		l.open = open
	}
}

// NewListener creates a Listener
func NewListener(cfg Config, cmd Commander, logger zerolog.Logger, opts ...Option) *Listener {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultRetry
	}
	commands := make(map[string]string, len(cfg.Commands))
	for k, v := range cfg.Commands {
		commands[strings.ToLower(strings.TrimSpace(k))] = v
	}
	if len(commands) == 0 {
		commands = DefaultCommands()
	}
	cfg.Commands = commands

	l := &Listener{
		cfg:    cfg,
		cmd:    cmd,
		open:   OpenPort,
		logger: logger.With().Str("component", "serial").Str("port", cfg.Port).Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run opens the port and serves it until ctx is cancelled. A port that
// fails to open, or fails while reading, is closed and reopened after the
// retry delay.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Int("baud", l.cfg.Baud).Msg("Starting serial listener")

	for {
		port, err := l.open(l.cfg.Port, l.cfg.Baud)
		if err != nil {
			l.logger.Warn().Err(err).Dur("retry", l.cfg.Retry).Msg("Failed to open serial port, retrying")
		} else {
			l.logger.Info().Msg("Serial port open")
			err = l.Serve(ctx, port)
			port.Close()
			if ctx.Err() != nil {
				l.logger.Info().Msg("Serial listener stopped")
				return ctx.Err()
			}
			l.logger.Warn().Err(err).Dur("retry", l.cfg.Retry).Msg("Serial port failed, reopening")
		}

		if !sleep(ctx, l.cfg.Retry) {
			l.logger.Info().Msg("Serial listener stopped")
			return ctx.Err()
		}
	}
}

// Serve reads newline-terminated commands from r until it fails or ctx is
// cancelled. Reads returning no data (a port read timeout) are not errors.
func (l *Listener) Serve(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 64)
	var line []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			line = append(line, buf[:n]...)
			for {
				i := bytes.IndexByte(line, '\n')
				if i < 0 {
					break
				}
				l.Handle(ctx, string(line[:i]))
				line = line[i+1:]
			}
			if len(line) > maxLineLen {
				l.logger.Debug().Int("len", len(line)).Msg("Discarding overlong line")
				line = line[:0]
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				l.Handle(ctx, string(line))
			}
			return err
		}
	}
}

// Handle maps one device line to a control token and forwards it. Blank
// and unknown lines are ignored.
func (l *Listener) Handle(ctx context.Context, line string) {
	word := strings.ToLower(strings.TrimSpace(strings.ToValidUTF8(line, "")))
	if word == "" {
		return
	}

	token, ok := l.cfg.Commands[word]
	if !ok {
		l.logger.Debug().Str("line", word).Msg("Ignoring unknown serial command")
		return
	}

	if err := l.cmd.Dispatch(ctx, token); err != nil {
		l.logger.Warn().Err(err).Str("line", word).Str("token", token).Msg("Failed to forward command")
		return
	}
	l.logger.Info().Str("line", word).Str("token", token).Msg("Command forwarded")
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
