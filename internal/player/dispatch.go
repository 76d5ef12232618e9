package player

import (
	"context"
	"strconv"
	"strings"
)

// Control tokens
const (
	TokenPlayPause = "play_pause"
	TokenPlay      = "play"
	TokenPause     = "pause"
	TokenNext      = "next"
	TokenPrev      = "prev"
	TokenSeek      = "seek"
)

// Command is a parsed control token
type Command struct {
	Token  string // Normalized token; "seek" for seek:<n>
	Target int    // Seek target in seconds
	Known  bool
}

// ParseCommand normalizes a control token. Unrecognized tokens, and seek
// tokens whose target is not an integer, come back with Known set to false.
func ParseCommand(token string) Command {
	token = strings.ToLower(strings.TrimSpace(token))

	switch token {
	case TokenPlayPause, TokenPlay, TokenPause, TokenNext, TokenPrev:
		return Command{Token: token, Known: true}
	}

	if arg, ok := strings.CutPrefix(token, TokenSeek+":"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return Command{Token: token}
		}
		return Command{Token: TokenSeek, Target: n, Known: true}
	}

	return Command{Token: token}
}

// String returns the wire form of the command
func (c Command) String() string {
	if c.Token == TokenSeek && c.Known {
		return TokenSeek + ":" + strconv.Itoa(c.Target)
	}
	return c.Token
}

// Dispatch runs the operation named by token and returns the resulting
// snapshot. Unknown tokens change nothing and echo the current snapshot.
// Listeners are notified for every known command that succeeds, except a
// seek that was ignored as out of range.
func (p *Player) Dispatch(ctx context.Context, token string) (Snapshot, error) {
	cmd := ParseCommand(token)
	if !cmd.Known {
		p.logger.Debug().Str("token", cmd.Token).Msg("Ignoring unknown control token")
		return p.Current(ctx)
	}

	var (
		snap    Snapshot
		applied = true
		err     error
	)
	switch cmd.Token {
	case TokenPlayPause:
		snap, err = p.TogglePlayPause(ctx)
	case TokenPlay:
		snap, err = p.SetPlaying(ctx, true)
	case TokenPause:
		snap, err = p.SetPlaying(ctx, false)
	case TokenNext:
		snap, err = p.Advance(ctx, Next)
	case TokenPrev:
		snap, err = p.Advance(ctx, Prev)
	case TokenSeek:
		snap, applied, err = p.seekTo(ctx, cmd.Target)
	}
	if err != nil {
		return Snapshot{}, err
	}
	if !applied {
		return snap, nil
	}

	p.logger.Debug().
		Str("command", cmd.String()).
		Int("index", snap.Index).
		Int("elapsed", snap.Elapsed).
		Bool("playing", snap.Playing).
		Msg("Dispatched control command")

	p.notify(ctx, cmd.String(), snap)
	return snap, nil
}
