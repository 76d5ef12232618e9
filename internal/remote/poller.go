package remote

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Update is one poll result
type Update struct {
	Status *Status // Current state (nil on error)
	Err    error
}

// Poller polls a server's current state at a fixed interval
type Poller struct {
	client   *Client
	interval time.Duration
	logger   zerolog.Logger
}

// NewPoller creates a Poller
func NewPoller(client *Client, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Run polls immediately and then on every tick, sending each result to
// updates. Blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, updates chan<- Update) error {
	p.logger.Debug().
		Dur("interval", p.interval).
		Str("server", p.client.BaseURL()).
		Msg("Starting poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx, updates)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("Poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx, updates)
		}
	}
}

// Poll fetches the current state once and sends it to updates
func (p *Poller) Poll(ctx context.Context, updates chan<- Update) {
	p.poll(ctx, updates)
}

func (p *Poller) poll(ctx context.Context, updates chan<- Update) {
	status, err := p.client.Current(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Error getting current state")
		select {
		case updates <- Update{Err: err}:
		case <-ctx.Done():
		}
		return
	}

	select {
	case updates <- Update{Status: status}:
		p.logger.Debug().
			Str("track", status.Title()).
			Int("elapsed", status.CurrentTime).
			Bool("playing", status.IsPlaying).
			Msg("Poll update")
	case <-ctx.Done():
	}
}
