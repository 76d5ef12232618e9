package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jfmyers9/nowplaying/internal/remote"
	"github.com/jfmyers9/nowplaying/internal/tui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// tuiCmd represents the tui command
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Terminal remote for a running server",
	Long: `Display a terminal UI showing the server's current track, updated by
polling, with playback controls.

The TUI includes:
- Now playing display with title, artist and album
- Progress bar that keeps moving between polls
- Connection status and recently played tracks

Keys: space play/pause, n next, p previous, ←/→ seek 10s, q quit.`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI; only log when a file is given
	logger := zerolog.Nop()
	if logFile != "" {
		logger = setupLogger(logFile, logLevel)
	}

	client := newClient(cfg, logger)

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan remote.Update)
	go func() {
		_ = remote.NewPoller(client, interval, logger).Run(ctx, updates)
	}()

	app := tui.New(tui.DefaultConfig(), client, client.BaseURL())
	if err := app.Run(ctx, updates); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
