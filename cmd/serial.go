package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jfmyers9/nowplaying/internal/serial"
	"github.com/spf13/cobra"
)

var (
	serialPort string
	serialBaud int
	serialWait int
)

// serialCmd represents the serial command
var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Forward serial button presses to a running server",
	Long: `Read newline-terminated button commands from a serial port and forward
them to the server over HTTP.

Lines are matched case-insensitively against serial.commands in the config
(by default play and pause toggle playback, next and prev change track).
Unknown lines are ignored. If the port cannot be opened, or fails while
reading, it is reopened after serial.retry.

Use 'nowplaying serve --serial' instead to read the port inside the server.`,
	RunE: runSerial,
}

func init() {
	rootCmd.AddCommand(serialCmd)

	serialCmd.Flags().StringVar(&serialPort, "port", "", "Serial device (overrides config)")
	serialCmd.Flags().IntVar(&serialBaud, "baud", 0, "Baud rate (overrides config)")
	serialCmd.Flags().IntVar(&serialWait, "wait", 10, "Seconds to wait for the server before giving up (0 = don't wait)")
}

func runSerial(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serialPort != "" {
		cfg.Serial.Port = serialPort
	}
	if serialBaud > 0 {
		cfg.Serial.Baud = serialBaud
	}

	logger := setupLogger(logFile, logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := newClient(cfg, logger)
	if serialWait > 0 {
		if err := client.WaitReady(ctx, serialWait, time.Second); err != nil {
			return err
		}
		logger.Info().Str("server", client.BaseURL()).Msg("Server is ready")
	}

	listener := serial.NewListener(serialConfig(cfg), client, logger)
	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serial listener: %w", err)
	}
	return nil
}
