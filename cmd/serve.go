package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/clock"
	"github.com/jfmyers9/nowplaying/internal/config"
	"github.com/jfmyers9/nowplaying/internal/history"
	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/jfmyers9/nowplaying/internal/serial"
	"github.com/jfmyers9/nowplaying/internal/server"
	"github.com/jfmyers9/nowplaying/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const historyCleanupInterval = time.Hour

var (
	serveAddr    string
	serveCatalog string
	serveSerial  bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the playback server",
	Long: `Run the HTTP server that owns the playback session.

The server will:
- Load the song catalog on every request (or keep it cached and reload it on
  change when catalog.watch is set)
- Reconcile the elapsed time from the wall clock on every request
- Persist the session in memory, a JSON file or Redis (store.kind)
- Record every control command in a SQLite history (history.enabled)
- Push state changes to WebSocket clients on /api/ws
- Optionally read button presses from a serial port (--serial)
- Handle graceful shutdown on SIGINT/SIGTERM

The server runs in the foreground and logs to stderr by default.
Use the --log-file flag to log to a file (useful for systemd).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "Path to songs.json (overrides config)")
	serveCmd.Flags().BoolVar(&serveSerial, "serial", false, "Also read button presses from the configured serial port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveCatalog != "" {
		cfg.Catalog.Path = serveCatalog
	}

	logger := setupLogger(logFile, logLevel)
	logger.Info().
		Str("version", version).
		Str("catalog", cfg.Catalog.Path).
		Str("store", cfg.Store.Kind).
		Msg("Starting nowplaying server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fallback, err := catalog.ParseFallbackPolicy(cfg.Player.Fallback)
	if err != nil {
		return err
	}
	seekPolicy, err := player.ParseSeekPolicy(cfg.Player.SeekPolicy)
	if err != nil {
		return err
	}

	source, watcher, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if watcher != nil {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Catalog watcher stopped")
			}
		}()
	}

	st, closeStore, err := store.Open(ctx, store.Options{
		Kind: cfg.Store.Kind,
		Path: cfg.Store.Path,
		Redis: store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error().Err(err).Msg("Failed to close state store")
		}
	}()

	p := player.New(source, st, clock.Real{}, player.Config{
		Fallback:   fallback,
		SeekPolicy: seekPolicy,
	}, logger)

	hist, err := openHistory(cfg, logger)
	if err != nil {
		return err
	}
	if hist != nil {
		defer hist.Close()
		p.OnChange(hist.Listener(logger))
		go pruneHistory(ctx, hist, cfg.History.MaxAge, logger)
	}

	srv := server.New(p, source, hist, logger)

	if serveSerial {
		listener := serial.NewListener(serialConfig(cfg), serial.CommanderFunc(func(ctx context.Context, token string) error {
			_, err := p.Dispatch(ctx, token)
			return err
		}), logger)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Serial listener stopped")
			}
		}()
	}

	if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// openCatalog returns the catalog source, plus the watcher to run when
// catalog.watch is set
func openCatalog(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (catalog.Source, *catalog.WatchedSource, error) {
	file := catalog.NewFileSource(catalog.FileConfig{
		Path:    cfg.Catalog.Path,
		Timeout: cfg.Catalog.LoadTimeout,
		Retries: cfg.Catalog.Retries,
	}, logger)

	if !cfg.Catalog.Watch {
		return file, nil, nil
	}

	watched, err := catalog.NewWatchedSource(ctx, file, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return watched, watched, nil
}

// openHistory opens the command history, or returns nil when disabled
func openHistory(cfg *config.Config, logger zerolog.Logger) (*history.Log, error) {
	if !cfg.History.Enabled {
		logger.Info().Msg("Command history disabled")
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	logger.Info().Str("path", cfg.History.Path).Msg("Using command history")
	return hist, nil
}

// pruneHistory drops entries older than maxAge now and then every hour
func pruneHistory(ctx context.Context, hist *history.Log, maxAge time.Duration, logger zerolog.Logger) {
	if maxAge <= 0 {
		return
	}

	cleanup := func() {
		n, err := hist.Cleanup(ctx, maxAge)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to prune history")
			return
		}
		if n > 0 {
			logger.Info().Int64("removed", n).Msg("Pruned command history")
		}
	}

	cleanup()
	ticker := time.NewTicker(historyCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup()
		}
	}
}

func serialConfig(cfg *config.Config) serial.Config {
	return serial.Config{
		Port:     cfg.Serial.Port,
		Baud:     cfg.Serial.Baud,
		Retry:    cfg.Serial.Retry,
		Commands: cfg.Serial.Commands,
	}
}
