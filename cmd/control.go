package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/remote"
	"github.com/spf13/cobra"
)

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Resume playback",
	Long:  `Resume playback. Does nothing if already playing.`,
	Args:  cobra.NoArgs,
	RunE:  controlRunner("play"),
}

// pauseCmd represents the pause command
var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause playback",
	Long:  `Pause playback. Elapsed time stops advancing until playback resumes.`,
	Args:  cobra.NoArgs,
	RunE:  controlRunner("pause"),
}

// playpauseCmd represents the playpause command
var playpauseCmd = &cobra.Command{
	Use:   "playpause",
	Short: "Toggle play/pause",
	Long:  `Toggle between play and pause states. If playing, pauses. If paused, resumes.`,
	Args:  cobra.NoArgs,
	RunE:  controlRunner("play_pause"),
}

// nextCmd represents the next command
var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Skip to next track",
	Long:  `Skip to the next track in the catalog, wrapping to the first after the last.`,
	Args:  cobra.NoArgs,
	RunE:  controlRunner("next"),
}

// prevCmd represents the prev command
var prevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Go to previous track",
	Long:  `Go to the previous track in the catalog, wrapping to the last from the first.`,
	Args:  cobra.NoArgs,
	RunE:  controlRunner("prev"),
}

// seekCmd represents the seek command
var seekCmd = &cobra.Command{
	Use:   "seek <seconds|MM:SS>",
	Short: "Jump to a position in the current track",
	Long: `Jump to a position in the current track.

The target is whole seconds (90) or a clock value (1:30). Targets past the
end of the track are ignored by the server unless player.seek_policy is
'reject', in which case the command fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeek,
}

func init() {
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(playpauseCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(prevCmd)
	rootCmd.AddCommand(seekCmd)
}

func controlRunner(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		status, err := newClient(cfg, setupLogger(logFile, logLevel)).Control(ctx, action)
		if err != nil {
			return fmt.Errorf("failed to %s: %w", action, err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), describeStatus(status))
		return nil
	}
}

func runSeek(cmd *cobra.Command, args []string) error {
	seconds, err := parseSeekTarget(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	elapsed, err := newClient(cfg, setupLogger(logFile, logLevel)).Seek(ctx, seconds)
	if err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), catalog.FormatDuration(elapsed))
	return nil
}

// parseSeekTarget accepts whole seconds or a MM:SS clock value
func parseSeekTarget(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("seek target must not be negative: %s", s)
		}
		return n, nil
	}
	n, err := catalog.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid seek target %q (use seconds or MM:SS)", s)
	}
	return n, nil
}

// describeStatus renders a one-line summary of a control result
func describeStatus(s *remote.Status) string {
	state := "playing"
	if !s.IsPlaying {
		state = "paused"
	}
	return fmt.Sprintf("%s %s [%s/%s]", state, s.Title(),
		catalog.FormatDuration(s.CurrentTime), catalog.FormatDuration(s.Song.Seconds))
}
