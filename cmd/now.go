/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/remote"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

// nowCmd represents the now command
var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Display the currently playing track",
	Long: `Ask the server for the current track and print it.

The output format can be customized in ~/.config/nowplaying/config.yaml
using a Go template. Available fields: .Title, .Artist, .Album, .Index,
.Elapsed, .Length, .Duration, .Position, .IsPlaying

Exit codes:
  0 - Track is currently playing
  1 - Playback is paused or the server is unreachable`,
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)

	// Add format flag to override config
	nowCmd.Flags().StringP("format", "f", "", "Output format template (overrides config)")
	// Add width flag to set fixed output width
	nowCmd.Flags().IntP("width", "w", 0, "Fixed output width (0=disabled, overrides config)")
	// Add marquee flag to enable scrolling
	nowCmd.Flags().Bool("marquee", false, "Enable marquee scrolling for long text (overrides config)")
}

// nowView is the data passed to the output template
type nowView struct {
	Title     string
	Artist    string
	Album     string
	Index     int
	Elapsed   string // M:SS
	Length    string // M:SS
	Duration  time.Duration
	Position  time.Duration
	IsPlaying bool
}

func newNowView(s *remote.Status) nowView {
	return nowView{
		Title:     s.Title(),
		Artist:    s.Artist(),
		Album:     s.Album(),
		Index:     s.Index,
		Elapsed:   catalog.FormatDuration(s.CurrentTime),
		Length:    catalog.FormatDuration(s.Song.Seconds),
		Duration:  s.Duration(),
		Position:  s.Position(),
		IsPlaying: s.IsPlaying,
	}
}

func runNow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Check for format flag override
	formatFlag, _ := cmd.Flags().GetString("format")
	if formatFlag != "" {
		cfg.OutputFormat = formatFlag
	}

	// Get current state
	status, err := newClient(cfg, setupLogger(logFile, logLevel)).Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current track: %w", err)
	}

	// If not playing, exit with code 1
	if !status.IsPlaying {
		os.Exit(1)
		return nil
	}

	// Format and print output
	output, err := formatStatus(status, cfg.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	// Apply width padding/marquee if requested
	width, _ := cmd.Flags().GetInt("width")
	if width == 0 {
		width = cfg.OutputWidth
	}

	marquee, _ := cmd.Flags().GetBool("marquee")
	if !cmd.Flags().Changed("marquee") {
		// Flag not set, use config default
		marquee = cfg.MarqueeEnabled
	}

	if width > 0 {
		if marquee {
			output = marqueeText(output, width, cfg.MarqueeSpeed, cfg.MarqueeSeparator, time.Now())
		} else {
			output = padToWidth(output, width)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// formatStatus applies the template to the status
func formatStatus(s *remote.Status, templateStr string) (string, error) {
	tmpl, err := template.New("output").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newNowView(s)); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// padToWidth fits text to exactly width display columns, truncating with
// "..." or padding with spaces. width <= 0 leaves text unchanged.
func padToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}

	w := runewidth.StringWidth(text)
	switch {
	case w > width:
		const ellipsis = "..."
		if width <= len(ellipsis) {
			return ellipsis[:width]
		}
		out := runewidth.Truncate(text, width-len(ellipsis), "") + ellipsis
		return runewidth.FillRight(out, width)
	case w < width:
		return text + strings.Repeat(" ", width-w)
	default:
		return text
	}
}

// marqueeText scrolls text wider than width through a fixed window. The
// offset is derived from the timestamp (speed runes per second) so each
// invocation from a status bar advances the scroll without keeping state.
// Text that fits is padded instead.
func marqueeText(text string, width int, speed int, separator string, now time.Time) string {
	if width <= 0 {
		return text
	}
	if runewidth.StringWidth(text) <= width {
		return padToWidth(text, width)
	}

	loop := []rune(text + separator + text)
	start := int(now.Unix()*int64(speed)) % len(loop)

	var sb strings.Builder
	used := 0
	for i := 0; i < len(loop); i++ {
		r := loop[(start+i)%len(loop)]
		rw := runewidth.RuneWidth(r)
		if used+rw > width {
			break
		}
		sb.WriteRune(r)
		used += rw
	}

	return sb.String() + strings.Repeat(" ", width-used)
}
