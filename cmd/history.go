package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/history"
	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent control commands",
	Long: `Show the most recent control commands the server handled, newest first,
with the track and position each one left playback at.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	entries, total, err := newClient(cfg, setupLogger(logFile, logLevel)).History(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to get history: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries, total))
	return nil
}

// renderHistory formats entries as a table
func renderHistory(entries []history.Entry, total int) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Command", "#", "Title", "At", "State"})

	for _, e := range entries {
		state := "paused"
		if e.Playing {
			state = "playing"
		}
		t.AppendRow(table.Row{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Command,
			e.Index,
			e.Title,
			catalog.FormatDuration(e.Elapsed),
			state,
		})
	}

	t.AppendFooter(table.Row{"", fmt.Sprintf("%d of %d", len(entries), total)})
	return t.Render()
}
