package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/spf13/cobra"
)

var catalogFile string

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the songs in the catalog",
	Long: `List the server's song catalog as a table, marking the current track.

With --file the catalog document is read and validated locally instead,
which is useful for checking a songs.json before deploying it.`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)

	catalogCmd.Flags().StringVar(&catalogFile, "file", "", "Read this songs.json instead of asking the server")
}

func runCatalog(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		tracks  []catalog.Track
		current = -1
	)

	if catalogFile != "" {
		c, err := catalog.NewFileSource(catalog.FileConfig{Path: catalogFile}, setupLogger(logFile, logLevel)).Load(ctx)
		if err != nil {
			return fmt.Errorf("invalid catalog: %w", err)
		}
		tracks = c.Tracks()
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newClient(cfg, setupLogger(logFile, logLevel))

		tracks, err = client.Catalog(ctx)
		if err != nil {
			return fmt.Errorf("failed to get catalog: %w", err)
		}
		if s, err := client.Current(ctx); err == nil {
			current = s.Index
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderCatalog(tracks, current))
	return nil
}

// renderCatalog formats tracks as a table, marking index current
func renderCatalog(tracks []catalog.Track, current int) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "#", "Title", "Artist", "Album", "Length"})

	total := 0
	for i, tr := range tracks {
		marker := ""
		if i == current {
			marker = "▶"
		}
		t.AppendRow(table.Row{marker, i, tr.Title, tr.Artist(), tr.Album(), catalog.FormatDuration(tr.Seconds)})
		total += tr.Seconds
	}

	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d songs", len(tracks)), "", "", catalog.FormatDuration(total)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	return t.Render()
}
