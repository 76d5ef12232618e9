package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jfmyers9/nowplaying/internal/service"
	"github.com/spf13/cobra"
)

// uninstallCmd represents the uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the nowplaying systemd user services",
	Long: `Stop and disable the nowplaying services and remove their unit files
from ~/.config/systemd/user/.

After uninstalling, the server will no longer start automatically on login.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		unitDir, err := service.GetUnitDir()
		if err != nil {
			return err
		}

		inst := &service.Installer{UnitDir: unitDir, Logger: setupLogger(logFile, logLevel)}
		removed, err := inst.Uninstall(ctx)
		if err != nil {
			return fmt.Errorf("failed to uninstall services: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(removed) == 0 {
			fmt.Fprintln(out, "nowplaying is not installed (no unit files found)")
			return nil
		}

		for _, name := range removed {
			fmt.Fprintf(out, "✓ Stopped and removed %s\n", name)
		}
		fmt.Fprintln(out, "\nTo reinstall, run:")
		fmt.Fprintln(out, "  nowplaying install")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}
