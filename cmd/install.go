package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jfmyers9/nowplaying/internal/service"
	"github.com/spf13/cobra"
)

var installSerial bool

// installCmd represents the install command
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install nowplaying as systemd user services",
	Long: `Install the nowplaying server as a systemd user service that starts on login.

This command will:
  - Generate a unit file for 'nowplaying serve'
  - With --serial, also generate one for 'nowplaying serial' that starts
    after the server
  - Install them to ~/.config/systemd/user/
  - Enable and start them with systemctl --user

The services restart automatically if they exit. Run
'loginctl enable-linger' to keep them running without a login session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Get the path to the current executable
		binaryPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}

		// Resolve symlinks to get the actual binary path
		binaryPath, err = filepath.EvalSymlinks(binaryPath)
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}

		logPath, err := service.GetDefaultLogPath()
		if err != nil {
			return fmt.Errorf("failed to get log path: %w", err)
		}

		// The server resolves a relative catalog path against this
		workDir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}

		unitDir, err := service.GetUnitDir()
		if err != nil {
			return err
		}

		inst := &service.Installer{UnitDir: unitDir, Logger: setupLogger(logFile, logLevel)}
		names, err := inst.Install(ctx, service.Units(binaryPath, logPath, workDir, installSerial))
		if err != nil {
			return fmt.Errorf("failed to install services: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, name := range names {
			fmt.Fprintf(out, "✓ Installed and started %s\n", filepath.Join(unitDir, name))
		}
		fmt.Fprintf(out, "✓ Logs will be written to %s\n", logPath)
		fmt.Fprintln(out, "\nYou can check the service status with:")
		fmt.Fprintln(out, "  systemctl --user status nowplaying")
		fmt.Fprintln(out, "\nTo uninstall, run:")
		fmt.Fprintln(out, "  nowplaying uninstall")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)

	installCmd.Flags().BoolVar(&installSerial, "serial", false, "Also install the serial button forwarder")
}
