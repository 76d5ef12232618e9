// Package service installs nowplaying as systemd user services.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
)

const unitTemplate = `[Unit]
Description={{.Description}}
{{- if .After}}
After={{.After}}
Wants={{.After}}
{{- end}}

[Service]
Type=simple
ExecStart={{.BinaryPath}} {{.Args}} --log-file {{.LogFile}}
WorkingDirectory={{.WorkingDirectory}}
Restart=always
RestartSec=2
Environment=PATH=/usr/local/bin:/usr/bin:/bin

[Install]
WantedBy=default.target
`

// Unit names
const (
	ServeUnit  = "nowplaying.service"
	SerialUnit = "nowplaying-serial.service"
)

// UnitConfig holds the values rendered into a unit file
type UnitConfig struct {
	Description      string
	BinaryPath       string
	Args             string // subcommand and flags
	LogFile          string
	WorkingDirectory string
	After            string // unit this one starts after, if any
}

// GenerateUnit renders a systemd unit file
func GenerateUnit(config UnitConfig) (string, error) {
	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return "", fmt.Errorf("failed to execute unit template: %w", err)
	}

	return buf.String(), nil
}

// Units returns the unit configs for the server and, when withSerial is
// set, the stand-alone serial forwarder
func Units(binaryPath, logDir, workDir string, withSerial bool) map[string]UnitConfig {
	units := map[string]UnitConfig{
		ServeUnit: {
			Description:      "nowplaying playback server",
			BinaryPath:       binaryPath,
			Args:             "serve",
			LogFile:          filepath.Join(logDir, "serve.log"),
			WorkingDirectory: workDir,
		},
	}
	if withSerial {
		units[SerialUnit] = UnitConfig{
			Description:      "nowplaying serial button forwarder",
			BinaryPath:       binaryPath,
			Args:             "serial",
			LogFile:          filepath.Join(logDir, "serial.log"),
			WorkingDirectory: workDir,
			After:            ServeUnit,
		}
	}
	return units
}

// GetUnitDir returns the systemd user unit directory
func GetUnitDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".config", "systemd", "user"), nil
}

// GetDefaultLogPath returns the default directory for service logs
func GetDefaultLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "nowplaying", "logs"), nil
}

// Runner executes systemctl
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// Systemctl runs `systemctl --user` with args
func Systemctl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
}

// Installer writes, enables and removes unit files
type Installer struct {
	UnitDir string
	Run     Runner
	Logger  zerolog.Logger
}

// Install writes each unit, reloads systemd and enables and starts them
func (i *Installer) Install(ctx context.Context, units map[string]UnitConfig) ([]string, error) {
	if err := os.MkdirAll(i.UnitDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create unit directory: %w", err)
	}

	names := sortedNames(units)
	for _, name := range names {
		content, err := GenerateUnit(units[name])
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(units[name].LogFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		path := filepath.Join(i.UnitDir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("failed to write unit file: %w", err)
		}
		i.Logger.Debug().Str("unit", path).Msg("Wrote unit file")
	}

	if err := i.systemctl(ctx, "daemon-reload"); err != nil {
		return nil, err
	}
	if err := i.systemctl(ctx, append([]string{"enable", "--now"}, names...)...); err != nil {
		return nil, err
	}
	return names, nil
}

// Uninstall stops and disables every installed nowplaying unit and removes
// its file. Units that are not installed are skipped.
func (i *Installer) Uninstall(ctx context.Context) ([]string, error) {
	var removed []string
	for _, name := range []string{SerialUnit, ServeUnit} {
		path := filepath.Join(i.UnitDir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}

		// disable may fail if the unit was never loaded; the file still goes
		if err := i.systemctl(ctx, "disable", "--now", name); err != nil {
			i.Logger.Warn().Err(err).Str("unit", name).Msg("Failed to disable unit")
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove unit file: %w", err)
		}
		removed = append(removed, name)
	}

	if len(removed) > 0 {
		if err := i.systemctl(ctx, "daemon-reload"); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (i *Installer) systemctl(ctx context.Context, args ...string) error {
	run := i.Run
	if run == nil {
		run = Systemctl
	}
	out, err := run(ctx, args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("systemctl %s failed: %s", strings.Join(args, " "), msg)
		}
		return fmt.Errorf("failed to run systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// sortedNames returns the serve unit first so it is enabled before the
// serial forwarder that depends on it
func sortedNames(units map[string]UnitConfig) []string {
	var names []string
	if _, ok := units[ServeUnit]; ok {
		names = append(names, ServeUnit)
	}
	for name := range units {
		if name != ServeUnit {
			names = append(names, name)
		}
	}
	return names
}
