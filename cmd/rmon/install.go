package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/radio-monitor/internal/util"
)

// unitName is the systemd user unit the monitor is installed as.
const unitName = "radio-monitor.service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Radio Monitor
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
ExecStart={{.Binary}}{{if .Config}} --config {{.Config}}{{end}} run --start
Restart=on-failure
RestartSec=30
TimeoutStopSec=60

[Install]
WantedBy=default.target
`))

type unitParams struct {
	Binary  string
	WorkDir string
	Config  string
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the monitor as a systemd user service",
	Long: `Write a systemd user unit (` + unitName + `) that runs "rmon run --start"
from the current directory, then reload systemd and enable the unit.

Use --no-enable to only write the unit file.`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the systemd user service",
	Args:  cobra.NoArgs,
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)

	installCmd.Flags().Bool("no-enable", false, "write the unit without enabling it")
	installCmd.Flags().Bool("force", false, "overwrite an existing unit")
}

// unitDir is where systemd looks for user units.
func unitDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "systemd", "user"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "systemd", "user"), nil
}

func renderUnit(p unitParams) ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func systemctl(args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %v: %v: %s", args, err, bytes.TrimSpace(out))
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate the rmon binary: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(binary); err == nil {
		binary = resolved
	}
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfgPath := viper.ConfigFileUsed()
	if cfgPath != "" {
		if abs, err := filepath.Abs(cfgPath); err == nil {
			cfgPath = abs
		}
	}

	unit, err := renderUnit(unitParams{Binary: binary, WorkDir: workDir, Config: cfgPath})
	if err != nil {
		return err
	}

	dir, err := unitDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, unitName)
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite: %w", path, util.ErrConflict)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, unit, 0o644); err != nil {
		return fmt.Errorf("failed to write unit: %w", err)
	}
	util.SuccessLog("Wrote %s", path)

	if noEnable, _ := cmd.Flags().GetBool("no-enable"); noEnable {
		util.InfoLog("Enable it with: systemctl --user enable --now %s", unitName)
		return nil
	}
	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	if err := systemctl("enable", "--now", unitName); err != nil {
		return err
	}
	util.SuccessLog("Service %s enabled and started", unitName)
	util.InfoLog("Follow its log with: journalctl --user -u %s -f", unitName)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	dir, err := unitDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, unitName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		util.InfoLog("Service is not installed")
		return nil
	}

	if err := systemctl("disable", "--now", unitName); err != nil {
		util.WarnLog("%v", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove unit: %w", err)
	}
	if err := systemctl("daemon-reload"); err != nil {
		util.WarnLog("%v", err)
	}
	util.SuccessLog("Service %s removed", unitName)
	return nil
}
