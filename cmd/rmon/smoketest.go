package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/config"
	"github.com/franz/radio-monitor/internal/lidarr"
	"github.com/franz/radio-monitor/internal/musicbrainz"
	"github.com/franz/radio-monitor/internal/plex"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// checkTimeout bounds each network check.
const checkTimeout = 15 * time.Second

const (
	minFreeDisk    = 1 << 30
	maxDiskPercent = 90.0
	minFreeMemory  = 256 << 20
)

var smokeTestCmd = &cobra.Command{
	Use:     "smoke-test",
	Aliases: []string{"doctor"},
	Short:   "Check the database and every configured service",
	Long: `Run diagnostic checks to make sure the monitor can operate.

This command checks:
- SQLite version
- Database accessibility and integrity
- MusicBrainz reachability
- Lidarr connection and root folder (when an API key is set)
- Plex connection and music library (when a token is set)
- Disk space next to the database and available memory

Lidarr and Plex are optional; an unconfigured service is a warning.`,
	Args: cobra.NoArgs,
	RunE: runSmokeTest,
}

func init() {
	rootCmd.AddCommand(smokeTestCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

type artistSearcher interface {
	SearchArtist(ctx context.Context, name string) ([]musicbrainz.Artist, error)
}

type lidarrProbe interface {
	TestConnection(ctx context.Context) (*lidarr.Status, error)
	RootFolders(ctx context.Context) ([]lidarr.RootFolder, error)
}

type plexProbe interface {
	TestConnection(ctx context.Context) (*plex.Identity, error)
	Section(ctx context.Context, name string) (*plex.Section, error)
}

func runSmokeTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := interruptible(cmd)
	defer stop()

	util.InfoLog("=== Radio Monitor Smoke Test ===")
	util.InfoLog("")

	results := []checkResult{
		checkSQLite(),
		checkDatabase(cfg),
		checkMusicBrainz(ctx, musicbrainz.NewClient(cfg.MusicBrainzOptions())),
	}

	if cfg.Lidarr.APIKey == "" {
		results = append(results, checkResult{name: "Lidarr", warning: true, message: "lidarr.api_key not set (skipped)"})
	} else if c, err := lidarr.NewClient(cfg.LidarrOptions()); err != nil {
		results = append(results, checkResult{name: "Lidarr", error: true, message: err.Error()})
	} else {
		results = append(results, checkLidarr(ctx, c, cfg.Lidarr.RootFolderPath))
	}

	if cfg.Plex.Token == "" {
		results = append(results, checkResult{name: "Plex", warning: true, message: "plex.token not set (skipped)"})
	} else if c, err := plex.NewClient(cfg.PlexOptions()); err != nil {
		results = append(results, checkResult{name: "Plex", error: true, message: err.Error()})
	} else {
		results = append(results, checkPlex(ctx, c, cfg.Plex.LibraryName))
	}

	results = append(results,
		checkDiskSpace(ctx, filepath.Dir(cfg.Monitor.DatabaseFile)),
		checkMemory(ctx),
	)

	return printResults(results)
}

func printResults(results []checkResult) error {
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("❌ Some checks failed. Resolve them before running the monitor.")
		return fmt.Errorf("smoke test failed")
	} else if hasWarnings {
		util.WarnLog("⚠️  Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("✅ All systems operational")
	}
	return nil
}

// checkSQLite verifies the embedded SQLite reports a version
func checkSQLite() checkResult {
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{name: "SQLite", error: true, message: "unable to determine version"}
	}
	return checkResult{name: "SQLite", message: fmt.Sprintf("version %s (built-in)", version)}
}

// checkDatabase opens the database, checks its integrity and reports counts
func checkDatabase(cfg *config.Config) checkResult {
	path := cfg.Monitor.DatabaseFile
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{name: "Database", message: fmt.Sprintf("%s (will be created on first run)", path)}
		}
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}
	if !info.Mode().IsRegular() {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("%s is not a regular file", path)}
	}

	db, err := openStore(cfg)
	if err != nil {
		return checkResult{name: "Database", error: true, message: err.Error()}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("integrity check failed: %v", err)}
	}
	stats, err := db.Stats()
	if err != nil {
		return checkResult{name: "Database", error: true, message: err.Error()}
	}
	version, _ := db.SchemaVersion()

	return checkResult{
		name: "Database",
		message: fmt.Sprintf("%s (%s, schema v%d, %s artists, %s songs, %s plays)",
			path, util.FormatBytes(fileSize(path)), version,
			util.FormatCount(int64(stats.Artists)), util.FormatCount(int64(stats.Songs)), util.FormatCount(int64(stats.Plays))),
	}
}

// checkMusicBrainz runs one search. An empty result still proves the API
// answers.
func checkMusicBrainz(ctx context.Context, mb artistSearcher) checkResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if _, err := mb.SearchArtist(ctx, "Radio Monitor Smoke Test"); err != nil {
		return checkResult{name: "MusicBrainz", error: true, message: fmt.Sprintf("unreachable: %v", err)}
	}
	return checkResult{name: "MusicBrainz", message: "API reachable"}
}

// checkLidarr verifies the connection and that the configured root folder exists
func checkLidarr(ctx context.Context, c lidarrProbe, rootFolder string) checkResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	status, err := c.TestConnection(ctx)
	if err != nil {
		return checkResult{name: "Lidarr", error: true, message: err.Error()}
	}
	label := fmt.Sprintf("%s %s", status.AppName, status.Version)

	folders, err := c.RootFolders(ctx)
	if err != nil {
		return checkResult{name: "Lidarr", warning: true, message: fmt.Sprintf("%s, cannot list root folders: %v", label, err)}
	}
	for _, f := range folders {
		if filepath.Clean(f.Path) == filepath.Clean(rootFolder) {
			return checkResult{name: "Lidarr", message: fmt.Sprintf("%s, root folder %s", label, f.Path)}
		}
	}
	return checkResult{name: "Lidarr", warning: true, message: fmt.Sprintf("%s, root folder %s is not configured in Lidarr", label, rootFolder)}
}

// checkPlex verifies the connection and that the music library exists
func checkPlex(ctx context.Context, c plexProbe, library string) checkResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	id, err := c.TestConnection(ctx)
	if err != nil {
		return checkResult{name: "Plex", error: true, message: err.Error()}
	}
	if _, err := c.Section(ctx, library); err != nil {
		return checkResult{name: "Plex", error: true, message: fmt.Sprintf("server %s, library %q: %v", id.Version, library, err)}
	}
	return checkResult{name: "Plex", message: fmt.Sprintf("server %s, library %q", id.Version, library)}
}

// checkDiskSpace warns when the database volume is nearly full
func checkDiskSpace(ctx context.Context, dir string) checkResult {
	if dir == "" {
		dir = "."
	}
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return checkResult{name: "Disk space", warning: true, message: fmt.Sprintf("cannot determine disk space: %v", err)}
	}

	msg := fmt.Sprintf("%s free of %s (%.1f%% used)",
		util.FormatBytes(int64(usage.Free)), util.FormatBytes(int64(usage.Total)), usage.UsedPercent)
	if usage.Free < minFreeDisk || usage.UsedPercent > maxDiskPercent {
		return checkResult{name: "Disk space", warning: true, message: msg + ", running low"}
	}
	return checkResult{name: "Disk space", message: msg}
}

// checkMemory warns when little memory is available
func checkMemory(ctx context.Context) checkResult {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return checkResult{name: "Memory", warning: true, message: fmt.Sprintf("cannot determine memory: %v", err)}
	}
	msg := fmt.Sprintf("%s available of %s", util.FormatBytes(int64(vm.Available)), util.FormatBytes(int64(vm.Total)))
	if vm.Available < minFreeMemory {
		return checkResult{name: "Memory", warning: true, message: msg + ", running low"}
	}
	return checkResult{name: "Memory", message: msg}
}
