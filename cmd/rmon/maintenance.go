package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the database",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Replace the database with a backup",
	Long: `Replace the database with a backup file. The backup is verified first and
a pre_restore_ copy of the current database is written to the backup
directory. Stop a running monitor before restoring.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var listBackupsCmd = &cobra.Command{
	Use:   "list-backups",
	Short: "List database backups",
	Args:  cobra.NoArgs,
	RunE:  runListBackups,
}

var exportJSONCmd = &cobra.Command{
	Use:   "export-json FILE",
	Short: "Export artists and songs as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportJSON,
}

var importJSONCmd = &cobra.Command{
	Use:   "import-json FILE",
	Short: "Merge artists and songs from a JSON export",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportJSON,
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Rebuild the database file to reclaim space",
	Args:  cobra.NoArgs,
	RunE:  runVacuum,
}

var shareExportCmd = &cobra.Command{
	Use:   "share-export NAME",
	Short: "Export a copy of the database for sharing",
	Long: `Write a copy of the database into the backup directory with playlists,
notification settings and Lidarr import state removed. ".db" is appended
to NAME when missing. An existing file is never overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runShareExport,
}

var shareImportCmd = &cobra.Command{
	Use:   "share-import FILE",
	Short: "Replace the database with a shared export",
	Long: `Replace the current database with one exported by share-export. A
pre_import_ copy of the current database is written to the backup
directory first. Asks for confirmation unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runShareImport,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listBackupsCmd)
	rootCmd.AddCommand(exportJSONCmd)
	rootCmd.AddCommand(importJSONCmd)
	rootCmd.AddCommand(vacuumCmd)
	rootCmd.AddCommand(shareExportCmd)
	rootCmd.AddCommand(shareImportCmd)

	shareImportCmd.Flags().Bool("force", false, "do not ask for confirmation")
}

func withStore(fn func(*store.Store, string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db, backupDir(cfg))
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, dir string) error {
		path, err := db.Backup(dir)
		if err != nil {
			return err
		}
		util.SuccessLog("Database backed up to %s (%s)", path, util.FormatBytes(fileSize(path)))
		return nil
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	safety, err := store.RestoreFile(args[0], cfg.Monitor.DatabaseFile, backupDir(cfg), time.Now())
	if err != nil {
		return err
	}
	if safety != "" {
		util.InfoLog("Previous database saved to %s", safety)
	}
	util.SuccessLog("Database restored from %s", args[0])
	return nil
}

func runListBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	backups, err := store.ListBackups(backupDir(cfg))
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		util.InfoLog("No backups found")
		return nil
	}

	util.InfoLog("Found %d backup(s):", len(backups))
	util.InfoLog("")
	var total int64
	invalid := 0
	for _, b := range backups {
		status := "OK"
		if !b.Valid {
			status = "INVALID"
			invalid++
		}
		total += b.Size
		util.InfoLog("  %s", b.Name)
		util.InfoLog("    Created: %s (%s)", b.CreatedAt.Format(time.DateTime), util.FormatAge(b.CreatedAt))
		util.InfoLog("    Size:    %s", util.FormatBytes(b.Size))
		if b.Valid {
			util.InfoLog("    Status:  %s", status)
		} else {
			util.WarnLog("    Status:  %s", status)
		}
	}
	util.InfoLog("")
	util.InfoLog("Total: %d backups, %s", len(backups), util.FormatBytes(total))
	if invalid > 0 {
		util.WarnLog("Invalid: %d", invalid)
	}
	return nil
}

func runExportJSON(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", args[0], err)
		}
		n, err := db.ExportJSON(f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		util.SuccessLog("Exported %s songs to %s", util.FormatCount(int64(n)), args[0])
		return nil
	})
}

func runImportJSON(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		counts, err := db.ImportJSON(f)
		if err != nil {
			return err
		}
		util.SuccessLog("Imported %d artists and %d songs from %s", counts.Artists, counts.Songs, args[0])
		return nil
	})
}

func runVacuum(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		before := fileSize(db.Path())
		if err := db.Vacuum(); err != nil {
			return err
		}
		after := fileSize(db.Path())
		util.SuccessLog("Database vacuumed: %s -> %s", util.FormatBytes(before), util.FormatBytes(after))
		return nil
	})
}

func runShareExport(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, dir string) error {
		name := args[0]
		if !strings.HasSuffix(name, ".db") {
			name += ".db"
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := db.ExportForSharing(path); err != nil {
			if errors.Is(err, util.ErrConflict) {
				return fmt.Errorf("file already exists: %s", path)
			}
			return err
		}
		util.SuccessLog("Database exported to %s", path)
		util.InfoLog("Playlists, notifications and Lidarr import state were removed")
		return nil
	})
}

func runShareImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src := args[0]
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("source file not found: %s", src)
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		util.WarnLog("This will OVERWRITE %s with %s", cfg.Monitor.DatabaseFile, src)
		ok, err := confirm(cmd, "Type 'yes' to continue: ")
		if err != nil {
			return err
		}
		if !ok {
			util.InfoLog("Import cancelled")
			return nil
		}
	}

	safety, err := store.ImportShared(src, cfg.Monitor.DatabaseFile, backupDir(cfg), time.Now())
	if err != nil {
		return err
	}
	if safety != "" {
		util.InfoLog("Pre-import backup: %s", safety)
	}
	util.SuccessLog("Database imported from %s", src)
	return nil
}

// confirm asks a yes/no question on the command's input. Without a terminal
// there is nobody to ask and it fails.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !util.IsTerminal(f.Fd()) {
		return false, fmt.Errorf("confirmation required; use --force when not on a terminal")
	}
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return true, nil
	}
	return false, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
