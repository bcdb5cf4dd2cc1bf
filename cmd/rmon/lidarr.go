package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/radio-monitor/internal/lidarr"
	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

var importLidarrCmd = &cobra.Command{
	Use:   "import-lidarr",
	Short: "Send frequently played artists to Lidarr",
	Long: `Add every artist that is still flagged for import and has at least
--min-plays plays to Lidarr. Artists that were added, or that Lidarr already
has, are marked imported and not offered again. PENDING artists are never
sent.

--dry-run lists the candidates without contacting Lidarr.`,
	Args: cobra.NoArgs,
	RunE: runImportLidarr,
}

func init() {
	rootCmd.AddCommand(importLidarrCmd)

	importLidarrCmd.Flags().Int("min-plays", 0, "minimum total plays (default lidarr.min_plays_for_import)")
	importLidarrCmd.Flags().String("station", "", "only artists played on this station")
	importLidarrCmd.Flags().Bool("dry-run", false, "list candidates without importing")
	importLidarrCmd.Flags().Bool("force", false, "do not ask for confirmation")

	rootCmd.AddCommand(lidarrInfoCmd)
	rootCmd.AddCommand(lidarrResetCmd)
	lidarrResetCmd.Flags().Bool("force", false, "do not ask for confirmation")
}

var lidarrInfoCmd = &cobra.Command{
	Use:   "lidarr-info",
	Short: "Show Lidarr root folders and profiles",
	Long: `List the root folders, quality profiles and metadata profiles Lidarr
offers, marking the ones the configuration points at.`,
	Args: cobra.NoArgs,
	RunE: runLidarrInfo,
}

var lidarrResetCmd = &cobra.Command{
	Use:   "lidarr-reset",
	Short: "Flag every artist for Lidarr import again",
	Args:  cobra.NoArgs,
	RunE:  runLidarrReset,
}

func marker(ok bool) string {
	if ok {
		return "*"
	}
	return " "
}

func runLidarrInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Lidarr.APIKey == "" {
		return fmt.Errorf("lidarr.api_key is not set: %w", util.ErrInvalidConfig)
	}
	c, err := lidarr.NewClient(cfg.LidarrOptions())
	if err != nil {
		return err
	}

	ctx, stop := interruptible(cmd)
	defer stop()

	folders, err := c.RootFolders(ctx)
	if err != nil {
		return err
	}
	util.InfoLog("=== Root folders ===")
	for _, f := range folders {
		util.InfoLog(" %s %-40s %s free", marker(f.Path == cfg.Lidarr.RootFolderPath), f.Path, util.FormatBytes(f.FreeSpace))
	}

	quality, err := c.QualityProfiles(ctx)
	if err != nil {
		return err
	}
	util.InfoLog("=== Quality profiles ===")
	for _, p := range quality {
		util.InfoLog(" %s %-4d %s", marker(p.ID == cfg.Lidarr.QualityProfileID), p.ID, p.Name)
	}

	metadata, err := c.MetadataProfiles(ctx)
	if err != nil {
		return err
	}
	util.InfoLog("=== Metadata profiles ===")
	for _, p := range metadata {
		util.InfoLog(" %s %-4d %s", marker(p.ID == cfg.Lidarr.MetadataProfileID), p.ID, p.Name)
	}
	return nil
}

func runLidarrReset(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	return withStore(func(db *store.Store, _ string) error {
		if !force {
			ok, err := confirm(cmd, "Flag every artist for import again? (yes/no): ")
			if err != nil {
				return err
			}
			if !ok {
				util.InfoLog("Reset cancelled")
				return nil
			}
		}
		n, err := db.ResetLidarrImportStatus()
		if err != nil {
			return err
		}
		util.SuccessLog("%d artists flagged for import", n)
		return nil
	})
}

func runImportLidarr(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	minPlays, _ := cmd.Flags().GetInt("min-plays")
	if minPlays <= 0 {
		minPlays = cfg.Lidarr.MinPlaysForImport
	}
	station, _ := cmd.Flags().GetString("station")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")

	candidates, err := a.store.ArtistsNeedingImport(minPlays, station)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		util.InfoLog("No artists with %d+ plays need importing", minPlays)
		return nil
	}
	util.InfoLog("Found %d artists with %d+ plays:", len(candidates), minPlays)
	for _, c := range candidates {
		util.InfoLog("  - %s (%d plays, %d songs)", c.Name, c.TotalPlays, c.SongCount)
	}
	if dryRun {
		util.InfoLog("")
		util.InfoLog("Dry run - nothing was sent to Lidarr")
		return nil
	}

	if a.lidarr == nil {
		return fmt.Errorf("lidarr.api_key is not set: %w", util.ErrInvalidConfig)
	}
	if !force {
		ok, err := confirm(cmd, fmt.Sprintf("Import %d artists to Lidarr? (yes/no): ", len(candidates)))
		if err != nil {
			return err
		}
		if !ok {
			util.InfoLog("Import cancelled")
			return nil
		}
	}

	ctx, stop := interruptible(cmd)
	defer stop()

	bar := util.NewProgressBar(len(candidates), "Importing", viper.GetBool("quiet"))
	res, err := lidarr.ImportAll(ctx, a.store, a.lidarr, lidarr.BulkOptions{
		MinPlays:  minPlays,
		StationID: station,
		Progress: func(done, total int, c store.ImportCandidate) {
			bar.Set(done)
		},
	})
	bar.Finish()
	if res == nil {
		return err
	}

	util.InfoLog("")
	util.InfoLog("Results:")
	util.InfoLog("  Imported:       %d", res.Imported)
	util.InfoLog("  Already exists: %d", res.AlreadyExists)
	if res.Failed > 0 {
		util.WarnLog("  Failed:         %d", res.Failed)
		for _, f := range res.Failures {
			util.WarnLog("    - %s: %s", f.Name, f.Reason)
		}
	}

	a.activity.Log(store.ActivityEntry{
		Type:     report.EventImport,
		Severity: res.Severity(),
		Title:    res.Summary(),
		Source:   report.SourceCLI,
		Metadata: map[string]any{
			"imported":       res.Imported,
			"already_exists": res.AlreadyExists,
			"failed":         res.Failed,
			"min_plays":      minPlays,
		},
	})
	return err
}
