package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a summary report of what the stations played",
	Long: `Generate a summary report in Markdown format.

The report includes:
- Database totals
- Top songs and top artists for the window
- Plays per station and per day
- Artists still waiting for an MBID
- Songs Plex could not match
- Recent errors from the activity log

The report is saved to reports/<timestamp>/summary.md unless --out is given.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().Int("days", 7, "report window in days (0 = all time)")
	reportCmd.Flags().String("out", "", "output directory (default: reports/<timestamp>)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	days, _ := cmd.Flags().GetInt("days")
	if days < 0 {
		return fmt.Errorf("--days must not be negative")
	}

	util.InfoLog("=== Generating Summary Report ===")
	util.InfoLog("Database: %s", cfg.Monitor.DatabaseFile)

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	util.InfoLog("Analyzing data...")
	summary, err := report.GenerateSummary(db, days)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	summary.DatabasePath = cfg.Monitor.DatabaseFile

	outputDir, _ := cmd.Flags().GetString("out")
	if outputDir == "" {
		outputDir = filepath.Join("reports", time.Now().Format("20060102-150405"))
	}
	outputPath := filepath.Join(outputDir, "summary.md")

	util.InfoLog("Writing report to: %s", outputPath)
	if err := report.WriteMarkdownReport(summary, outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	util.SuccessLog("Report generated successfully!")
	util.InfoLog("")
	util.InfoLog("Summary:")
	util.InfoLog("  Artists: %s", util.FormatCount(int64(summary.Stats.Artists)))
	util.InfoLog("  Songs: %s", util.FormatCount(int64(summary.Stats.Songs)))
	util.InfoLog("  Plays: %s (%s today)", util.FormatCount(int64(summary.Stats.Plays)), util.FormatCount(int64(summary.Stats.PlaysToday)))
	if len(summary.TopSongs) > 0 {
		top := summary.TopSongs[0]
		util.InfoLog("  Top song: %s - %s (%d plays)", top.ArtistName, top.Title, top.Plays)
	}
	if summary.Stats.PendingArtists > 0 {
		util.WarnLog("  PENDING artists: %d", summary.Stats.PendingArtists)
	}
	if len(summary.RecentErrors) > 0 {
		util.WarnLog("  Recent errors: %d", len(summary.RecentErrors))
	}
	return nil
}
