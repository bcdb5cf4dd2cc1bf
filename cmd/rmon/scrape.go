package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/radio-monitor/internal/util"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape all enabled stations once",
	Long: `Run a single scrape tick: every enabled station (or the ones named with
--station) is scraped, new artists are resolved against MusicBrainz and the
plays are recorded. Ctrl-C stops between stations.`,
	RunE: runScrape,
}

var retryCmd = &cobra.Command{
	Use:   "retry-pending",
	Short: "Resolve PENDING artists against MusicBrainz",
	Long: `Retry the MusicBrainz lookup for artists stored with a PENDING placeholder
MBID. Resolved artists are rekeyed, or merged into an existing artist that
already holds the found MBID.`,
	RunE: runRetryPending,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(retryCmd)

	scrapeCmd.Flags().StringSlice("station", nil, "only scrape these station IDs (repeatable)")
	retryCmd.Flags().Int("max", 0, "retry at most N artists (0 = all)")
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.seedStations(); err != nil {
		return err
	}

	ctx, stop := interruptible(cmd)
	defer stop()
	go func() {
		<-ctx.Done()
		a.cancel.Cancel()
	}()

	stations, _ := cmd.Flags().GetStringSlice("station")
	res, err := a.pipeline().Tick(ctx, stations...)
	if err != nil {
		return err
	}

	util.InfoLog("")
	util.InfoLog("=== Scrape Summary ===")
	util.InfoLog("Stations scraped: %d", res.StationsScraped)
	util.InfoLog("Songs found:      %d", res.SongsFound)
	util.InfoLog("New artists:      %d", res.ArtistsAdded)
	util.InfoLog("New songs:        %d", res.SongsAdded)
	util.InfoLog("Plays recorded:   %d", res.PlaysRecorded)
	if len(res.Imported) > 0 {
		util.InfoLog("Sent to Lidarr:   %d", len(res.Imported))
	}
	for _, id := range res.FailedStations {
		util.WarnLog("Station failed: %s", id)
	}
	for _, id := range res.DisabledStations {
		util.ErrorLog("Station disabled after repeated failures: %s", id)
	}
	util.InfoLog("Duration:         %s", res.Duration.Round(time.Millisecond))
	if res.Cancelled {
		util.WarnLog("Scrape was interrupted")
	}
	return nil
}

func runRetryPending(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := interruptible(cmd)
	defer stop()

	limit, _ := cmd.Flags().GetInt("max")
	var bar *progressbar.ProgressBar
	rep, err := a.resolver.RetryPending(ctx, limit, func(done, total int) {
		if bar == nil {
			bar = util.NewProgressBar(total, "Resolving", viper.GetBool("quiet"))
		}
		bar.Set(done)
	})
	if bar != nil {
		bar.Finish()
	}
	if rep == nil {
		return err
	}

	util.InfoLog("")
	util.InfoLog("=== Retry Summary ===")
	util.InfoLog("PENDING artists: %d", rep.Total)
	util.SuccessLog("Resolved:        %d", rep.Resolved)
	if rep.Failed > 0 {
		util.WarnLog("Still pending:   %d", rep.Failed)
	}
	for _, r := range rep.Results {
		if r.Resolved {
			util.DebugLog("  %s: %s -> %s", r.Name, r.OldMBID, r.NewMBID)
		}
	}
	return err
}
