package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/radio-monitor/internal/config"
	"github.com/franz/radio-monitor/internal/scheduler"
	"github.com/franz/radio-monitor/internal/util"
)

// shutdownTimeout bounds how long running jobs get to finish after a signal.
const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor until interrupted",
	Long: `Run the monitor in the foreground.

The database is opened and seeded with the built-in stations, then the
scheduler starts its maintenance jobs: the daily MBID retry, backups,
cleanups and playlist updates. Scraping stays paused unless --start is given
or monitor.scrape_on_start is set.

Changes to monitor.scrape_interval_minutes in the config file are picked up
while running. SIGINT or SIGTERM stops scheduling, lets running jobs finish
and closes the database.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("start", false, "start scraping immediately")
}

// scheduler builds a scheduler with the scrape job and every maintenance job
// registered. Scraping starts paused.
func (a *app) scheduler() (*scheduler.Scheduler, error) {
	pipeline := a.pipeline()
	s := scheduler.New(func(ctx context.Context) error {
		res, err := pipeline.Tick(ctx)
		if err != nil {
			return err
		}
		util.InfoLog("%s", res.Message())
		return nil
	}, scheduler.Options{
		ScrapeInterval: a.cfg.ScrapeInterval(),
		Cancel:         a.cancel,
		Logger:         util.Named("scheduler"),
	})

	if err := a.maintenance().Register(s, a.cfg.Database.BackupEnabled); err != nil {
		s.Shutdown(context.Background())
		return nil, err
	}
	return s, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("failed to seed stations: %w", err)
	}

	s, err := a.scheduler()
	if err != nil {
		return err
	}

	start, _ := cmd.Flags().GetBool("start")
	if start || cfg.Monitor.ScrapeOnStart {
		s.Start()
		util.InfoLog("Scraping every %s", s.Interval())
	} else {
		util.InfoLog("Scraping is paused; start it with --start or monitor.scrape_on_start")
	}

	config.Watch(viper.GetViper(), func(next *config.Config) {
		if w := next.DuplicateDetectionWindowMinutes; w != a.store.DuplicateWindow() {
			a.store.SetDuplicateWindow(w)
			util.InfoLog("Duplicate play window changed to %d minutes", w)
		}
		if next.ScrapeInterval() == s.Interval() {
			return
		}
		if err := s.ModifyInterval(next.ScrapeInterval()); err != nil {
			util.WarnLog("Ignoring new scrape interval: %v", err)
			return
		}
		util.InfoLog("Scrape interval changed to %s", next.ScrapeInterval())
	})

	for _, e := range s.Entries() {
		if e.Paused {
			util.DebugLog("  %-24s %-18s paused", e.ID, e.Spec)
			continue
		}
		util.DebugLog("  %-24s %-18s next %s", e.ID, e.Spec, e.Next.Format(time.DateTime))
	}

	ctx, stop := interruptible(cmd)
	defer stop()
	<-ctx.Done()
	stop()

	util.InfoLog("Shutting down, waiting for running jobs...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		util.WarnLog("Jobs still running after %s were cancelled", shutdownTimeout)
	}
	util.SuccessLog("Monitor stopped")
	return nil
}
