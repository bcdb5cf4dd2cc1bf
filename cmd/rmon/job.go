package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/util"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect or run scheduled jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the jobs the monitor schedules",
	Args:  cobra.NoArgs,
	RunE:  runJobList,
}

var jobRunCmd = &cobra.Command{
	Use:   "run ID",
	Short: "Run one job now and wait for it",
	Long: `Run one scheduled job in the foreground, for example

  rmon job run backup_job
  rmon job run database_cleanup_job`,
	Args: cobra.ExactArgs(1),
	RunE: runJobRun,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobRunCmd)
}

func runJobList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.scheduler()
	if err != nil {
		return err
	}
	defer s.Shutdown(context.Background())

	for _, e := range s.Entries() {
		util.InfoLog("  %-26s %-12s %s", e.ID, e.Spec, e.Name)
	}
	return nil
}

func runJobRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.scheduler()
	if err != nil {
		return err
	}

	ctx, stop := interruptible(cmd)
	defer stop()

	start := time.Now()
	done, err := s.Trigger(args[0])
	if err != nil {
		s.Shutdown(context.Background())
		return err
	}

	var jobErr error
	select {
	case res := <-done:
		jobErr = res.Err
	case <-ctx.Done():
		util.WarnLog("Interrupted, waiting for %s to stop...", args[0])
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		util.WarnLog("%s was cancelled after %s", args[0], shutdownTimeout)
	}
	if jobErr != nil {
		return jobErr
	}
	if ctx.Err() != nil {
		return util.ErrCancelled
	}
	util.SuccessLog("%s finished in %s", args[0], time.Since(start).Round(time.Millisecond))
	return nil
}
