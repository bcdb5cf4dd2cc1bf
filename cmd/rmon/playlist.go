package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/playlist"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

var playlistCmd = &cobra.Command{
	Use:   "playlist",
	Short: "Maintain Plex playlists built from play history",
}

var playlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored playlists",
	Args:  cobra.NoArgs,
	RunE:  runPlaylistList,
}

var playlistUpdateCmd = &cobra.Command{
	Use:   "update NAME",
	Short: "Materialize one stored playlist now",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaylistUpdate,
}

var playlistRunDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Materialize every auto playlist whose update is due",
	Args:  cobra.NoArgs,
	RunE:  runPlaylistRunDue,
}

var playlistSyncCmd = &cobra.Command{
	Use:   "sync ID",
	Short: "Replace the Plex copy of a manual playlist with its songs",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaylistSync,
}

func init() {
	rootCmd.AddCommand(playlistCmd)
	playlistCmd.AddCommand(playlistListCmd)
	playlistCmd.AddCommand(playlistUpdateCmd)
	playlistCmd.AddCommand(playlistRunDueCmd)
	playlistCmd.AddCommand(playlistSyncCmd)
	playlistCmd.AddCommand(playlistGenerationsCmd)

	playlistGenerationsCmd.Flags().Int("limit", 20, "number of records to show")
}

func withPlaylists(fn func(*app, *playlist.Runner) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.playlists()
	if err != nil {
		return err
	}
	return fn(a, runner)
}

func printPlaylistResult(res *playlist.Result) {
	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	util.SuccessLog("%s playlist %q (%s)", verb, res.Playlist, res.Mode)
	util.InfoLog("  Candidates: %d", res.Queried)
	util.InfoLog("  Matched:    %d", res.Matched)
	util.InfoLog("  Added:      %d", res.Added)
	if res.Removed > 0 {
		util.InfoLog("  Removed:    %d", res.Removed)
	}
	if res.NotFound > 0 {
		util.WarnLog("  Not in library: %d", res.NotFound)
		for _, m := range res.Missing {
			util.DebugLog("    - %s - %s", m.Artist, m.Title)
		}
	}
	util.InfoLog("  Duration:   %s", res.Duration.Round(time.Millisecond))
}

func runPlaylistList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	playlists, err := db.ListPlaylists()
	if err != nil {
		return err
	}
	if len(playlists) == 0 {
		util.InfoLog("No playlists configured")
		return nil
	}
	for _, p := range playlists {
		state := "enabled"
		if !p.Enabled {
			state = "disabled"
		}
		if !p.IsAuto {
			state += ", manual"
		}
		util.InfoLog("  %-4d %-30s %-8s %4d songs  every %dm  last %s  (%s)",
			p.ID, p.Name, p.Mode, p.MaxSongs, p.IntervalMinutes, util.FormatAge(p.LastUpdated), state)
	}
	return nil
}

func runPlaylistUpdate(cmd *cobra.Command, args []string) error {
	return withPlaylists(func(a *app, runner *playlist.Runner) error {
		ctx, stop := interruptible(cmd)
		defer stop()

		res, err := runner.RunNamed(ctx, args[0])
		if err != nil {
			return err
		}
		printPlaylistResult(res)
		return nil
	})
}

func runPlaylistRunDue(cmd *cobra.Command, args []string) error {
	return withPlaylists(func(a *app, runner *playlist.Runner) error {
		ctx, stop := interruptible(cmd)
		defer stop()

		sum, err := runner.RunDue(ctx)
		if err != nil {
			return err
		}
		if sum.Due == 0 {
			util.InfoLog("No playlists are due")
			return nil
		}
		util.InfoLog("Updated %d of %d due playlists", sum.Updated, sum.Due)
		if sum.Failed > 0 {
			return fmt.Errorf("%d playlists failed", sum.Failed)
		}
		return nil
	})
}

func runPlaylistSync(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid playlist id %q", args[0])
	}
	return withPlaylists(func(a *app, runner *playlist.Runner) error {
		ctx, stop := interruptible(cmd)
		defer stop()

		res, err := runner.ManualSync(ctx, id)
		if err != nil {
			return err
		}
		printPlaylistResult(res)
		return nil
	})
}

var playlistGenerationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "Show playlists recorded by external generators",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(db *store.Store, _ string) error {
			gens, err := db.ListAIGenerations(limit)
			if err != nil {
				return err
			}
			if len(gens) == 0 {
				util.InfoLog("No generated playlists recorded")
				return nil
			}
			for _, g := range gens {
				util.InfoLog("  %-4d %s  %-10s %-30s %3d songs (%d unmatched)  %s",
					g.ID, g.GeneratedAt.Format("2006-01-02 15:04"), g.Status, g.PlexPlaylistName,
					g.SongCount, g.HallucinatedCount, g.Model)
			}
			return nil
		})
	},
}
