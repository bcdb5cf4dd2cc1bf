package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

var playlistAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Define a playlist built from play history",
	Long: `Define a playlist built from play history. With --interval it becomes
an auto playlist that the monitor refreshes on that schedule; without it the
playlist is only updated by "rmon playlist update NAME".

Modes: ` + strings.Join(store.PlaylistModes, ", "),
	Args: cobra.ExactArgs(1),
	RunE: runPlaylistAdd,
}

var playlistEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a playlist definition",
	Long: `Change a playlist definition. Only the flags that are given are
updated; a new --interval reschedules the next run.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlaylistEdit,
}

var playlistDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a playlist definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaylistDelete,
}

func init() {
	playlistCmd.AddCommand(playlistAddCmd)
	playlistCmd.AddCommand(playlistEditCmd)
	playlistCmd.AddCommand(playlistDeleteCmd)
	playlistCmd.AddCommand(&cobra.Command{
		Use:   "enable ID",
		Short: "Resume automatic updates",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setPlaylistEnabled(args[0], true) },
	})
	playlistCmd.AddCommand(&cobra.Command{
		Use:   "disable ID",
		Short: "Pause automatic updates",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setPlaylistEnabled(args[0], false) },
	})

	for _, c := range []*cobra.Command{playlistAddCmd, playlistEditCmd} {
		c.Flags().String("mode", "merge", "update discipline")
		c.Flags().Int("max-songs", 50, "maximum songs in the playlist")
		c.Flags().Int("interval", 0, "minutes between automatic updates (0 for none)")
		c.Flags().StringSlice("station", nil, "only plays from these stations (repeatable)")
		c.Flags().Int("min-plays", 1, "minimum plays per song")
		c.Flags().Int("max-plays", 0, "maximum plays per song (0 for no limit)")
		c.Flags().Int("days", 0, "only plays from the last N days (0 for all time)")
		c.Flags().String("plex-name", "", "playlist name on Plex (default NAME)")
	}
	playlistEditCmd.Flags().String("name", "", "new name")
	playlistDeleteCmd.Flags().Bool("remote", false, "also delete the playlist from Plex")
}

func applyPlaylistFlags(cmd *cobra.Command, p *store.Playlist) {
	f := cmd.Flags()
	if f.Changed("mode") || p.Mode == "" {
		p.Mode, _ = f.GetString("mode")
	}
	if f.Changed("max-songs") || p.MaxSongs == 0 {
		p.MaxSongs, _ = f.GetInt("max-songs")
	}
	if f.Changed("interval") {
		p.IntervalMinutes, _ = f.GetInt("interval")
		p.IsAuto = p.IntervalMinutes > 0
	}
	if f.Changed("station") {
		p.StationIDs, _ = f.GetStringSlice("station")
	}
	if f.Changed("min-plays") || p.MinPlays == 0 {
		p.MinPlays, _ = f.GetInt("min-plays")
	}
	if f.Changed("max-plays") {
		p.MaxPlays, _ = f.GetInt("max-plays")
	}
	if f.Changed("days") {
		p.Days, _ = f.GetInt("days")
	}
	if f.Changed("plex-name") {
		p.PlexPlaylistName, _ = f.GetString("plex-name")
	}
}

func runPlaylistAdd(cmd *cobra.Command, args []string) error {
	p := store.Playlist{Name: args[0], Enabled: true}
	applyPlaylistFlags(cmd, &p)
	return withStore(func(db *store.Store, _ string) error {
		if existing, err := db.GetPlaylistByName(p.Name); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("playlist %q: %w", p.Name, util.ErrConflict)
		}
		id, err := db.AddPlaylist(p)
		if err != nil {
			return err
		}
		util.SuccessLog("Added playlist %q with id %d", p.Name, id)
		return nil
	})
}

func runPlaylistEdit(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		p, err := db.GetPlaylist(id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("playlist %d: %w", id, util.ErrNotFound)
		}
		if cmd.Flags().Changed("name") {
			p.Name, _ = cmd.Flags().GetString("name")
		}
		applyPlaylistFlags(cmd, p)
		if _, err := db.UpdatePlaylist(*p); err != nil {
			return err
		}
		util.SuccessLog("Updated playlist %q", p.Name)
		return nil
	})
}

func runPlaylistDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	remote, _ := cmd.Flags().GetBool("remote")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.GetPlaylist(id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("playlist %d: %w", id, util.ErrNotFound)
	}

	if remote {
		if a.plex == nil {
			return fmt.Errorf("plex.token is not set: %w", util.ErrInvalidConfig)
		}
		ctx, stop := interruptible(cmd)
		defer stop()
		if err := deleteRemotePlaylist(ctx, a, p.PlexPlaylistName); err != nil {
			return err
		}
	}

	if _, err := a.store.DeletePlaylist(id); err != nil {
		return err
	}
	util.SuccessLog("Deleted playlist %q", p.Name)
	return nil
}

func deleteRemotePlaylist(ctx context.Context, a *app, name string) error {
	pl, err := a.plex.Playlist(ctx, name)
	if errors.Is(err, util.ErrNotFound) || (err == nil && pl == nil) {
		util.InfoLog("Playlist %q does not exist on Plex", name)
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.plex.DeletePlaylist(ctx, pl.RatingKey); err != nil {
		return err
	}
	util.SuccessLog("Deleted %q from Plex", name)
	return nil
}

func setPlaylistEnabled(arg string, enabled bool) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.SetPlaylistEnabled(id, enabled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("playlist %d: %w", id, util.ErrNotFound)
		}
		if enabled {
			util.SuccessLog("Playlist %d enabled", id)
		} else {
			util.SuccessLog("Playlist %d disabled", id)
		}
		return nil
	})
}
