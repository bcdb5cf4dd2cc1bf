package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/franz/radio-monitor/internal/musicbrainz"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database totals and the latest plays",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var artistsCmd = &cobra.Command{
	Use:   "artists",
	Short: "List artists with their play totals",
	Args:  cobra.NoArgs,
	RunE:  runArtists,
}

var songsCmd = &cobra.Command{
	Use:   "songs",
	Short: "List songs with their play counts",
	Args:  cobra.NoArgs,
	RunE:  runSongs,
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Pin artist names to MusicBrainz IDs",
	Long: `Manual overrides win over every other MBID source. Names are matched
case-insensitively after normalization.`,
}

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Keep artists or songs out of playlists",
}

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Manage hand-picked playlists",
	Long: `Manual playlists are fixed song lists. Push one to Plex with
"rmon playlist sync ID".`,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(artistsCmd)
	rootCmd.AddCommand(songsCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(manualCmd)

	statsCmd.Flags().Int("recent", 10, "number of recent plays to show")

	for _, c := range []*cobra.Command{artistsCmd, songsCmd} {
		c.Flags().String("search", "", "substring to match")
		c.Flags().Int("page", 1, "page number")
		c.Flags().Int("limit", 50, "items per page")
		c.Flags().String("sort", "", "sort key")
		c.Flags().Bool("desc", false, "sort descending")
	}
	artistsCmd.Flags().String("mbid", "", `MBID status: "pending", "valid" or "none"`)
	artistsCmd.Flags().Bool("needs-import", false, "only artists not yet sent to Lidarr")
	songsCmd.Flags().String("artist", "", "only songs by this artist")
	songsCmd.Flags().String("station", "", "only songs played on this station")

	overrideSet := &cobra.Command{
		Use:   "set NAME MBID",
		Short: "Pin NAME to MBID",
		Args:  cobra.ExactArgs(2),
		RunE:  runOverrideSet,
	}
	overrideSet.Flags().Bool("verify", true, "check the MBID against MusicBrainz first")
	overrideCmd.AddCommand(overrideSet)
	overrideCmd.AddCommand(&cobra.Command{
		Use:   "remove NAME",
		Short: "Delete the override for NAME",
		Args:  cobra.ExactArgs(1),
		RunE:  runOverrideRemove,
	})
	overrideCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List overrides",
		Args:  cobra.NoArgs,
		RunE:  runOverrideList,
	})
	overrideCmd.PersistentFlags().String("notes", "", "free-form note stored with the override")

	blockCmd.AddCommand(&cobra.Command{
		Use:   "artist MBID",
		Short: "Blocklist an artist",
		Args:  cobra.ExactArgs(1),
		RunE:  runBlockArtist,
	})
	blockCmd.AddCommand(&cobra.Command{
		Use:   "song ID",
		Short: "Blocklist a song",
		Args:  cobra.ExactArgs(1),
		RunE:  runBlockSong,
	})
	blockCmd.AddCommand(&cobra.Command{
		Use:   "remove ENTRY_ID",
		Short: "Remove a blocklist entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runUnblock,
	})
	blockCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List blocklist entries",
		Args:  cobra.NoArgs,
		RunE:  runBlockList,
	})
	blockCmd.PersistentFlags().String("reason", "", "why the entry was blocked")

	manualCreate := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty manual playlist",
		Args:  cobra.ExactArgs(1),
		RunE:  runManualCreate,
	}
	manualCreate.Flags().String("plex-name", "", "playlist name on Plex (default NAME)")
	manualCmd.AddCommand(manualCreate)
	manualCmd.AddCommand(&cobra.Command{
		Use:   "add PLAYLIST_ID SONG_ID...",
		Short: "Add songs to a manual playlist",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runManualAdd,
	})
	manualCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List manual playlists",
		Args:  cobra.NoArgs,
		RunE:  runManualList,
	})
	manualCmd.AddCommand(&cobra.Command{
		Use:   "show PLAYLIST_ID",
		Short: "List the songs of a manual playlist",
		Args:  cobra.ExactArgs(1),
		RunE:  runManualShow,
	})
	manualRename := &cobra.Command{
		Use:   "rename PLAYLIST_ID NAME",
		Short: "Rename a manual playlist",
		Args:  cobra.ExactArgs(2),
		RunE:  runManualRename,
	}
	manualRename.Flags().String("plex-name", "", "playlist name on Plex (default NAME)")
	manualCmd.AddCommand(manualRename)
	manualCmd.AddCommand(&cobra.Command{
		Use:   "remove PLAYLIST_ID SONG_ID",
		Short: "Remove a song from a manual playlist",
		Args:  cobra.ExactArgs(2),
		RunE:  runManualRemove,
	})
	manualCmd.AddCommand(&cobra.Command{
		Use:   "delete PLAYLIST_ID",
		Short: "Delete a manual playlist",
		Args:  cobra.ExactArgs(1),
		RunE:  runManualDelete,
	})

	manualCmd.AddCommand(draftCmd)
	draftCmd.AddCommand(&cobra.Command{
		Use:   "add SESSION SONG_ID...",
		Short: `Stage songs; SESSION "new" starts a fresh draft`,
		Args:  cobra.MinimumNArgs(2),
		RunE:  runDraftAdd,
	})
	draftCmd.AddCommand(&cobra.Command{
		Use:   "drop SESSION SONG_ID",
		Short: "Unstage a song",
		Args:  cobra.ExactArgs(2),
		RunE:  runDraftDrop,
	})
	draftCmd.AddCommand(&cobra.Command{
		Use:   "show SESSION",
		Short: "List staged songs",
		Args:  cobra.ExactArgs(1),
		RunE:  runDraftShow,
	})
	draftCmd.AddCommand(&cobra.Command{
		Use:   "commit SESSION PLAYLIST_ID",
		Short: "Move staged songs into a manual playlist",
		Args:  cobra.ExactArgs(2),
		RunE:  runDraftCommit,
	})
	draftCmd.AddCommand(&cobra.Command{
		Use:   "discard SESSION",
		Short: "Throw a draft away",
		Args:  cobra.ExactArgs(1),
		RunE:  runDraftDiscard,
	})

	rootCmd.AddCommand(deleteCmd)
	deleteCmd.AddCommand(&cobra.Command{
		Use:   "artist MBID",
		Short: "Delete an artist with its songs and plays",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteArtist,
	})
	deleteCmd.AddCommand(&cobra.Command{
		Use:   "song ID",
		Short: "Delete a song with its plays",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteSong,
	})
	deleteCmd.PersistentFlags().Bool("force", false, "do not ask for confirmation")
}

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Stage songs before committing them to a manual playlist",
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove artists or songs from the database",
}

func pageFlags(cmd *cobra.Command) store.Page {
	page, _ := cmd.Flags().GetInt("page")
	limit, _ := cmd.Flags().GetInt("limit")
	sort, _ := cmd.Flags().GetString("sort")
	desc, _ := cmd.Flags().GetBool("desc")
	p := store.Page{Page: page, Limit: limit, Sort: sort, Direction: "asc"}
	if desc {
		p.Direction = "desc"
	}
	return p
}

func runStats(cmd *cobra.Command, args []string) error {
	recent, _ := cmd.Flags().GetInt("recent")
	return withStore(func(db *store.Store, _ string) error {
		st, err := db.Stats()
		if err != nil {
			return err
		}
		util.InfoLog("Stations: %d (%d enabled)", st.Stations, st.EnabledStations)
		util.InfoLog("Artists:  %s (%d PENDING)", util.FormatCount(int64(st.Artists)), st.PendingArtists)
		util.InfoLog("Songs:    %s", util.FormatCount(int64(st.Songs)))
		util.InfoLog("Plays:    %s (%s today)", util.FormatCount(int64(st.Plays)), util.FormatCount(int64(st.PlaysToday)))

		plays, err := db.RecentPlays(recent, "")
		if err != nil {
			return err
		}
		if len(plays) > 0 {
			util.InfoLog("")
			util.InfoLog("Recent plays:")
		}
		for _, p := range plays {
			util.InfoLog("  %s  %-12s %s - %s", p.Timestamp.Format("01-02 15:04"), p.StationID, p.ArtistName, p.SongTitle)
		}
		return nil
	})
}

func runArtists(cmd *cobra.Command, args []string) error {
	search, _ := cmd.Flags().GetString("search")
	mbid, _ := cmd.Flags().GetString("mbid")
	needsImport, _ := cmd.Flags().GetBool("needs-import")
	f := store.ArtistFilter{Search: search, MBIDStatus: mbid}
	if needsImport {
		f.NeedsImport = "only"
	}
	return withStore(func(db *store.Store, _ string) error {
		res, err := db.ArtistsPage(f, pageFlags(cmd))
		if err != nil {
			return err
		}
		for _, a := range res.Items {
			util.InfoLog("  %-40s %-36s %5d plays %4d songs", a.Name, a.MBID, a.TotalPlays, a.SongCount)
		}
		util.InfoLog("Page %d of %d (%d artists)", res.Page, res.Pages, res.Total)
		return nil
	})
}

func runSongs(cmd *cobra.Command, args []string) error {
	search, _ := cmd.Flags().GetString("search")
	artist, _ := cmd.Flags().GetString("artist")
	station, _ := cmd.Flags().GetString("station")
	f := store.SongFilter{Search: search, ArtistName: artist, StationID: station}
	return withStore(func(db *store.Store, _ string) error {
		res, err := db.SongsPage(f, pageFlags(cmd))
		if err != nil {
			return err
		}
		for _, s := range res.Items {
			util.InfoLog("  %-6d %-30s %-40s %5d plays", s.ID, s.ArtistName, s.Title, s.PlayCount)
		}
		util.InfoLog("Page %d of %d (%d songs)", res.Page, res.Pages, res.Total)
		return nil
	})
}

func runOverrideSet(cmd *cobra.Command, args []string) error {
	name, mbid := args[0], args[1]
	if _, err := uuid.Parse(mbid); err != nil {
		return fmt.Errorf("%q is not a MusicBrainz ID: %w", mbid, err)
	}
	notes, _ := cmd.Flags().GetString("notes")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if verify, _ := cmd.Flags().GetBool("verify"); verify {
		ctx, stop := interruptible(cmd)
		defer stop()
		ok, err := musicbrainz.NewClient(cfg.MusicBrainzOptions()).VerifyMBID(ctx, mbid)
		if err != nil {
			return fmt.Errorf("cannot verify %s: %w", mbid, err)
		}
		if !ok {
			return fmt.Errorf("MusicBrainz has no artist %s: %w", mbid, util.ErrNotFound)
		}
	}
	return withStore(func(db *store.Store, _ string) error {
		if _, err := db.SetMBIDOverride(name, mbid, notes); err != nil {
			return err
		}
		util.SuccessLog("%s now resolves to %s", name, mbid)
		return nil
	})
}

func runOverrideRemove(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.DeleteMBIDOverride(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("override for %q: %w", args[0], util.ErrNotFound)
		}
		util.SuccessLog("Removed override for %s", args[0])
		return nil
	})
}

func runOverrideList(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		overrides, err := db.ListMBIDOverrides(0, 0)
		if err != nil {
			return err
		}
		if len(overrides) == 0 {
			util.InfoLog("No overrides")
			return nil
		}
		for _, o := range overrides {
			line := fmt.Sprintf("  %-40s %s", o.ArtistName, o.MBID)
			if o.Notes != "" {
				line += "  # " + o.Notes
			}
			util.InfoLog("%s", line)
		}
		return nil
	})
}

func runBlockArtist(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	return withStore(func(db *store.Store, _ string) error {
		a, err := db.GetArtist(args[0])
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("artist %s: %w", args[0], util.ErrNotFound)
		}
		added, err := db.BlockArtist(a.MBID, reason)
		if err != nil {
			return err
		}
		if !added {
			util.InfoLog("%s is already blocked", a.Name)
			return nil
		}
		util.SuccessLog("Blocked %s", a.Name)
		return nil
	})
}

func runBlockSong(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	reason, _ := cmd.Flags().GetString("reason")
	return withStore(func(db *store.Store, _ string) error {
		added, err := db.BlockSong(id, reason)
		if err != nil {
			return err
		}
		if !added {
			util.InfoLog("Song %d is already blocked", id)
			return nil
		}
		util.SuccessLog("Blocked song %d", id)
		return nil
	})
}

func runUnblock(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.Unblock(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("blocklist entry %d: %w", id, util.ErrNotFound)
		}
		util.SuccessLog("Removed blocklist entry %d", id)
		return nil
	})
}

func runBlockList(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		entries, err := db.ListBlocklist("")
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			util.InfoLog("Blocklist is empty")
			return nil
		}
		for _, e := range entries {
			util.InfoLog("  %-4d %-6s %-50s %s", e.ID, e.EntityType, e.Label, e.Reason)
		}
		return nil
	})
}

func runManualCreate(cmd *cobra.Command, args []string) error {
	plexName, _ := cmd.Flags().GetString("plex-name")
	return withStore(func(db *store.Store, _ string) error {
		id, err := db.CreateManualPlaylist(args[0], plexName)
		if err != nil {
			return err
		}
		util.SuccessLog("Created manual playlist %q with id %d", args[0], id)
		return nil
	})
}

func runManualAdd(cmd *cobra.Command, args []string) error {
	playlistID, err := parseID(args[0])
	if err != nil {
		return err
	}
	songIDs, err := parseSongIDs(args[1:])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		for _, id := range songIDs {
			if blocked, err := db.IsSongBlocked(id); err == nil && blocked {
				util.WarnLog("Song %d is blocklisted; it stays in this playlist but auto playlists skip it", id)
			}
		}
		added, err := db.AddSongsToManualPlaylist(playlistID, songIDs)
		if err != nil {
			return err
		}
		util.SuccessLog("Added %d of %d songs", added, len(songIDs))
		return nil
	})
}

func parseSongIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid song id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printSongs(songs []store.Song) {
	for _, s := range songs {
		util.InfoLog("  %-6d %-30s %s", s.ID, s.ArtistName, s.Title)
	}
}

func runManualList(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		lists, err := db.ListManualPlaylists()
		if err != nil {
			return err
		}
		if len(lists) == 0 {
			util.InfoLog("No manual playlists")
			return nil
		}
		for _, m := range lists {
			util.InfoLog("  %-4d %-30s %4d songs  updated %s", m.ID, m.Name, m.SongCount, util.FormatAge(m.UpdatedAt))
		}
		return nil
	})
}

func runManualShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		songs, err := db.ManualPlaylistSongs(id)
		if err != nil {
			return err
		}
		if len(songs) == 0 {
			util.InfoLog("Playlist %d has no songs", id)
			return nil
		}
		printSongs(songs)
		return nil
	})
}

func runManualRename(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	plexName, _ := cmd.Flags().GetString("plex-name")
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.RenameManualPlaylist(id, args[1], plexName)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("manual playlist %d: %w", id, util.ErrNotFound)
		}
		util.SuccessLog("Renamed playlist %d to %q", id, args[1])
		return nil
	})
}

func runManualRemove(cmd *cobra.Command, args []string) error {
	playlistID, err := parseID(args[0])
	if err != nil {
		return err
	}
	songID, err := parseID(args[1])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.RemoveSongFromManualPlaylist(playlistID, songID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("song %d in playlist %d: %w", songID, playlistID, util.ErrNotFound)
		}
		util.SuccessLog("Removed song %d", songID)
		return nil
	})
}

func runManualDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.DeleteManualPlaylist(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("manual playlist %d: %w", id, util.ErrNotFound)
		}
		util.SuccessLog("Deleted manual playlist %d", id)
		return nil
	})
}

func runDraftAdd(cmd *cobra.Command, args []string) error {
	session := args[0]
	if session == "new" {
		session = uuid.NewString()
	}
	songIDs, err := parseSongIDs(args[1:])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		added, err := db.BuilderAdd(session, songIDs...)
		if err != nil {
			return err
		}
		util.SuccessLog("Staged %d songs in draft %s", added, session)
		return nil
	})
}

func runDraftDrop(cmd *cobra.Command, args []string) error {
	songID, err := parseID(args[1])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		ok, err := db.BuilderRemove(args[0], songID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("song %d in draft %s: %w", songID, args[0], util.ErrNotFound)
		}
		util.SuccessLog("Unstaged song %d", songID)
		return nil
	})
}

func runDraftShow(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		songs, err := db.BuilderSongs(args[0])
		if err != nil {
			return err
		}
		if len(songs) == 0 {
			util.InfoLog("Draft %s is empty", args[0])
			return nil
		}
		printSongs(songs)
		return nil
	})
}

func runDraftCommit(cmd *cobra.Command, args []string) error {
	playlistID, err := parseID(args[1])
	if err != nil {
		return err
	}
	return withStore(func(db *store.Store, _ string) error {
		added, err := db.BuilderCommit(args[0], playlistID)
		if err != nil {
			return err
		}
		util.SuccessLog("Added %d songs to playlist %d", added, playlistID)
		return nil
	})
}

func runDraftDiscard(cmd *cobra.Command, args []string) error {
	return withStore(func(db *store.Store, _ string) error {
		n, err := db.BuilderClear(args[0])
		if err != nil {
			return err
		}
		util.SuccessLog("Discarded %d staged songs", n)
		return nil
	})
}

func runDeleteArtist(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	return withStore(func(db *store.Store, _ string) error {
		a, err := db.GetArtist(args[0])
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("artist %s: %w", args[0], util.ErrNotFound)
		}
		if !force {
			ok, err := confirm(cmd, fmt.Sprintf("Delete %s and all of its songs and plays? (yes/no): ", a.Name))
			if err != nil {
				return err
			}
			if !ok {
				util.InfoLog("Nothing deleted")
				return nil
			}
		}
		counts, err := db.DeleteArtist(a.MBID)
		if err != nil {
			return err
		}
		util.SuccessLog("Deleted %s: %d songs, %d plays, %d Plex failures, %d overrides",
			counts.ArtistName, counts.Songs, counts.Plays, counts.PlexFailures, counts.Overrides)
		return nil
	})
}

func runDeleteSong(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	return withStore(func(db *store.Store, _ string) error {
		song, err := db.GetSong(id)
		if err != nil {
			return err
		}
		if song == nil {
			return fmt.Errorf("song %d: %w", id, util.ErrNotFound)
		}
		if !force {
			ok, err := confirm(cmd, fmt.Sprintf("Delete %s - %s and its plays? (yes/no): ", song.ArtistName, song.Title))
			if err != nil {
				return err
			}
			if !ok {
				util.InfoLog("Nothing deleted")
				return nil
			}
		}
		if _, err := db.DeleteSong(id); err != nil {
			return err
		}
		util.SuccessLog("Deleted song %d", id)
		return nil
	})
}
