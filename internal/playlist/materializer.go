package playlist

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/plex"
	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// Update disciplines
const (
	ModeMerge    = "merge"
	ModeReplace  = "replace"
	ModeAppend   = "append"
	ModeCreate   = "create"
	ModeSnapshot = "snapshot"
	ModeRecent   = "recent"
	ModeRandom   = "random"
)

const (
	// DefaultLimit is the playlist size when a spec names none.
	DefaultLimit = 50

	// DefaultLibrary is the music section searched when a spec names none.
	DefaultLibrary = "Music"

	// overQuery absorbs songs the library does not have.
	overQuery = 1.35

	maxQueryLimit = 2500
)

// Server is the media-server surface a materialization needs.
// *plex.Client implements it.
type Server interface {
	Library
	Section(ctx context.Context, name string) (*plex.Section, error)
	Playlist(ctx context.Context, name string) (*plex.Playlist, error)
	PlaylistItems(ctx context.Context, playlistKey string) ([]plex.Track, error)
	CreatePlaylist(ctx context.Context, name string, keys []string) (*plex.Playlist, error)
	AddItems(ctx context.Context, playlistKey string, keys []string) error
	RemoveItem(ctx context.Context, playlistKey string, itemID int64) error
}

// Notifier offers events to the notification sinks. *notify.Dispatcher
// implements it.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) int
}

// Spec describes one materialization
type Spec struct {
	PlaylistID int64 // 0 for ad-hoc runs; failures are then logged without a playlist
	Name       string
	Mode       string
	StationIDs []string
	Limit      int
	MinPlays   int
	MaxPlays   int
	Days       int
	Library    string
}

// SpecFor builds the spec of a stored playlist.
func SpecFor(p store.Playlist, library string) Spec {
	return Spec{
		PlaylistID: p.ID,
		Name:       p.PlexPlaylistName,
		Mode:       p.Mode,
		StationIDs: p.StationIDs,
		Limit:      p.MaxSongs,
		MinPlays:   p.MinPlays,
		MaxPlays:   p.MaxPlays,
		Days:       p.Days,
		Library:    library,
	}
}

// Missing is a song the library has no track for
type Missing struct {
	SongID int64
	Title  string
	Artist string
}

// Result reports a materialization. Added counts items actually added to
// the server playlist.
type Result struct {
	Playlist string
	Mode     string
	Queried  int
	Matched  int
	Added    int
	Removed  int
	NotFound int
	Missing  []Missing
	Created  bool
	Duration time.Duration
}

func (r *Result) metadata() map[string]any {
	return map[string]any{
		"playlist":  r.Playlist,
		"mode":      r.Mode,
		"queried":   r.Queried,
		"matched":   r.Matched,
		"added":     r.Added,
		"removed":   r.Removed,
		"not_found": r.NotFound,
	}
}

// Materializer turns play statistics into a server playlist. Activity,
// Dispatcher, Aliases and Clock are optional.
type Materializer struct {
	Store      *store.Store
	Server     Server
	Activity   *report.ActivityLogger
	Dispatcher Notifier
	Aliases    map[string]string
	Clock      func() time.Time
}

// QueryLimit is how many candidates are read for a playlist of size limit.
func QueryLimit(limit int) int {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return min(int(math.Ceil(float64(limit)*overQuery)), maxQueryLimit)
}

// Apply queries candidates for spec, matches them against the library and
// applies the spec's discipline to the server playlist. Media-server errors
// abort the run and are returned after the error is logged and dispatched.
func (m *Materializer) Apply(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Mode == "" {
		spec.Mode = ModeMerge
	}
	if !store.ValidPlaylistMode(spec.Mode) {
		return nil, fmt.Errorf("unknown playlist mode %q: %w", spec.Mode, util.ErrInvalidConfig)
	}
	if spec.Limit <= 0 {
		spec.Limit = DefaultLimit
	}

	candidates, err := m.candidates(spec)
	if err != nil {
		m.report(ctx, spec, nil, err)
		return nil, err
	}
	return m.ApplySongs(ctx, spec, candidates)
}

// ApplySongs materializes a fixed song list, as for manual playlists.
func (m *Materializer) ApplySongs(ctx context.Context, spec Spec, songs []store.RankedSong) (*Result, error) {
	if spec.Mode == "" {
		spec.Mode = ModeReplace
	}
	if spec.Limit <= 0 {
		spec.Limit = max(len(songs), 1)
	}
	res, err := m.materialize(ctx, spec, songs)
	m.report(ctx, spec, res, err)
	return res, err
}

// candidates reads songs for spec, blocklisted songs excluded.
func (m *Materializer) candidates(spec Spec) ([]store.RankedSong, error) {
	q := store.SongQuery{
		StationIDs:     spec.StationIDs,
		Days:           spec.Days,
		MinPlays:       spec.MinPlays,
		MaxPlays:       spec.MaxPlays,
		Limit:          QueryLimit(spec.Limit),
		ExcludeBlocked: true,
	}
	var (
		songs []store.RankedSong
		err   error
	)
	switch spec.Mode {
	case ModeRecent:
		songs, err = m.Store.RecentSongs(q)
	case ModeRandom:
		songs, err = m.Store.RandomSongs(q)
	default:
		songs, err = m.Store.TopSongs(q)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist candidates: %w", err)
	}
	return songs, nil
}

func (m *Materializer) materialize(ctx context.Context, spec Spec, songs []store.RankedSong) (*Result, error) {
	start := m.now()
	res := &Result{Playlist: spec.Name, Mode: spec.Mode, Queried: len(songs)}
	defer func() { res.Duration = m.now().Sub(start) }()

	library := spec.Library
	if library == "" {
		library = DefaultLibrary
	}
	section, err := m.Server.Section(ctx, library)
	if err != nil {
		return res, err
	}

	matcher := NewMatcher(m.Server, section.Key, m.Aliases)
	var keys []string
	seen := make(map[string]bool)
	for i, s := range songs {
		if ctx.Err() != nil {
			return res, fmt.Errorf("playlist %s stopped: %w", spec.Name, util.ErrCancelled)
		}
		if (i+1)%10 == 0 || i+1 == len(songs) {
			util.DebugLog("Matching song %d/%d: %s - %s", i+1, len(songs), s.Title, s.ArtistName)
		}

		track, err := matcher.Find(ctx, s.Title, s.ArtistName)
		if err != nil {
			return res, fmt.Errorf("plex search for %s - %s failed: %w", s.Title, s.ArtistName, err)
		}
		if track == nil {
			res.NotFound++
			res.Missing = append(res.Missing, Missing{SongID: s.ID, Title: s.Title, Artist: s.ArtistName})
			terms := map[string]string{"title": normalize.Title(s.Title), "artist": normalize.Artist(s.ArtistName)}
			if err := m.Store.LogPlexFailure(s.ID, spec.PlaylistID, "no_match", terms); err != nil {
				util.WarnLog("Failed to log Plex failure for song %d: %v", s.ID, err)
			}
			continue
		}
		if _, err := m.Store.ResolvePlexFailures(s.ID); err != nil {
			util.WarnLog("Failed to resolve Plex failures for song %d: %v", s.ID, err)
		}
		if !seen[track.RatingKey] {
			seen[track.RatingKey] = true
			keys = append(keys, track.RatingKey)
		}
	}
	res.Matched = len(keys)
	util.InfoLog("Found %d/%d songs in Plex for %s", res.Matched, len(songs), spec.Name)

	if len(keys) > spec.Limit {
		keys = keys[:spec.Limit]
	}

	if err := m.apply(ctx, spec, keys, res); err != nil {
		return res, err
	}
	return res, nil
}

// apply runs the discipline against the server playlist.
func (m *Materializer) apply(ctx context.Context, spec Spec, keys []string, res *Result) error {
	name := spec.Name
	if spec.Mode == ModeSnapshot {
		name = fmt.Sprintf("%s %s", spec.Name, m.now().Format("2006-01-02"))
		res.Playlist = name
	}

	existing, err := m.Server.Playlist(ctx, name)
	if err != nil {
		return err
	}

	if existing == nil {
		if _, err := m.Server.CreatePlaylist(ctx, name, keys); err != nil {
			return err
		}
		res.Created = true
		res.Added = len(keys)
		return nil
	}

	switch spec.Mode {
	case ModeCreate, ModeSnapshot:
		return fmt.Errorf("playlist %q already exists: %w", name, util.ErrConflict)
	}

	items, err := m.Server.PlaylistItems(ctx, existing.RatingKey)
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	present := make(map[string]bool, len(items))

	replace := spec.Mode == ModeReplace || spec.Mode == ModeRecent || spec.Mode == ModeRandom
	for _, it := range items {
		switch {
		case replace, spec.Mode == ModeMerge && !wanted[it.RatingKey]:
			if err := m.Server.RemoveItem(ctx, existing.RatingKey, it.PlaylistItemID); err != nil {
				return err
			}
			res.Removed++
		default:
			present[it.RatingKey] = true
		}
	}

	var add []string
	for _, k := range keys {
		if !present[k] {
			add = append(add, k)
		}
	}
	if err := m.Server.AddItems(ctx, existing.RatingKey, add); err != nil {
		return err
	}
	res.Added = len(add)
	return nil
}

// report writes the activity entry and the notification for a run
func (m *Materializer) report(ctx context.Context, spec Spec, res *Result, err error) {
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		util.ErrorLog("Playlist %s failed: %v", spec.Name, err)
		md := map[string]any{"playlist": spec.Name, "mode": spec.Mode}
		if logErr := m.Activity.Error(report.EventPlaylist, report.SourceScheduler,
			fmt.Sprintf("Playlist update failed: %s", spec.Name), err, md); logErr != nil {
			util.WarnLog("Failed to log playlist activity: %v", logErr)
		}
		m.dispatch(ctx, notify.Event{
			Trigger:  notify.OnPlaylistError,
			Title:    "Playlist Update Failed",
			Message:  fmt.Sprintf("%s: %v", spec.Name, err),
			Severity: notify.SeverityError,
			Metadata: md,
		})
		return
	}

	msg := fmt.Sprintf("Added %d songs, removed %d, %d not found in Plex", res.Added, res.Removed, res.NotFound)
	sev := store.SeveritySuccess
	if res.NotFound > 0 {
		sev = store.SeverityInfo
	}
	if logErr := m.Activity.Log(store.ActivityEntry{
		Type:        report.EventPlaylist,
		Severity:    sev,
		Title:       fmt.Sprintf("Playlist updated: %s", res.Playlist),
		Description: msg,
		Metadata:    res.metadata(),
		Source:      report.SourceScheduler,
	}); logErr != nil {
		util.WarnLog("Failed to log playlist activity: %v", logErr)
	}
	util.SuccessLog("Playlist %s: %s", res.Playlist, msg)

	m.dispatch(ctx, notify.Event{
		Trigger:  notify.OnPlaylistUpdate,
		Title:    "Playlist Updated",
		Message:  fmt.Sprintf("%s: %s", res.Playlist, msg),
		Severity: notify.SeveritySuccess,
		Metadata: res.metadata(),
	})
}

func (m *Materializer) dispatch(ctx context.Context, ev notify.Event) {
	if m.Dispatcher == nil {
		return
	}
	m.Dispatcher.Dispatch(ctx, ev)
}

func (m *Materializer) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}
