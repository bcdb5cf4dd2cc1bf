package playlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// Runner keeps stored playlists up to date
type Runner struct {
	Materializer *Materializer
	Store        *store.Store
	Library      string
	Clock        func() time.Time
}

// RunSummary counts the playlists one RunDue pass handled
type RunSummary struct {
	Due     int
	Updated int
	Failed  int
}

// RunDue materializes every enabled auto playlist whose next update has
// come. A failed playlist has its failure counter incremented; the others
// still run. Only store errors and cancellation are returned.
func (r *Runner) RunDue(ctx context.Context) (RunSummary, error) {
	var sum RunSummary
	due, err := r.Store.DuePlaylists(r.now())
	if err != nil {
		return sum, err
	}
	sum.Due = len(due)

	for _, p := range due {
		if ctx.Err() != nil {
			return sum, util.ErrCancelled
		}
		if _, err := r.Run(ctx, p); err != nil {
			if errors.Is(err, util.ErrCancelled) {
				return sum, err
			}
			sum.Failed++
			continue
		}
		sum.Updated++
	}
	return sum, nil
}

// Run materializes one stored playlist and records the outcome on it.
func (r *Runner) Run(ctx context.Context, p store.Playlist) (*Result, error) {
	res, err := r.Materializer.Apply(ctx, SpecFor(p, r.Library))
	if err != nil {
		failures, incErr := r.Store.IncrementPlaylistFailures(p.ID)
		if incErr != nil {
			util.WarnLog("Failed to record failure for playlist %s: %v", p.Name, incErr)
		} else {
			util.WarnLog("Playlist %s has failed %d times in a row", p.Name, failures)
		}
		return res, err
	}
	if err := r.Store.MarkPlaylistUpdated(p.ID, r.now()); err != nil {
		return res, err
	}
	return res, nil
}

// RunNamed materializes the stored playlist called name.
func (r *Runner) RunNamed(ctx context.Context, name string) (*Result, error) {
	p, err := r.Store.GetPlaylistByName(name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("playlist %q: %w", name, util.ErrNotFound)
	}
	return r.Run(ctx, *p)
}

// ManualSync replaces the server copy of a manual playlist with its songs.
func (r *Runner) ManualSync(ctx context.Context, manualPlaylistID int64) (*Result, error) {
	mp, err := r.Store.GetManualPlaylist(manualPlaylistID)
	if err != nil {
		return nil, err
	}
	if mp == nil {
		return nil, fmt.Errorf("manual playlist %d: %w", manualPlaylistID, util.ErrNotFound)
	}
	songs, err := r.Store.ManualPlaylistSongs(manualPlaylistID)
	if err != nil {
		return nil, err
	}
	if len(songs) == 0 {
		return nil, fmt.Errorf("manual playlist %q has no songs", mp.Name)
	}

	ranked := make([]store.RankedSong, 0, len(songs))
	for _, s := range songs {
		ranked = append(ranked, store.RankedSong{
			ID:         s.ID,
			Title:      s.Title,
			ArtistName: s.ArtistName,
			ArtistMBID: s.ArtistMBID,
			Plays:      s.PlayCount,
		})
	}
	name := mp.PlexPlaylistName
	if name == "" {
		name = mp.Name
	}
	return r.Materializer.ApplySongs(ctx, Spec{Name: name, Mode: ModeReplace, Library: r.Library}, ranked)
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
