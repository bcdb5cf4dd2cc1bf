// Package ingest runs one scrape tick: scrape every enabled station, resolve
// and store what was heard, and record plays.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/lidarr"
	"github.com/franz/radio-monitor/internal/musicbrainz"
	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/scrape"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// Scraper fetches a station page. *scrape.Registry implements it.
type Scraper interface {
	Scrape(ctx context.Context, st scrape.Station) ([]scrape.Triple, error)
}

// Resolver maps an artist name to an MBID. *musicbrainz.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, name, stationMBID string) (musicbrainz.Resolution, error)
}

// Notifier offers events to the notification sinks. *notify.Dispatcher
// implements it.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) int
}

// AutoImport controls onboarding of frequently played artists during a tick.
type AutoImport struct {
	Enabled  bool
	MinPlays int
	MinSongs int
}

// DefaultAutoImport is disabled with the stock thresholds.
var DefaultAutoImport = AutoImport{MinPlays: 5, MinSongs: 1}

// minFieldLength drops fragments too short to be a real artist or title.
const minFieldLength = 2

// Pipeline wires one tick together. Onboarder, Dispatcher and Activity are
// optional.
type Pipeline struct {
	Store      *store.Store
	Scrapers   Scraper
	Resolver   Resolver
	Onboarder  lidarr.Importer
	Dispatcher Notifier
	Activity   *report.ActivityLogger
	Cancel     *scrape.CancelFlag
	AutoImport AutoImport
	Clock      func() time.Time
}

// TickResult summarizes one tick
type TickResult struct {
	StationsScraped  int
	SongsFound       int
	ArtistsAdded     int
	SongsAdded       int
	PlaysRecorded    int
	FailedStations   []string
	DisabledStations []string
	Imported         []string
	Cancelled        bool
	Duration         time.Duration
}

// Attempted is the number of stations a scrape was attempted for.
func (r *TickResult) Attempted() int {
	return r.StationsScraped + len(r.FailedStations)
}

// Message is the one-line summary written to the activity log.
func (r *TickResult) Message() string {
	msg := fmt.Sprintf("Scraped %d stations, found %d songs, %d plays recorded",
		r.StationsScraped, r.SongsFound, r.PlaysRecorded)
	if len(r.FailedStations) > 0 {
		msg += fmt.Sprintf(", %d failed: %s", len(r.FailedStations), strings.Join(r.FailedStations, ", "))
	}
	if r.Cancelled {
		msg += " (cancelled)"
	}
	return msg
}

func (r *TickResult) severity() string {
	switch {
	case len(r.FailedStations) == 0:
		return store.SeveritySuccess
	case len(r.FailedStations) < r.Attempted():
		return store.SeverityWarning
	default:
		return store.SeverityError
	}
}

func (r *TickResult) metadata() map[string]any {
	return map[string]any{
		"stations_scraped": r.StationsScraped,
		"songs_found":      r.SongsFound,
		"artists_added":    r.ArtistsAdded,
		"songs_added":      r.SongsAdded,
		"plays_recorded":   r.PlaysRecorded,
		"failed_stations":  r.FailedStations,
	}
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// Tick scrapes the enabled stations, or only the given ones, one at a time.
// The cancellation flag is reset on entry and checked between stations.
// Scrape and per-song failures are logged and counted, never returned; the
// error is reserved for the station list and health bookkeeping.
func (p *Pipeline) Tick(ctx context.Context, stationIDs ...string) (*TickResult, error) {
	start := p.now()
	flag := p.flag()
	flag.Reset()

	stations, err := p.stations(stationIDs)
	if err != nil {
		return nil, err
	}

	res := &TickResult{}
	if len(stations) == 0 {
		util.WarnLog("No enabled stations to scrape")
		return res, nil
	}

	ids := make([]string, len(stations))
	for i, st := range stations {
		ids[i] = st.ID
	}
	util.InfoLog("Scraping %d stations: %s", len(stations), strings.Join(ids, ", "))

	for _, st := range stations {
		if flag.Cancelled() || ctx.Err() != nil {
			util.InfoLog("Scraping cancelled, stopping before %s", st.ID)
			res.Cancelled = true
			break
		}
		if err := p.scrapeStation(ctx, st, res); err != nil {
			if errors.Is(err, util.ErrCancelled) || errors.Is(err, context.Canceled) {
				res.Cancelled = true
				break
			}
			return nil, err
		}
	}

	res.Duration = p.now().Sub(start)
	util.InfoLog("Scraping complete: %s", res.Message())
	p.finish(ctx, res)
	return res, nil
}

func (p *Pipeline) flag() *scrape.CancelFlag {
	if p.Cancel != nil {
		return p.Cancel
	}
	return scrape.Default
}

func (p *Pipeline) stations(ids []string) ([]store.Station, error) {
	if len(ids) == 0 {
		return p.Store.ListStations(true)
	}
	var out []store.Station
	for _, id := range ids {
		st, err := p.Store.GetStation(id)
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, fmt.Errorf("station %s: %w", id, util.ErrNotFound)
		}
		out = append(out, *st)
	}
	return out, nil
}

// scrapeStation handles one station. Only cancellation and store errors
// are returned.
func (p *Pipeline) scrapeStation(ctx context.Context, st store.Station, res *TickResult) error {
	triples, err := p.Scrapers.Scrape(ctx, scrape.Station{
		ID:       st.ID,
		Name:     st.Name,
		URL:      st.URL,
		Flavor:   st.ScraperType,
		WaitTime: st.WaitTime,
		HasMBID:  st.HasMBID,
		Genre:    st.Genre,
		Market:   st.Market,
	})
	if err != nil && (errors.Is(err, util.ErrCancelled) || ctx.Err() != nil) {
		return util.ErrCancelled
	}
	if err != nil || len(triples) == 0 {
		if err != nil {
			util.ErrorLog("Failed to scrape %s: %v", st.ID, err)
		} else {
			util.WarnLog("No songs found for %s", st.ID)
		}
		return p.stationFailed(ctx, st, res)
	}

	if err := p.Store.RecordScrapeSuccess(st.ID); err != nil {
		return err
	}
	res.SongsFound += len(triples)

	for _, t := range triples {
		if err := p.ingest(ctx, st.ID, t, res); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, util.ErrCancelled) {
				return util.ErrCancelled
			}
			util.WarnLog("Error processing '%s' by '%s': %v", t.Title, t.Artist, err)
		}
	}

	res.StationsScraped++
	util.InfoLog("Completed scraping %s: %d songs found", st.ID, len(triples))
	return nil
}

func (p *Pipeline) stationFailed(ctx context.Context, st store.Station, res *TickResult) error {
	res.FailedStations = append(res.FailedStations, st.ID)
	disabled, err := p.Store.RecordScrapeFailure(st.ID)
	if err != nil {
		return err
	}
	if disabled {
		res.DisabledStations = append(res.DisabledStations, st.ID)
		util.ErrorLog("Station %s disabled after %d consecutive failures", st.ID, store.MaxConsecutiveFailures)
		p.dispatch(ctx, notify.Event{
			Trigger:  notify.OnStationHealth,
			Title:    "Station Disabled",
			Message:  fmt.Sprintf("%s was disabled after %d consecutive scrape failures", st.Name, store.MaxConsecutiveFailures),
			Severity: notify.SeverityError,
			Metadata: map[string]any{"station_id": st.ID, "failures": store.MaxConsecutiveFailures},
		})
	}
	return nil
}

// ingest stores one advertised song. Every artist of a collaboration is
// resolved and stored; the song and its play belong to the first.
func (p *Pipeline) ingest(ctx context.Context, stationID string, t scrape.Triple, res *TickResult) error {
	artistName := normalize.Artist(t.Artist)
	title := normalize.Title(t.Title)
	if len([]rune(artistName)) < minFieldLength || len([]rune(title)) < minFieldLength {
		return nil
	}
	if scrape.IsAdvertisement(artistName) || scrape.IsAdvertisement(title) {
		util.WarnLog("Blocked advertisement content: '%s' / '%s'", artistName, title)
		return nil
	}

	parts := normalize.DetectCollaboration(artistName)
	if len(parts) > 1 {
		util.DebugLog("Collaboration detected: '%s' split into %v", artistName, parts)
	}

	var artists []musicbrainz.Resolution
	for _, part := range parts {
		stationMBID := ""
		if len(parts) == 1 {
			stationMBID = t.MBID
		}
		r, err := p.Resolver.Resolve(ctx, part, stationMBID)
		if err != nil {
			return err
		}
		added, err := p.Store.AddArtist(r.MBID, r.Name, stationID)
		if err != nil {
			return err
		}
		if added {
			res.ArtistsAdded++
			util.InfoLog("New artist: %s (%s)", r.Name, r.MBID)
		} else if r, err = p.storedArtist(r); err != nil {
			return err
		}
		artists = append(artists, r)
	}
	if len(artists) == 0 {
		return nil
	}
	primary := artists[0]

	added, songID, err := p.Store.AddSongIfNew(primary.MBID, title)
	if err != nil {
		return err
	}
	if added {
		res.SongsAdded++
		util.InfoLog("New song: %s by %s", title, primary.Name)
	}

	recorded, err := p.Store.RecordPlay(songID, stationID)
	if err != nil {
		return err
	}
	if recorded {
		res.PlaysRecorded++
	}

	for _, a := range artists {
		p.maybeImport(ctx, a, res)
	}
	return nil
}

// storedArtist reconciles a resolution with the row already stored under its
// name. A PENDING row takes the resolved MBID; a row with another real MBID
// wins, so songs and plays land on the artist that exists.
func (p *Pipeline) storedArtist(r musicbrainz.Resolution) (musicbrainz.Resolution, error) {
	existing, err := p.Store.GetArtistByName(r.Name)
	if err != nil {
		return r, err
	}
	if existing == nil || existing.MBID == r.MBID {
		return r, nil
	}
	if existing.IsPending() && !r.Pending() {
		if _, err := p.Store.UpdateArtistMBIDFromPending(r.Name, r.MBID); err != nil {
			return r, err
		}
		return r, nil
	}
	util.DebugLog("Artist %s is stored as %s, not %s", r.Name, existing.MBID, r.MBID)
	r.MBID = existing.MBID
	r.Name = existing.Name
	return r, nil
}

// maybeImport onboards a resolved artist once it crosses the thresholds.
// Failures are reported and left for the next tick or a bulk import.
func (p *Pipeline) maybeImport(ctx context.Context, a musicbrainz.Resolution, res *TickResult) {
	if !p.AutoImport.Enabled || p.Onboarder == nil || a.Pending() {
		return
	}
	artist, err := p.Store.GetArtist(a.MBID)
	if err != nil || artist == nil || !artist.LidarrImportedAt.IsZero() {
		return
	}
	plays, songs, err := p.Store.ArtistImportStats(a.MBID)
	if err != nil {
		util.WarnLog("Auto-import check for %s failed: %v", a.Name, err)
		return
	}
	if plays < p.AutoImport.MinPlays || songs < p.AutoImport.MinSongs {
		return
	}

	md := map[string]any{"artist": a.Name, "mbid": a.MBID, "plays": plays, "songs": songs}
	outcome, err := p.Onboarder.ImportArtist(ctx, a.MBID, a.Name)
	if err != nil {
		util.WarnLog("Auto-import failed for %s: %v", a.Name, err)
		p.Activity.Error(report.EventImport, report.SourceScheduler, "Auto-import failed: "+a.Name, err, md)
		p.dispatch(ctx, notify.Event{
			Trigger:  notify.OnImportError,
			Title:    "Lidarr Import Failed",
			Message:  fmt.Sprintf("Could not import %s: %v", a.Name, err),
			Severity: notify.SeverityError,
			Metadata: md,
		})
		return
	}
	if err := p.Store.MarkArtistImported(a.MBID); err != nil {
		util.WarnLog("Failed to mark %s imported: %v", a.Name, err)
		return
	}

	util.InfoLog("Auto-imported %s to Lidarr (%d plays, %d songs)", a.Name, plays, songs)
	res.Imported = append(res.Imported, a.Name)
	md["outcome"] = string(outcome)
	p.Activity.Success(report.EventImport, report.SourceScheduler, "Auto-imported "+a.Name, string(outcome), md)
	p.dispatch(ctx, notify.Event{
		Trigger:  notify.OnImportComplete,
		Title:    "Lidarr Import Complete",
		Message:  fmt.Sprintf("Imported %s (%d plays, %d songs)", a.Name, plays, songs),
		Severity: notify.SeveritySuccess,
		Metadata: md,
	})
}

// finish writes the tick's activity entry and notifications.
func (p *Pipeline) finish(ctx context.Context, res *TickResult) {
	title := fmt.Sprintf("Scraping complete: %d stations", res.StationsScraped)
	if err := p.Activity.Log(store.ActivityEntry{
		Type:        report.EventScrape,
		Severity:    res.severity(),
		Title:       title,
		Description: res.Message(),
		Metadata:    res.metadata(),
		Source:      report.SourceScheduler,
	}); err != nil {
		util.WarnLog("Failed to log scrape activity: %v", err)
	}

	attempted := res.Attempted()
	if attempted > 0 && len(res.FailedStations) == attempted {
		p.dispatch(ctx, notify.Event{
			Trigger:  notify.OnScrapeError,
			Title:    "Scraping Failed",
			Message:  res.Message(),
			Severity: notify.SeverityError,
			Metadata: res.metadata(),
		})
	} else {
		sev := notify.SeverityInfo
		if len(res.FailedStations) > 0 {
			sev = notify.SeverityWarning
		}
		p.dispatch(ctx, notify.Event{
			Trigger:  notify.OnScrapeComplete,
			Title:    "Scraping Complete",
			Message:  fmt.Sprintf("Scraped %d stations, found %d songs", res.StationsScraped, res.SongsFound),
			Severity: sev,
			Metadata: res.metadata(),
		})
	}

	if attempted > 0 && len(res.FailedStations)*2 > attempted {
		p.dispatch(ctx, notify.Event{
			Trigger:  notify.OnHighFailureRate,
			Title:    "High Scrape Failure Rate",
			Message:  fmt.Sprintf("%d of %d stations failed", len(res.FailedStations), attempted),
			Severity: notify.SeverityWarning,
			Metadata: map[string]any{"failed_stations": res.FailedStations, "attempted": attempted},
		})
	}
}

func (p *Pipeline) dispatch(ctx context.Context, ev notify.Event) {
	if p.Dispatcher == nil {
		return
	}
	// Notifications outlive a cancelled tick.
	p.Dispatcher.Dispatch(context.WithoutCancel(ctx), ev)
}
