package main

import (
	"fmt"
	"path/filepath"

	"github.com/franz/radio-monitor/internal/config"
	"github.com/franz/radio-monitor/internal/ingest"
	"github.com/franz/radio-monitor/internal/lidarr"
	"github.com/franz/radio-monitor/internal/musicbrainz"
	"github.com/franz/radio-monitor/internal/notify"
	"github.com/franz/radio-monitor/internal/playlist"
	"github.com/franz/radio-monitor/internal/plex"
	"github.com/franz/radio-monitor/internal/report"
	"github.com/franz/radio-monitor/internal/scheduler"
	"github.com/franz/radio-monitor/internal/scrape"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// app holds the components one command run needs. Lidarr and Plex are nil
// when their credentials are not configured.
type app struct {
	cfg        *config.Config
	store      *store.Store
	activity   *report.ActivityLogger
	dispatcher *notify.Dispatcher
	mb         *musicbrainz.Client
	resolver   *musicbrainz.Resolver
	lidarr     *lidarr.Client
	plex       *plex.Client
	cancel     *scrape.CancelFlag
}

// openStore opens the configured database with its duplicate window.
func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.OpenWithOptions(cfg.Monitor.DatabaseFile, &store.OpenOptions{
		DuplicateWindowMinutes: cfg.DuplicateDetectionWindowMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: db, cancel: scrape.Default}

	a.activity, err = report.NewActivityLogger(db, cfg.Logging.JSONEvents, cfg.Logging.FileLevel)
	if err != nil {
		util.WarnLog("Failed to create activity mirror: %v", err)
		a.activity, _ = report.NewActivityLogger(db, "", "")
	}
	if p := a.activity.Path(); p != "" {
		util.InfoLog("Activity log: %s", p)
	}

	a.dispatcher = notify.NewDispatcher(db, cfg.NotifyOptions())
	a.mb = musicbrainz.NewClient(cfg.MusicBrainzOptions())
	a.resolver = musicbrainz.NewResolver(db, a.mb, &musicbrainz.ResolverOptions{
		RetryPendingOnLookup: cfg.MusicBrainz.RetryPendingOnLookup,
	})

	if cfg.Lidarr.APIKey != "" {
		if a.lidarr, err = lidarr.NewClient(cfg.LidarrOptions()); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.Plex.Token != "" {
		if a.plex, err = plex.NewClient(cfg.PlexOptions()); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) Close() error {
	a.activity.Close()
	return a.store.Close()
}

// seedStations adds the built-in catalog to the database. Existing stations
// keep their settings.
func (a *app) seedStations() error {
	defaults := scrape.DefaultStations()
	stations := make([]store.Station, len(defaults))
	for i, st := range defaults {
		stations[i] = store.Station{
			ID:          st.ID,
			Name:        st.Name,
			URL:         st.URL,
			Genre:       st.Genre,
			Market:      st.Market,
			HasMBID:     st.HasMBID,
			ScraperType: st.Flavor,
			WaitTime:    st.WaitTime,
		}
	}
	added, err := a.store.SeedStations(stations)
	if err != nil {
		return err
	}
	if added > 0 {
		util.InfoLog("Seeded %d stations", added)
	}
	return nil
}

func (a *app) pipeline() *ingest.Pipeline {
	p := &ingest.Pipeline{
		Store:      a.store,
		Scrapers:   scrape.DefaultRegistry(a.cancel),
		Resolver:   a.resolver,
		Dispatcher: a.dispatcher,
		Activity:   a.activity,
		Cancel:     a.cancel,
		AutoImport: ingest.AutoImport{
			Enabled:  a.cfg.Lidarr.AutoImport,
			MinPlays: a.cfg.Lidarr.MinPlaysForImport,
			MinSongs: a.cfg.Lidarr.MinSongsForImport,
		},
	}
	if a.lidarr != nil {
		p.Onboarder = a.lidarr
	} else if a.cfg.Lidarr.AutoImport {
		util.WarnLog("lidarr.auto_import is on but no API key is set; skipping auto-import")
		p.AutoImport.Enabled = false
	}
	return p
}

// playlists returns the playlist runner, or an error when Plex is not
// configured.
func (a *app) playlists() (*playlist.Runner, error) {
	if a.plex == nil {
		return nil, fmt.Errorf("plex.token is not set: %w", util.ErrInvalidConfig)
	}
	return &playlist.Runner{
		Materializer: &playlist.Materializer{
			Store:      a.store,
			Server:     a.plex,
			Activity:   a.activity,
			Dispatcher: a.dispatcher,
			Aliases:    a.cfg.Plex.ArtistAliases,
		},
		Store:   a.store,
		Library: a.cfg.Plex.LibraryName,
	}, nil
}

// maintenance bundles the nightly jobs.
func (a *app) maintenance() *scheduler.Maintenance {
	m := &scheduler.Maintenance{
		Store:      a.store,
		Resolver:   a.resolver,
		Activity:   a.activity,
		Dispatcher: a.dispatcher,
		BackupDir:  backupDir(a.cfg),
		LogFile:    a.cfg.Logging.File,
		Retention:  a.cfg.Retention(),
	}
	if runner, err := a.playlists(); err == nil {
		m.Playlists = runner
	}
	return m
}

// backupDir resolves a relative backup path against the database directory.
func backupDir(cfg *config.Config) string {
	dir := cfg.Database.BackupPath
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(filepath.Dir(cfg.Monitor.DatabaseFile), dir)
}
