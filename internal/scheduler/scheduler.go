// Package scheduler runs the monitor's background jobs: the scrape tick, the
// nightly maintenance jobs and the playlist refresher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/franz/radio-monitor/internal/scrape"
	"github.com/franz/radio-monitor/internal/util"
)

// Job identifiers
const (
	JobScrape             = "scrape_job"
	JobMBIDRetry          = "mbid_retry"
	JobBackup             = "backup_job"
	JobActivityCleanup    = "activity_cleanup_job"
	JobPlexFailureCleanup = "plex_failure_cleanup_job"
	JobLogCleanup         = "log_cleanup_job"
	JobDatabaseCleanup    = "database_cleanup_job"
	JobPlaylists          = "playlist_job"
)

// DefaultScrapeInterval is used when Options.ScrapeInterval is unset.
const DefaultScrapeInterval = 10 * time.Minute

// ErrBusy is returned by a manual trigger while the same job is running.
var ErrBusy = errors.New("job already running")

// Func is the body of a job. The context is cancelled only when a shutdown
// gives up waiting.
type Func func(ctx context.Context) error

// Options configures a Scheduler
type Options struct {
	ScrapeInterval time.Duration
	Location       *time.Location
	Cancel         *scrape.CancelFlag
	Logger         hclog.Logger
}

type job struct {
	id    string
	name  string
	spec  string
	fn    Func
	entry cron.EntryID
	busy  sync.Mutex
}

// Entry describes a registered job for status output
type Entry struct {
	ID     string
	Name   string
	Spec   string
	Next   time.Time
	Prev   time.Time
	Paused bool
}

// Scheduler owns one cron loop. The scrape job is registered paused and
// only gets a cron entry while it is running.
type Scheduler struct {
	cron   *cron.Cron
	log    hclog.Logger
	cancel *scrape.CancelFlag

	ctx  context.Context
	kill context.CancelFunc

	mu          sync.Mutex
	jobs        map[string]*job
	interval    time.Duration
	scrapeEntry cron.EntryID
	closed      bool

	group  singleflight.Group
	manual sync.WaitGroup
}

// New creates a scheduler and starts its cron loop. scrapeFn may be nil when
// the caller only wants the maintenance jobs.
func New(scrapeFn Func, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = util.Named("scheduler")
	}
	interval := opts.ScrapeInterval
	if interval <= 0 {
		interval = DefaultScrapeInterval
	}
	cancel := opts.Cancel
	if cancel == nil {
		cancel = scrape.Default
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	cl := cronLogger{log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:      log,
		cancel:   cancel,
		jobs:     make(map[string]*job),
		interval: interval,
	}
	s.ctx, s.kill = context.WithCancel(context.Background())

	if scrapeFn != nil {
		s.jobs[JobScrape] = &job{id: JobScrape, name: "Radio Station Scraping Job", fn: scrapeFn}
	}
	s.cron.Start()
	log.Info("scheduler initialized", "scrape_interval", interval)
	return s
}

// Add registers a cron job. spec is any expression robfig/cron accepts,
// e.g. "0 3 * * *" or "@every 24h".
func (s *Scheduler) Add(id, name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("scheduler is shut down")
	}
	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("job %s: %w", id, util.ErrConflict)
	}
	j := &job{id: id, name: name, spec: spec, fn: fn}
	entry, err := s.cron.AddFunc(spec, func() { _ = s.exec(j) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, id, err)
	}
	j.entry = entry
	s.jobs[id] = j
	s.log.Info("job scheduled", "job", id, "spec", spec)
	return nil
}

// Remove unschedules a job. It reports whether the job existed.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || id == JobScrape {
		return false
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, id)
	s.log.Info("job removed", "job", id)
	return true
}

// Start resumes the scrape job. It returns false if it is already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[JobScrape]
	if !ok || s.closed || s.scrapeEntry != 0 {
		if s.scrapeEntry != 0 {
			s.log.Info("scraping job already running")
		}
		return false
	}
	s.cancel.Reset()
	if err := s.scheduleScrape(j); err != nil {
		s.log.Error("failed to resume scraping job", "error", err)
		return false
	}
	s.log.Info("scraping job started", "interval", s.interval)
	return true
}

// Stop pauses the scrape job. A tick already in progress finishes. It
// returns false if the job was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseLocked()
}

func (s *Scheduler) pauseLocked() bool {
	if s.scrapeEntry == 0 {
		return false
	}
	s.cron.Remove(s.scrapeEntry)
	s.scrapeEntry = 0
	s.log.Info("scraping job paused")
	return true
}

// Running reports whether the scrape job is scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrapeEntry != 0
}

// Interval returns the scrape interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// ModifyInterval changes the scrape interval. A running job is rescheduled
// from now; a paused one picks the interval up on Start.
func (s *Scheduler) ModifyInterval(d time.Duration) error {
	if d < time.Minute {
		return fmt.Errorf("scrape interval %s is below one minute: %w", d, util.ErrInvalidConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return nil
	}
	s.interval = d
	if s.scrapeEntry != 0 {
		s.cron.Remove(s.scrapeEntry)
		s.scrapeEntry = 0
		if err := s.scheduleScrape(s.jobs[JobScrape]); err != nil {
			return err
		}
	}
	s.log.Info("scraping interval changed", "interval", d)
	return nil
}

func (s *Scheduler) scheduleScrape(j *job) error {
	j.spec = "@every " + s.interval.String()
	entry, err := s.cron.AddFunc(j.spec, func() { _ = s.exec(j) })
	if err != nil {
		return err
	}
	j.entry = entry
	s.scrapeEntry = entry
	return nil
}

// Trigger runs a job now without waiting for it. Concurrent triggers of the
// same id share one run, and a trigger that finds the scheduled run of that
// job in progress fails with ErrBusy. The returned channel receives the
// outcome and may be ignored.
func (s *Scheduler) Trigger(id string) (<-chan singleflight.Result, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("job %s: %w", id, util.ErrNotFound)
	}
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is shut down")
	}
	s.manual.Add(1)
	s.mu.Unlock()

	shared := s.group.DoChan(id, func() (any, error) {
		return nil, s.exec(j)
	})
	out := make(chan singleflight.Result, 1)
	go func() {
		defer s.manual.Done()
		out <- <-shared
	}()
	return out, nil
}

// exec runs one job invocation, logging its outcome. Panics become errors.
func (s *Scheduler) exec(j *job) (err error) {
	if !j.busy.TryLock() {
		s.log.Warn("skipping run, previous run still in progress", "job", j.id)
		return ErrBusy
	}
	defer j.busy.Unlock()

	start := time.Now()
	s.log.Debug("job started", "job", j.id)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.id, r)
		}
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			s.log.Error("job failed", "job", j.id, "duration", elapsed, "error", err)
			return
		}
		s.log.Info("job complete", "job", j.id, "duration", elapsed)
	}()
	return j.fn(s.ctx)
}

// Entries lists the registered jobs ordered by id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := Entry{ID: j.id, Name: j.name, Spec: j.spec}
		if j.id == JobScrape && s.scrapeEntry == 0 {
			e.Paused = true
			e.Spec = "@every " + s.interval.String()
		} else {
			ce := s.cron.Entry(j.entry)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Shutdown pauses scraping, raises the cancellation flag and waits for
// running jobs, scheduled or manual. If ctx ends first the jobs' context is
// cancelled and ctx's error returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pauseLocked()
	s.mu.Unlock()

	s.cancel.Cancel()
	s.log.Info("scheduler shutting down")

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.kill()
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.kill()
		s.log.Warn("scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

// cronLogger routes robfig/cron's own logging to hclog.
type cronLogger struct {
	l hclog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Trace(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
