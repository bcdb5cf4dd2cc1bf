// Package scrape extracts now-playing songs from radio station web pages.
package scrape

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/franz/radio-monitor/internal/util"
)

// FlavorIHeart is the only supported scraper flavor.
const FlavorIHeart = "iheart"

// MinTriples is the number of validated songs a scrape needs to count as a
// success.
const MinTriples = 2

// Station is the part of a station's configuration a scraper needs
type Station struct {
	ID       string
	Name     string
	URL      string
	Flavor   string
	WaitTime int // page-load delay hint in seconds
	HasMBID  bool
	Genre    string
	Market   string
}

// Triple is one song advertised on a station page. MBID is empty unless the
// page supplies one.
type Triple struct {
	Artist string
	Title  string
	MBID   string
}

// Scraper fetches the songs a station page currently lists.
type Scraper interface {
	Scrape(ctx context.Context, st Station) ([]Triple, error)
}

// Registry maps flavor tags to scrapers
type Registry struct {
	scrapers map[string]Scraper
}

// NewRegistry returns a registry holding the given scrapers.
func NewRegistry(scrapers map[string]Scraper) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper, len(scrapers))}
	for flavor, s := range scrapers {
		r.scrapers[flavor] = s
	}
	return r
}

// DefaultRegistry returns a registry with the iHeart scraper wired to flag.
func DefaultRegistry(flag *CancelFlag) *Registry {
	return NewRegistry(map[string]Scraper{FlavorIHeart: NewIHeart(flag)})
}

// Lookup returns the scraper for flavor. An empty flavor means iheart.
func (r *Registry) Lookup(flavor string) (Scraper, error) {
	if flavor == "" {
		flavor = FlavorIHeart
	}
	s, ok := r.scrapers[flavor]
	if !ok {
		return nil, fmt.Errorf("station type %q (supported: %v): %w", flavor, r.Flavors(), util.ErrUnsupported)
	}
	return s, nil
}

// Flavors lists the registered flavor tags.
func (r *Registry) Flavors() []string {
	out := make([]string, 0, len(r.scrapers))
	for f := range r.scrapers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Scrape dispatches to the scraper registered for the station's flavor.
func (r *Registry) Scrape(ctx context.Context, st Station) ([]Triple, error) {
	s, err := r.Lookup(st.Flavor)
	if err != nil {
		return nil, err
	}
	return s.Scrape(ctx, st)
}

// CancelFlag asks running scrapes to stop between network calls
type CancelFlag struct {
	cancelled atomic.Bool
}

// Cancel raises the flag.
func (f *CancelFlag) Cancel() {
	f.cancelled.Store(true)
	util.InfoLog("Scraping cancellation requested")
}

// Cancelled reports whether the flag is raised.
func (f *CancelFlag) Cancelled() bool {
	return f != nil && f.cancelled.Load()
}

// Reset lowers the flag. Each ingest tick starts with a reset.
func (f *CancelFlag) Reset() {
	f.cancelled.Store(false)
}

// Default is the process-wide cancellation flag.
var Default = &CancelFlag{}

// Cancel raises the process-wide cancellation flag.
func Cancel() { Default.Cancel() }

// Cancelled reports whether the process-wide flag is raised.
func Cancelled() bool { return Default.Cancelled() }

// Reset lowers the process-wide cancellation flag.
func Reset() { Default.Reset() }
