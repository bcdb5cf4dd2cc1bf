package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/franz/radio-monitor/internal/util"
)

const (
	// BrowserUserAgent is sent with every page request.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"

	pageTimeout     = 15 * time.Second
	defaultAttempts = 7
)

// DefaultWaits is the pause after each failed attempt. The last entry repeats.
var DefaultWaits = []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second, 20 * time.Second}

var (
	errTooFew     = errors.New("too few songs on page")
	numericSuffix = regexp.MustCompile(`-\d+$`)
)

// IHeart scrapes iHeartRadio live station pages
type IHeart struct {
	Client      *http.Client
	UserAgent   string
	MaxAttempts int
	Waits       []time.Duration
	Cancel      *CancelFlag
}

// NewIHeart returns a scraper with a cookie-keeping client and the default
// retry schedule.
func NewIHeart(flag *CancelFlag) *IHeart {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &IHeart{
		Client:      &http.Client{Timeout: pageTimeout, Jar: jar},
		UserAgent:   BrowserUserAgent,
		MaxAttempts: defaultAttempts,
		Waits:       DefaultWaits,
		Cancel:      flag,
	}
}

// Scrape fetches the station page until it yields at least MinTriples songs.
// When every attempt comes back sparse, the last partial list is returned
// without an error; a transport failure on the final attempt returns nil.
func (s *IHeart) Scrape(ctx context.Context, st Station) ([]Triple, error) {
	if st.URL == "" {
		return nil, fmt.Errorf("station %s has no URL: %w", st.ID, util.ErrInvalidConfig)
	}

	var last []Triple
	cfg := &util.RetryConfig{
		MaxAttempts: s.MaxAttempts,
		Backoff:     s.backoff,
		Retryable: func(err error) bool {
			if ctx.Err() != nil || errors.Is(err, util.ErrCancelled) {
				return false
			}
			return !isTerminalStatus(err)
		},
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	attempt := 0
	triples, err := util.RetryWithBackoff(ctx, cfg, func(ctx context.Context) ([]Triple, error) {
		attempt++
		if s.Cancel.Cancelled() {
			util.InfoLog("Scraping cancelled before %s", st.ID)
			return nil, util.ErrCancelled
		}
		util.DebugLog("Scrape attempt %d/%d: %s", attempt, cfg.MaxAttempts, st.URL)
		found, err := s.fetch(ctx, st.URL)
		if err != nil {
			util.WarnLog("Request error on attempt %d/%d for %s: %v", attempt, cfg.MaxAttempts, st.ID, err)
			last = nil
			return nil, err
		}
		last = found
		if len(found) < MinTriples {
			return found, errTooFew
		}
		return found, nil
	}, "scrape "+st.ID)

	switch {
	case err == nil:
		util.InfoLog("Scraped %d songs from %s in %d attempt(s)", len(triples), st.ID, attempt)
		return triples, nil
	case errors.Is(err, errTooFew) && ctx.Err() == nil:
		util.WarnLog("All %d attempts completed for %s, returning %d songs", cfg.MaxAttempts, st.ID, len(last))
		return last, nil
	default:
		return nil, fmt.Errorf("failed to scrape %s: %w", st.ID, err)
	}
}

// isTerminalStatus reports whether err is a 4xx page response that another
// attempt cannot fix. Timeouts and rate limits stay retryable.
func isTerminalStatus(err error) bool {
	var se *util.StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}

func (s *IHeart) backoff(attempt int) time.Duration {
	waits := s.Waits
	if len(waits) == 0 {
		return 0
	}
	if attempt > len(waits) {
		return waits[len(waits)-1]
	}
	return waits[attempt-1]
}

func (s *IHeart) fetch(ctx context.Context, pageURL string) ([]Triple, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	ua := s.UserAgent
	if ua == "" {
		ua = BrowserUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: pageTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &util.StatusError{Service: "station page", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return extract(doc), nil
}

// extract walks every song link on the page and pairs it with the artist
// link in the same container.
func extract(doc *goquery.Document) []Triple {
	var out []Triple
	seen := make(map[[2]string]struct{})

	links := doc.Find(`a[href*="/songs/"]`)
	util.DebugLog("Found %d song links", links.Length())

	links.Each(func(_ int, link *goquery.Selection) {
		title := cleanText(link.Text())
		if !acceptField(title) {
			return
		}
		href, _ := link.Attr("href")

		var artist string
		artistLink := link.Parent().Find(`a[href*="/artist/"]`).FilterFunction(func(_ int, a *goquery.Selection) bool {
			h, _ := a.Attr("href")
			return !strings.Contains(h, "/songs/")
		}).First()
		if artistLink.Length() > 0 {
			artist = cleanText(artistLink.Text())
		} else {
			artist = artistFromSlug(href)
			if artist == "" {
				util.DebugLog("Cannot extract artist from URL: %s", href)
				return
			}
		}

		if !acceptField(artist) || !IsValidArtistName(artist) {
			util.DebugLog("Skipping artist %q", artist)
			return
		}
		if !ValidatePair(artist, title) {
			util.WarnLog("Validation failed, possible swap: %q by %q", title, artist)
			return
		}

		key := [2]string{title, artist}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Triple{Artist: artist, Title: title})
	})
	return out
}

// artistFromSlug turns "/artist/megan-moroney-35764910/songs/..." into
// "Megan Moroney".
func artistFromSlug(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	slug := numericSuffix.ReplaceAllString(parts[1], "")
	return cases.Title(language.Und).String(strings.ReplaceAll(slug, "-", " "))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
