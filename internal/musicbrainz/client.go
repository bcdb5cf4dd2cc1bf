// Package musicbrainz resolves artist names to MusicBrainz identifiers.
package musicbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/franz/radio-monitor/internal/util"
)

const (
	// BaseURL is the MusicBrainz API base URL
	BaseURL = "https://musicbrainz.org/ws/2"

	// UserAgent identifies this application to MusicBrainz.
	// MusicBrainz requires contact information in the user agent.
	UserAgent = "RadioMonitor/1.0.0 (https://github.com/franz/radio-monitor)"

	// RateLimit is the minimum gap between requests
	RateLimit = 1 * time.Second

	// DefaultTimeout bounds a single request; lookups fail fast and retry.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxRetries is the number of attempts on transient errors.
	DefaultMaxRetries = 10

	maxBackoff  = 60 * time.Second
	searchLimit = 10
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	Interval   time.Duration // gap between requests
	MaxRetries int
	// Backoff replaces the 2^n+2 second schedule, mostly for tests.
	Backoff func(attempt int) time.Duration
}

// Client handles MusicBrainz API requests with rate limiting
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	retry      *util.RetryConfig
}

// NewClient creates a new MusicBrainz API client
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	c := &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		retry: &util.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			Backoff:     opts.Backoff,
		},
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = DefaultTimeout
	}
	if c.baseURL == "" {
		c.baseURL = BaseURL
	}
	if c.userAgent == "" {
		c.userAgent = UserAgent
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry.MaxAttempts = DefaultMaxRetries
	}
	if c.retry.Backoff == nil {
		c.retry.Backoff = backoff
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = RateLimit
	}
	c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	return c
}

// backoff waits 3, 4, 6, 10, 18, 34 then 60 seconds.
func backoff(attempt int) time.Duration {
	if attempt > 6 {
		return maxBackoff
	}
	wait := time.Duration(1<<(attempt-1)+2) * time.Second
	if wait > maxBackoff {
		return maxBackoff
	}
	return wait
}

// ArtistSearchResult represents a search result from MusicBrainz
type ArtistSearchResult struct {
	Artists []Artist `json:"artists"`
	Count   int      `json:"count"`
	Offset  int      `json:"offset"`
	Created string   `json:"created"`
}

// Artist represents an artist from MusicBrainz
type Artist struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SortName       string    `json:"sort-name"`
	Score          int       `json:"score"`
	Type           string    `json:"type"`
	Country        string    `json:"country"`
	Disambiguation string    `json:"disambiguation"`
	Aliases        []Alias   `json:"aliases"`
	LifeSpan       *LifeSpan `json:"life-span"`
}

// Alias represents an artist alias
type Alias struct {
	Name     string `json:"name"`
	SortName string `json:"sort-name"`
	Locale   string `json:"locale"`
	Type     string `json:"type"`
	Primary  *bool  `json:"primary"`
}

// LifeSpan represents an artist's active period
type LifeSpan struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
	Ended bool   `json:"ended"`
}

// SearchArtist returns up to ten candidates for name, best-scored first.
func (c *Client) SearchArtist(ctx context.Context, name string) ([]Artist, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("artist name cannot be empty")
	}

	q := url.Values{}
	q.Set("query", "artist:"+name)
	q.Set("fmt", "json")
	q.Set("limit", strconv.Itoa(searchLimit))
	urlStr := c.baseURL + "/artist/?" + q.Encode()

	util.DebugLog("MusicBrainz API: searching for artist '%s'", name)

	var result ArtistSearchResult
	if err := c.getJSON(ctx, urlStr, "search "+name, &result); err != nil {
		return nil, err
	}
	if len(result.Artists) == 0 {
		util.DebugLog("MusicBrainz: no results for '%s'", name)
	}
	return result.Artists, nil
}

// LookupArtist retrieves full artist details including aliases by MBID.
// An unknown MBID yields util.ErrNotFound.
func (c *Client) LookupArtist(ctx context.Context, mbid string) (*Artist, error) {
	if mbid == "" {
		return nil, fmt.Errorf("MBID cannot be empty")
	}

	urlStr := fmt.Sprintf("%s/artist/%s?fmt=json&inc=aliases", c.baseURL, url.PathEscape(mbid))
	util.DebugLog("MusicBrainz API: looking up artist %s", mbid)

	var artist Artist
	if err := c.getJSON(ctx, urlStr, "lookup "+mbid, &artist); err != nil {
		return nil, err
	}

	util.DebugLog("MusicBrainz: retrieved '%s' with %d aliases", artist.Name, len(artist.Aliases))
	return &artist, nil
}

// VerifyMBID reports whether mbid names an artist on MusicBrainz. Malformed
// and unknown identifiers both report false without an error.
func (c *Client) VerifyMBID(ctx context.Context, mbid string) (bool, error) {
	a, err := c.LookupArtist(ctx, mbid)
	if err == nil {
		return a.ID != "" || a.Name != "", nil
	}
	if isStatus(err, http.StatusNotFound) || isStatus(err, http.StatusBadRequest) {
		util.DebugLog("MBID %s not found on MusicBrainz", mbid)
		return false, nil
	}
	return false, err
}

func (c *Client) getJSON(ctx context.Context, urlStr, op string, out any) error {
	return util.Retry(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
			return &util.RateLimitError{Service: "MusicBrainz", RetryAfter: util.ParseRetryAfter(resp.Header.Get("Retry-After"))}
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &util.StatusError{Service: "MusicBrainz", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}, "MusicBrainz "+op)
}

func isStatus(err error, code int) bool {
	var status *util.StatusError
	return errors.As(err, &status) && status.StatusCode == code
}
