package musicbrainz

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// Source names the step of the resolution chain that produced an MBID.
type Source string

const (
	SourceStation       Source = "station"
	SourceOverride      Source = "override"
	SourceCache         Source = "cache"
	SourceMusicBrainz   Source = "musicbrainz"
	SourceCollaboration Source = "collaboration"
	SourcePending       Source = "pending"
)

// Resolution is the outcome of resolving one artist name.
type Resolution struct {
	MBID   string
	Name   string // name the MBID should be stored under
	Source Source
}

// Pending reports whether the resolution fell through to a placeholder.
func (r Resolution) Pending() bool {
	return normalize.IsPending(r.MBID)
}

// ArtistStore is the part of the store the resolver reads and reconciles.
type ArtistStore interface {
	GetMBIDOverride(name string) (string, error)
	GetArtistByName(name string) (*store.Artist, error)
	UpdateArtistMBIDFromPending(name, newMBID string) (bool, error)
	ListPendingArtists(limit int) ([]store.Artist, error)
}

// Searcher queries the registry by artist name.
type Searcher interface {
	SearchArtist(ctx context.Context, name string) ([]Artist, error)
}

// ResolverOptions tunes a Resolver.
type ResolverOptions struct {
	// RetryPendingOnLookup re-queries MusicBrainz when the cached artist is
	// still PENDING.
	RetryPendingOnLookup bool
	MissTTL              time.Duration
}

// Resolver maps artist names to MBIDs: station-supplied, manual override,
// stored artist, registry search, collaboration split, then PENDING.
type Resolver struct {
	store        ArtistStore
	client       Searcher
	misses       *MissCache
	retryPending bool
}

// NewResolver creates a resolver over st and client.
func NewResolver(st ArtistStore, client Searcher, opts *ResolverOptions) *Resolver {
	if opts == nil {
		opts = &ResolverOptions{RetryPendingOnLookup: true}
	}
	return &Resolver{
		store:        st,
		client:       client,
		misses:       NewMissCache(opts.MissTTL),
		retryPending: opts.RetryPendingOnLookup,
	}
}

// Misses exposes the negative-lookup cache.
func (r *Resolver) Misses() *MissCache {
	return r.misses
}

// Resolve returns the MBID for name. stationMBID, when the page supplied one,
// wins outright. A registry failure is not an error: the name falls through
// to a PENDING placeholder. Only context cancellation and store errors are
// returned.
func (r *Resolver) Resolve(ctx context.Context, name, stationMBID string) (Resolution, error) {
	name = normalize.Artist(name)
	if name == "" {
		return Resolution{}, fmt.Errorf("artist name cannot be empty: %w", util.ErrInvalidConfig)
	}

	if stationMBID != "" && !normalize.IsPending(stationMBID) {
		return Resolution{MBID: stationMBID, Name: name, Source: SourceStation}, nil
	}

	override, err := r.store.GetMBIDOverride(name)
	if err != nil {
		return Resolution{}, err
	}
	cached, err := r.store.GetArtistByName(name)
	if err != nil {
		return Resolution{}, err
	}
	if override != "" {
		return r.applyOverride(name, override, cached)
	}

	if cached != nil && !cached.IsPending() {
		util.DebugLog("Using cached MBID for %s: %s", name, cached.MBID)
		return Resolution{MBID: cached.MBID, Name: cached.Name, Source: SourceCache}, nil
	}
	if cached != nil && !r.retryPending {
		return Resolution{MBID: cached.MBID, Name: cached.Name, Source: SourcePending}, nil
	}

	res, ok, err := r.resolveRemote(ctx, name)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		if cached != nil {
			if _, err := r.store.UpdateArtistMBIDFromPending(name, res.MBID); err != nil {
				return Resolution{}, err
			}
		}
		return res, nil
	}

	if cached != nil {
		return Resolution{MBID: cached.MBID, Name: cached.Name, Source: SourcePending}, nil
	}
	mbid := normalize.PendingMBID(name)
	util.InfoLog("No MBID for %s, recording as %s", name, mbid)
	return Resolution{MBID: mbid, Name: name, Source: SourcePending}, nil
}

// applyOverride brings the stored artist in line with a manual override. A
// PENDING row is re-keyed (or merged) to the override. A row that already
// carries a different real MBID keeps it, since the name can only belong to
// one artist; the override is reported and the stored MBID returned.
func (r *Resolver) applyOverride(name, override string, cached *store.Artist) (Resolution, error) {
	res := Resolution{MBID: override, Name: name, Source: SourceOverride}
	switch {
	case cached == nil || cached.MBID == override:
	case cached.IsPending():
		if _, err := r.store.UpdateArtistMBIDFromPending(name, override); err != nil {
			return Resolution{}, err
		}
		util.InfoLog("Applied MBID override to pending artist %s: %s", name, override)
	default:
		util.WarnLog("MBID override %s for %s conflicts with stored MBID %s, keeping the stored artist", override, name, cached.MBID)
		return Resolution{MBID: cached.MBID, Name: cached.Name, Source: SourceCache}, nil
	}
	util.DebugLog("Using MBID override for %s: %s", name, override)
	return res, nil
}

// resolveRemote runs the registry search and then the collaboration
// fallbacks: each side of a marked credit in turn, or smart grouping for a
// credit without separators. The first part that resolves names the result.
func (r *Resolver) resolveRemote(ctx context.Context, name string) (Resolution, bool, error) {
	mbid, err := r.search(ctx, name)
	if err != nil {
		return Resolution{}, false, err
	}
	if mbid != "" {
		return Resolution{MBID: mbid, Name: name, Source: SourceMusicBrainz}, true, nil
	}

	if !normalize.HasCollaborationMarker(name) {
		parts, primary, err := r.smartGroup(ctx, name)
		if err != nil || primary == "" {
			return Resolution{}, false, err
		}
		return Resolution{MBID: primary, Name: parts[0], Source: SourceCollaboration}, true, nil
	}

	parts := normalize.SplitCollaboration(name)
	if len(parts) < 2 {
		return Resolution{}, false, nil
	}
	util.InfoLog("Resolving collaboration %s as %v", name, parts)
	for _, part := range parts {
		mbid, err := r.lookup(ctx, part)
		if err != nil {
			return Resolution{}, false, err
		}
		if mbid != "" {
			return Resolution{MBID: mbid, Name: normalize.Artist(part), Source: SourceCollaboration}, true, nil
		}
	}
	return Resolution{}, false, nil
}

// lookup resolves a name without the PENDING fallback: override, stored
// real MBID, then registry.
func (r *Resolver) lookup(ctx context.Context, name string) (string, error) {
	name = normalize.Artist(name)
	if name == "" {
		return "", nil
	}
	if mbid, err := r.store.GetMBIDOverride(name); err != nil || mbid != "" {
		return mbid, err
	}
	if a, err := r.store.GetArtistByName(name); err != nil {
		return "", err
	} else if a != nil && !a.IsPending() {
		return a.MBID, nil
	}
	return r.search(ctx, name)
}

// search queries the registry, consulting and feeding the miss cache.
// Transport failures are logged and reported as "no match".
func (r *Resolver) search(ctx context.Context, name string) (string, error) {
	if r.client == nil || r.misses.Missed(name) {
		return "", nil
	}

	candidates, err := r.client.SearchArtist(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		util.WarnLog("MusicBrainz lookup failed for %s: %v", name, err)
		return "", nil
	}
	if len(candidates) == 0 {
		util.WarnLog("No MBID found for %s (no results from MusicBrainz)", name)
		r.misses.Record(name)
		return "", nil
	}

	m, ok := BestMatch(name, candidates)
	if !ok {
		r.misses.Record(name)
		return "", nil
	}
	util.InfoLog("Found MBID for %s: %s (matched: %s, %.1f%% similarity)", name, m.Artist.ID, m.Artist.Name, m.Similarity*100)
	return m.Artist.ID, nil
}

// PendingResult is the outcome for one PENDING artist.
type PendingResult struct {
	Name     string
	OldMBID  string
	NewMBID  string
	Resolved bool
	Error    string
}

// PendingReport summarizes a RetryPending run. Total counts every PENDING
// artist, including those past the limit.
type PendingReport struct {
	Total    int
	Resolved int
	Failed   int
	Results  []PendingResult
}

var (
	featPrimary = regexp.MustCompile(`(?i)^(.+?)\s+(?:feat\.?|ft\.|featuring)\s+`)
	ampersand   = regexp.MustCompile(`\s+&\s+`)
)

// RetryPending re-resolves up to limit PENDING artists (all when limit <= 0)
// and reconciles every hit. progress, when set, is called after each artist.
func (r *Resolver) RetryPending(ctx context.Context, limit int, progress func(done, total int)) (*PendingReport, error) {
	pending, err := r.store.ListPendingArtists(0)
	if err != nil {
		return nil, err
	}

	report := &PendingReport{Total: len(pending)}
	if len(pending) == 0 {
		util.InfoLog("No PENDING artists to retry")
		return report, nil
	}
	if limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	util.InfoLog("Retrying MBID lookup for %d/%d PENDING artists", len(pending), report.Total)
	r.misses.Clear()

	for i, a := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := PendingResult{Name: a.Name, OldMBID: a.MBID}
		mbid, err := r.resolvePendingName(ctx, a.Name)
		if err != nil && ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err == nil && mbid != "" {
			if _, err = r.store.UpdateArtistMBIDFromPending(a.Name, mbid); err == nil {
				res.NewMBID = mbid
				res.Resolved = true
			}
		}
		if err != nil {
			res.Error = err.Error()
		}

		if res.Resolved {
			report.Resolved++
			util.InfoLog("Resolved %s: %s -> %s", a.Name, a.MBID, mbid)
		} else {
			report.Failed++
			util.WarnLog("Failed to resolve %s", a.Name)
		}
		report.Results = append(report.Results, res)
		if progress != nil {
			progress(i+1, len(pending))
		}
	}

	util.InfoLog("Retry complete: %d resolved, %d still failed", report.Resolved, report.Failed)
	return report, nil
}

// resolvePendingName tries the primary artist of a "feat." credit, each side
// of an "&" credit, or the full name; a separator-less name then goes through
// smart grouping.
func (r *Resolver) resolvePendingName(ctx context.Context, name string) (string, error) {
	var names []string
	switch {
	case featPrimary.MatchString(name):
		names = []string{featPrimary.FindStringSubmatch(name)[1]}
	case ampersand.MatchString(name):
		names = ampersand.Split(name, -1)
	default:
		names = []string{name}
	}

	for _, n := range names {
		mbid, err := r.lookup(ctx, strings.TrimSpace(n))
		if err != nil {
			return "", err
		}
		if mbid != "" {
			return mbid, nil
		}
	}

	if normalize.HasCollaborationMarker(name) {
		return "", nil
	}
	_, mbid, err := r.smartGroup(ctx, name)
	return mbid, err
}

// smartGroup tries contiguous partitions of a separator-less collaboration
// and accepts the first whose parts all resolve. It returns that partition
// and the MBID of its first, primary, part.
func (r *Resolver) smartGroup(ctx context.Context, name string) ([]string, string, error) {
	for _, parts := range normalize.GroupingCandidates(name) {
		var primary string
		all := true
		for i, part := range parts {
			mbid, err := r.lookup(ctx, part)
			if err != nil {
				return nil, "", err
			}
			if mbid == "" {
				all = false
				break
			}
			if i == 0 {
				primary = mbid
			}
		}
		if all {
			util.InfoLog("Validated split of %s: %v", name, parts)
			return parts, primary, nil
		}
	}
	return nil, "", nil
}
