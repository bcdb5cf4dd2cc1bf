package lidarr

import (
	"context"
	"errors"
	"fmt"

	"github.com/franz/radio-monitor/internal/store"
	"github.com/franz/radio-monitor/internal/util"
)

// Importer adds one artist to Lidarr. *Client implements it.
type Importer interface {
	ImportArtist(ctx context.Context, mbid, name string) (Outcome, error)
}

// CandidateStore is the store side of a bulk import
type CandidateStore interface {
	ArtistsNeedingImport(minPlays int, stationID string) ([]store.ImportCandidate, error)
	MarkArtistImported(mbid string) error
}

// Failure is one artist that could not be onboarded
type Failure struct {
	Name   string
	MBID   string
	Reason string
}

// BulkResult summarizes a bulk import
type BulkResult struct {
	Total         int
	Imported      int
	AlreadyExists int
	Failed        int
	Failures      []Failure
	DryRun        bool
}

// BulkOptions selects candidates for ImportAll
type BulkOptions struct {
	MinPlays  int
	StationID string
	DryRun    bool
	// Progress is called after each artist with the running count.
	Progress func(done, total int, c store.ImportCandidate)
}

// ImportAll onboards every artist still flagged for import with at least
// MinPlays plays. Successful and already-present artists are marked
// imported; a dry run only counts them. Cancellation stops between artists.
func ImportAll(ctx context.Context, st CandidateStore, imp Importer, opts BulkOptions) (*BulkResult, error) {
	candidates, err := st.ArtistsNeedingImport(opts.MinPlays, opts.StationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import candidates: %w", err)
	}

	res := &BulkResult{Total: len(candidates), DryRun: opts.DryRun}
	for i, c := range candidates {
		if ctx.Err() != nil {
			return res, fmt.Errorf("import stopped after %d of %d artists: %w", i, len(candidates), util.ErrCancelled)
		}

		switch {
		case opts.DryRun:
			res.Imported++
		default:
			outcome, err := imp.ImportArtist(ctx, c.MBID, c.Name)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return res, fmt.Errorf("import stopped after %d of %d artists: %w", i, len(candidates), util.ErrCancelled)
				}
				util.WarnLog("Lidarr import of %s failed: %v", c.Name, err)
				res.Failed++
				res.Failures = append(res.Failures, Failure{Name: c.Name, MBID: c.MBID, Reason: err.Error()})
				break
			}
			if outcome == AlreadyExists {
				res.AlreadyExists++
			} else {
				res.Imported++
			}
			if err := st.MarkArtistImported(c.MBID); err != nil {
				return res, err
			}
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(candidates), c)
		}
	}
	return res, nil
}

// Severity grades a finished bulk import for the activity log.
func (r *BulkResult) Severity() string {
	switch {
	case r.Failed == 0:
		return store.SeveritySuccess
	case r.Failed < r.Total:
		return store.SeverityWarning
	default:
		return store.SeverityError
	}
}

// Summary is a one-line description of the result.
func (r *BulkResult) Summary() string {
	if r.DryRun {
		return fmt.Sprintf("Would import %d artists", r.Imported)
	}
	return fmt.Sprintf("Imported %d new artists, %d already existed, %d failed", r.Imported, r.AlreadyExists, r.Failed)
}
