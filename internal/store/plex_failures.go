package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PlexFailure records a song the media server could not match
type PlexFailure struct {
	ID             int64
	SongID         int64
	PlaylistID     int64
	FailureDate    time.Time
	Reason         string
	SearchAttempts int
	SearchTerms    map[string]string
	Resolved       bool
	ResolvedAt     time.Time

	ArtistName string
	SongTitle  string
}

// LogPlexFailure records a failed match. An unresolved failure for the same
// song and playlist is updated instead of duplicated.
func (s *Store) LogPlexFailure(songID, playlistID int64, reason string, terms map[string]string) error {
	var termsJSON sql.NullString
	if len(terms) > 0 {
		data, err := json.Marshal(terms)
		if err != nil {
			return fmt.Errorf("failed to encode search terms: %w", err)
		}
		termsJSON = sql.NullString{String: string(data), Valid: true}
	}
	var playlist sql.NullInt64
	if playlistID > 0 {
		playlist = sql.NullInt64{Int64: playlistID, Valid: true}
	}
	now := formatTime(s.clock())

	return s.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE plex_match_failures
			SET search_attempts = search_attempts + 1, failure_date = ?, failure_reason = ?,
			    search_terms_used = COALESCE(?, search_terms_used)
			WHERE song_id = ? AND playlist_id IS ? AND resolved = 0
		`, now, reason, termsJSON, songID, playlist)
		if err != nil {
			return fmt.Errorf("failed to update plex failure: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.Exec(`
			INSERT INTO plex_match_failures
				(song_id, playlist_id, failure_date, failure_reason, search_attempts, search_terms_used, resolved)
			VALUES (?, ?, ?, ?, 1, ?, 0)
		`, songID, playlist, now, reason, termsJSON)
		if err != nil {
			return fmt.Errorf("failed to log plex failure: %w", err)
		}
		return nil
	})
}

// UnresolvedPlexFailures returns open failures, newest first.
func (s *Store) UnresolvedPlexFailures(limit int) ([]PlexFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT f.id, f.song_id, COALESCE(f.playlist_id, 0), f.failure_date, f.failure_reason,
		       COALESCE(f.search_attempts, 1), f.search_terms_used, COALESCE(f.resolved, 0), f.resolved_at,
		       COALESCE(s.artist_name, ''), COALESCE(s.song_title, '')
		FROM plex_match_failures f
		LEFT JOIN songs s ON s.id = f.song_id
		WHERE f.resolved = 0
		ORDER BY f.failure_date DESC, f.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plex failures: %w", err)
	}
	defer rows.Close()

	var out []PlexFailure
	for rows.Next() {
		var (
			f                PlexFailure
			date, resolvedAt sql.NullString
			terms            sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.SongID, &f.PlaylistID, &date, &f.Reason,
			&f.SearchAttempts, &terms, &f.Resolved, &resolvedAt, &f.ArtistName, &f.SongTitle); err != nil {
			return nil, fmt.Errorf("failed to scan plex failure: %w", err)
		}
		f.FailureDate = parseTime(date)
		f.ResolvedAt = parseTime(resolvedAt)
		if terms.Valid {
			_ = json.Unmarshal([]byte(terms.String), &f.SearchTerms)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ResolvePlexFailures marks every open failure of a song resolved.
func (s *Store) ResolvePlexFailures(songID int64) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE plex_match_failures SET resolved = 1, resolved_at = ? WHERE song_id = ? AND resolved = 0
	`, formatTime(s.clock()), songID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve plex failures for song %d: %w", songID, err)
	}
	return res.RowsAffected()
}

// CleanupPlexFailures deletes failures older than days.
func (s *Store) CleanupPlexFailures(days int) (int64, error) {
	cutoff := formatTime(s.clock().AddDate(0, 0, -days))
	res, err := s.db.Exec(`DELETE FROM plex_match_failures WHERE failure_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up plex failures: %w", err)
	}
	return res.RowsAffected()
}
