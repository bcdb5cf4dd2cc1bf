package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/normalize"
)

// MBIDOverride pins an artist name to an MBID regardless of resolver output
type MBIDOverride struct {
	ID         int64
	ArtistName string
	MBID       string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func overrideKey(name string) string {
	return strings.ToLower(normalize.Artist(name))
}

// SetMBIDOverride inserts or replaces the override for name.
func (s *Store) SetMBIDOverride(name, mbid, notes string) (int64, error) {
	display := normalize.Artist(name)
	if display == "" || mbid == "" {
		return 0, fmt.Errorf("override needs a name and an MBID")
	}
	now := formatTime(s.clock())

	var id int64
	err := s.db.QueryRow(`
		INSERT INTO manual_mbid_overrides
			(artist_name_normalized, artist_name_original, mbid, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(artist_name_normalized) DO UPDATE SET
			mbid = excluded.mbid,
			artist_name_original = excluded.artist_name_original,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		RETURNING id
	`, strings.ToLower(display), display, mbid, notes, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to set MBID override for %s: %w", display, err)
	}
	return id, nil
}

// GetMBIDOverride returns the overriding MBID for name, or "" if none.
func (s *Store) GetMBIDOverride(name string) (string, error) {
	var mbid string
	err := s.db.QueryRow(`
		SELECT mbid FROM manual_mbid_overrides WHERE artist_name_normalized = ? LIMIT 1
	`, overrideKey(name)).Scan(&mbid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get MBID override: %w", err)
	}
	return mbid, nil
}

// DeleteMBIDOverride removes the override for name.
func (s *Store) DeleteMBIDOverride(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM manual_mbid_overrides WHERE artist_name_normalized = ?`, overrideKey(name))
	if err != nil {
		return false, fmt.Errorf("failed to delete MBID override: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListMBIDOverrides returns overrides ordered by name. limit <= 0 means all.
func (s *Store) ListMBIDOverrides(limit, offset int) ([]MBIDOverride, error) {
	query := `SELECT id, artist_name_original, mbid, COALESCE(notes, ''), created_at, updated_at
		FROM manual_mbid_overrides ORDER BY artist_name_original COLLATE NOCASE`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(offset, 0))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list MBID overrides: %w", err)
	}
	defer rows.Close()

	var out []MBIDOverride
	for rows.Next() {
		var (
			o                MBIDOverride
			created, updated sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.ArtistName, &o.MBID, &o.Notes, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan MBID override: %w", err)
		}
		o.CreatedAt = parseTime(created)
		o.UpdatedAt = parseTime(updated)
		out = append(out, o)
	}
	return out, rows.Err()
}
