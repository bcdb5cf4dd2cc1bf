package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Playlist is an auto or manual playlist definition
type Playlist struct {
	ID                  int64
	Name                string
	IsAuto              bool
	IntervalMinutes     int
	StationIDs          []string
	MaxSongs            int
	Mode                string
	MinPlays            int
	MaxPlays            int // 0 means no upper bound
	Days                int // 0 means all time
	Enabled             bool
	LastUpdated         time.Time
	NextUpdate          time.Time
	PlexPlaylistName    string
	CreatedAt           time.Time
	ConsecutiveFailures int
}

// PlaylistModes lists the valid update disciplines.
var PlaylistModes = []string{"merge", "replace", "append", "create", "snapshot", "recent", "random"}

// ValidPlaylistMode reports whether mode is a known update discipline.
func ValidPlaylistMode(mode string) bool {
	for _, m := range PlaylistModes {
		if m == mode {
			return true
		}
	}
	return false
}

const playlistColumns = `id, name, COALESCE(is_auto, 1), COALESCE(interval_minutes, 0), COALESCE(station_ids, '[]'),
	COALESCE(max_songs, 0), COALESCE(mode, 'merge'), COALESCE(min_plays, 1), COALESCE(max_plays, 0),
	COALESCE(days, 0), COALESCE(enabled, 1), last_updated, next_update,
	COALESCE(plex_playlist_name, name), created_at, COALESCE(consecutive_failures, 0)`

func scanPlaylist(r rowScanner) (*Playlist, error) {
	p := &Playlist{}
	var (
		stations                     string
		lastUpdated, next, createdAt sql.NullString
	)
	err := r.Scan(&p.ID, &p.Name, &p.IsAuto, &p.IntervalMinutes, &stations,
		&p.MaxSongs, &p.Mode, &p.MinPlays, &p.MaxPlays,
		&p.Days, &p.Enabled, &lastUpdated, &next,
		&p.PlexPlaylistName, &createdAt, &p.ConsecutiveFailures)
	if err != nil {
		return nil, err
	}
	p.StationIDs = decodeStationIDs(stations)
	p.LastUpdated = parseTime(lastUpdated)
	p.NextUpdate = parseTime(next)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func decodeStationIDs(raw string) []string {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

func encodeStationIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

// AddPlaylist inserts a playlist and returns its id. Auto playlists are first
// due one interval from now.
func (s *Store) AddPlaylist(p Playlist) (int64, error) {
	if strings.TrimSpace(p.Name) == "" {
		return 0, fmt.Errorf("playlist name is required")
	}
	if p.Mode == "" {
		p.Mode = "merge"
	}
	if !ValidPlaylistMode(p.Mode) {
		return 0, fmt.Errorf("invalid playlist mode %q", p.Mode)
	}
	if p.MinPlays <= 0 {
		p.MinPlays = 1
	}
	if p.PlexPlaylistName == "" {
		p.PlexPlaylistName = p.Name
	}

	now := s.clock()
	var next sql.NullString
	if p.IsAuto && p.IntervalMinutes > 0 {
		next = nullTime(now.Add(time.Duration(p.IntervalMinutes) * time.Minute))
	}

	res, err := s.db.Exec(`
		INSERT INTO playlists (
			name, is_auto, interval_minutes, station_ids, max_songs, mode,
			min_plays, max_plays, days, enabled,
			last_updated, next_update, plex_playlist_name, created_at, consecutive_failures
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, 0)
	`, p.Name, boolInt(p.IsAuto), nullInt(p.IntervalMinutes), encodeStationIDs(p.StationIDs), p.MaxSongs, p.Mode,
		p.MinPlays, nullInt(p.MaxPlays), nullInt(p.Days), boolInt(p.Enabled),
		next, p.PlexPlaylistName, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to add playlist %s: %w", p.Name, err)
	}
	return res.LastInsertId()
}

// UpdatePlaylist rewrites a playlist definition. Changing the interval
// reschedules the next run.
func (s *Store) UpdatePlaylist(p Playlist) (bool, error) {
	if p.Mode != "" && !ValidPlaylistMode(p.Mode) {
		return false, fmt.Errorf("invalid playlist mode %q", p.Mode)
	}
	var next sql.NullString
	if p.IsAuto && p.IntervalMinutes > 0 {
		next = nullTime(s.clock().Add(time.Duration(p.IntervalMinutes) * time.Minute))
	}
	res, err := s.db.Exec(`
		UPDATE playlists SET
			name = ?, is_auto = ?, interval_minutes = ?, station_ids = ?, max_songs = ?,
			mode = COALESCE(NULLIF(?, ''), mode), min_plays = ?, max_plays = ?, days = ?,
			next_update = COALESCE(?, next_update),
			plex_playlist_name = COALESCE(NULLIF(?, ''), plex_playlist_name)
		WHERE id = ?
	`, p.Name, boolInt(p.IsAuto), nullInt(p.IntervalMinutes), encodeStationIDs(p.StationIDs), p.MaxSongs,
		p.Mode, max(p.MinPlays, 1), nullInt(p.MaxPlays), nullInt(p.Days),
		next, p.PlexPlaylistName, p.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update playlist %d: %w", p.ID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeletePlaylist removes a playlist definition. Match failures keep their
// song but lose the playlist reference.
func (s *Store) DeletePlaylist(id int64) (bool, error) {
	var deleted bool
	err := s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE plex_match_failures SET playlist_id = NULL WHERE playlist_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM playlists WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete playlist %d: %w", id, err)
	}
	return deleted, nil
}

// SetPlaylistEnabled enables or disables a playlist.
func (s *Store) SetPlaylistEnabled(id int64, enabled bool) (bool, error) {
	res, err := s.db.Exec(`UPDATE playlists SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return false, fmt.Errorf("failed to update playlist %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetPlaylist returns a playlist by id, or nil if absent.
func (s *Store) GetPlaylist(id int64) (*Playlist, error) {
	p, err := scanPlaylist(s.db.QueryRow(`SELECT `+playlistColumns+` FROM playlists WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return p, nil
}

// GetPlaylistByName returns a playlist by name, or nil if absent.
func (s *Store) GetPlaylistByName(name string) (*Playlist, error) {
	p, err := scanPlaylist(s.db.QueryRow(`SELECT `+playlistColumns+` FROM playlists WHERE name = ? ORDER BY id LIMIT 1`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist: %w", err)
	}
	return p, nil
}

// ListPlaylists returns all playlists ordered by name.
func (s *Store) ListPlaylists() ([]Playlist, error) {
	return s.queryPlaylists(`SELECT ` + playlistColumns + ` FROM playlists ORDER BY name COLLATE NOCASE, id`)
}

// DuePlaylists returns enabled auto playlists whose next update is at or
// before now.
func (s *Store) DuePlaylists(now time.Time) ([]Playlist, error) {
	return s.queryPlaylists(`
		SELECT `+playlistColumns+` FROM playlists
		WHERE enabled = 1 AND is_auto = 1 AND next_update IS NOT NULL AND next_update <= ?
		ORDER BY next_update, id
	`, formatTime(now))
}

func (s *Store) queryPlaylists(query string, args ...any) ([]Playlist, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var out []Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkPlaylistUpdated records a successful run at now, schedules the next
// one an interval later and resets the failure counter.
func (s *Store) MarkPlaylistUpdated(id int64, now time.Time) error {
	var interval sql.NullInt64
	err := s.db.QueryRow(`SELECT interval_minutes FROM playlists WHERE id = ?`, id).Scan(&interval)
	if err != nil {
		return fmt.Errorf("failed to read playlist %d: %w", id, err)
	}
	next := now
	if interval.Valid && interval.Int64 > 0 {
		next = now.Add(time.Duration(interval.Int64) * time.Minute)
	}
	_, err = s.db.Exec(`
		UPDATE playlists SET last_updated = ?, next_update = ?, consecutive_failures = 0 WHERE id = ?
	`, formatTime(now), formatTime(next), id)
	if err != nil {
		return fmt.Errorf("failed to mark playlist %d updated: %w", id, err)
	}
	return nil
}

// IncrementPlaylistFailures bumps the failure counter and returns its new value.
func (s *Store) IncrementPlaylistFailures(id int64) (int, error) {
	var failures int
	err := s.db.QueryRow(`
		UPDATE playlists SET consecutive_failures = COALESCE(consecutive_failures, 0) + 1
		WHERE id = ? RETURNING consecutive_failures
	`, id).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("failed to increment failures for playlist %d: %w", id, err)
	}
	return failures, nil
}
