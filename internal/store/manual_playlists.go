package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

// ManualPlaylist is a user-curated list of songs
type ManualPlaylist struct {
	ID               int64
	Name             string
	PlexPlaylistName string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SongCount        int
}

// CreateManualPlaylist inserts a manual playlist. Names are unique.
func (s *Store) CreateManualPlaylist(name, plexName string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("playlist name is required: %w", util.ErrInvalidConfig)
	}
	if plexName == "" {
		plexName = name
	}
	now := formatTime(s.clock())
	res, err := s.db.Exec(`
		INSERT INTO manual_playlists (name, plex_playlist_name, created_at, updated_at) VALUES (?, ?, ?, ?)
	`, name, plexName, now, now)
	if isConstraintError(err) {
		return 0, fmt.Errorf("manual playlist %q already exists: %w", name, util.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create manual playlist: %w", err)
	}
	return res.LastInsertId()
}

// RenameManualPlaylist changes the display and Plex names.
func (s *Store) RenameManualPlaylist(id int64, name, plexName string) (bool, error) {
	if plexName == "" {
		plexName = name
	}
	res, err := s.db.Exec(`
		UPDATE manual_playlists SET name = ?, plex_playlist_name = ?, updated_at = ? WHERE id = ?
	`, name, plexName, formatTime(s.clock()), id)
	if isConstraintError(err) {
		return false, fmt.Errorf("manual playlist %q already exists: %w", name, util.ErrConflict)
	}
	if err != nil {
		return false, fmt.Errorf("failed to rename manual playlist: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteManualPlaylist removes a manual playlist and its song links.
func (s *Store) DeleteManualPlaylist(id int64) (bool, error) {
	var deleted bool
	err := s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM manual_playlist_songs WHERE playlist_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM manual_playlists WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete manual playlist %d: %w", id, err)
	}
	return deleted, nil
}

// GetManualPlaylist returns a manual playlist with its song count, or nil.
func (s *Store) GetManualPlaylist(id int64) (*ManualPlaylist, error) {
	rows, err := s.listManualPlaylists(`WHERE m.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListManualPlaylists returns all manual playlists ordered by name.
func (s *Store) ListManualPlaylists() ([]ManualPlaylist, error) {
	return s.listManualPlaylists("")
}

func (s *Store) listManualPlaylists(where string, args ...any) ([]ManualPlaylist, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.name, COALESCE(m.plex_playlist_name, m.name), m.created_at, m.updated_at,
		       (SELECT COUNT(*) FROM manual_playlist_songs ms WHERE ms.playlist_id = m.id)
		FROM manual_playlists m `+where+`
		ORDER BY m.name COLLATE NOCASE
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query manual playlists: %w", err)
	}
	defer rows.Close()

	var out []ManualPlaylist
	for rows.Next() {
		var (
			mp               ManualPlaylist
			created, updated sql.NullString
		)
		if err := rows.Scan(&mp.ID, &mp.Name, &mp.PlexPlaylistName, &created, &updated, &mp.SongCount); err != nil {
			return nil, fmt.Errorf("failed to scan manual playlist: %w", err)
		}
		mp.CreatedAt = parseTime(created)
		mp.UpdatedAt = parseTime(updated)
		out = append(out, mp)
	}
	return out, rows.Err()
}

// AddSongsToManualPlaylist links songs to a playlist, ignoring ones already
// present. It returns how many were added.
func (s *Store) AddSongsToManualPlaylist(playlistID int64, songIDs []int64) (int, error) {
	now := formatTime(s.clock())
	added := 0
	err := s.Transaction(func(tx *sql.Tx) error {
		for _, id := range songIDs {
			res, err := tx.Exec(`
				INSERT OR IGNORE INTO manual_playlist_songs (playlist_id, song_id, added_at) VALUES (?, ?, ?)
			`, playlistID, id, now)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		_, err := tx.Exec(`UPDATE manual_playlists SET updated_at = ? WHERE id = ?`, now, playlistID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add songs to manual playlist %d: %w", playlistID, err)
	}
	return added, nil
}

// RemoveSongFromManualPlaylist unlinks one song.
func (s *Store) RemoveSongFromManualPlaylist(playlistID, songID int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM manual_playlist_songs WHERE playlist_id = ? AND song_id = ?`, playlistID, songID)
	if err != nil {
		return false, fmt.Errorf("failed to remove song from manual playlist: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ManualPlaylistSongs returns a manual playlist's songs in insertion order.
func (s *Store) ManualPlaylistSongs(playlistID int64) ([]Song, error) {
	return s.querySongs(`
		SELECT s.id, COALESCE(s.artist_mbid, ''), s.artist_name, s.song_title, s.first_seen_at, s.last_seen_at, COALESCE(s.play_count, 0)
		FROM manual_playlist_songs ms
		JOIN songs s ON s.id = ms.song_id
		WHERE ms.playlist_id = ?
		ORDER BY ms.added_at, s.id
	`, playlistID)
}

func (s *Store) querySongs(query string, args ...any) ([]Song, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	var out []Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		out = append(out, *song)
	}
	return out, rows.Err()
}

// BuilderAdd stages songs for a builder session.
func (s *Store) BuilderAdd(sessionID string, songIDs ...int64) (int, error) {
	now := formatTime(s.clock())
	added := 0
	err := s.Transaction(func(tx *sql.Tx) error {
		for _, id := range songIDs {
			res, err := tx.Exec(`
				INSERT OR IGNORE INTO playlist_builder_state (session_id, song_id, added_at) VALUES (?, ?, ?)
			`, sessionID, id, now)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to stage songs: %w", err)
	}
	return added, nil
}

// BuilderRemove unstages one song.
func (s *Store) BuilderRemove(sessionID string, songID int64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM playlist_builder_state WHERE session_id = ? AND song_id = ?`, sessionID, songID)
	if err != nil {
		return false, fmt.Errorf("failed to unstage song: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BuilderSongs returns the songs staged in a session.
func (s *Store) BuilderSongs(sessionID string) ([]Song, error) {
	return s.querySongs(`
		SELECT s.id, COALESCE(s.artist_mbid, ''), s.artist_name, s.song_title, s.first_seen_at, s.last_seen_at, COALESCE(s.play_count, 0)
		FROM playlist_builder_state b
		JOIN songs s ON s.id = b.song_id
		WHERE b.session_id = ?
		ORDER BY b.id
	`, sessionID)
}

// BuilderClear drops a session's staged songs.
func (s *Store) BuilderClear(sessionID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM playlist_builder_state WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear builder session: %w", err)
	}
	return res.RowsAffected()
}

// BuilderCommit copies a session's staged songs into a manual playlist and
// clears the session, atomically. It returns how many songs were new to the
// playlist.
func (s *Store) BuilderCommit(sessionID string, playlistID int64) (int, error) {
	now := formatTime(s.clock())
	var added int64
	err := s.Transaction(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM manual_playlists WHERE id = ?`, playlistID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("manual playlist %d: %w", playlistID, util.ErrNotFound)
		}
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO manual_playlist_songs (playlist_id, song_id, added_at)
			SELECT ?, song_id, ? FROM playlist_builder_state WHERE session_id = ? ORDER BY id
		`, playlistID, now, sessionID)
		if err != nil {
			return err
		}
		added, _ = res.RowsAffected()
		if _, err := tx.Exec(`DELETE FROM playlist_builder_state WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE manual_playlists SET updated_at = ? WHERE id = ?`, now, playlistID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to commit builder session: %w", err)
	}
	return int(added), nil
}
