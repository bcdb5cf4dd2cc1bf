package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/franz/radio-monitor/internal/normalize"
	"github.com/franz/radio-monitor/internal/util"
)

// Song is one (artist, title) pair heard on any station
type Song struct {
	ID          int64
	ArtistMBID  string
	ArtistName  string
	Title       string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	PlayCount   int
}

const songColumns = `id, COALESCE(artist_mbid, ''), artist_name, song_title, first_seen_at, last_seen_at, COALESCE(play_count, 0)`

func scanSong(r rowScanner) (*Song, error) {
	s := &Song{}
	var first, last sql.NullString
	if err := r.Scan(&s.ID, &s.ArtistMBID, &s.ArtistName, &s.Title, &first, &last, &s.PlayCount); err != nil {
		return nil, err
	}
	s.FirstSeenAt = parseTime(first)
	s.LastSeenAt = parseTime(last)
	return s, nil
}

// AddSongIfNew returns the id of the song (artistMBID, title), inserting it
// with a zero play count if it does not exist yet. added reports an insert.
func (s *Store) AddSongIfNew(artistMBID, title string) (added bool, id int64, err error) {
	title = normalize.Title(title)
	if title == "" {
		return false, 0, fmt.Errorf("song title is required: %w", util.ErrInvalidConfig)
	}

	err = s.db.QueryRow(`SELECT id FROM songs WHERE artist_mbid = ? AND song_title = ?`, artistMBID, title).Scan(&id)
	if err == nil {
		return false, id, nil
	}
	if err != sql.ErrNoRows {
		return false, 0, fmt.Errorf("failed to look up song: %w", err)
	}

	var artistName string
	if err := s.db.QueryRow(`SELECT name FROM artists WHERE mbid = ?`, artistMBID).Scan(&artistName); err != nil {
		if err == sql.ErrNoRows {
			return false, 0, fmt.Errorf("artist %s: %w", artistMBID, util.ErrNotFound)
		}
		return false, 0, fmt.Errorf("failed to look up artist: %w", err)
	}

	now := formatTime(s.clock())
	res, err := s.db.Exec(`
		INSERT INTO songs (artist_mbid, artist_name, song_title, first_seen_at, last_seen_at, play_count)
		VALUES (?, ?, ?, ?, ?, 0)
	`, artistMBID, artistName, title, now, now)
	if isConstraintError(err) {
		// Lost a race with another writer; the row exists now.
		if err := s.db.QueryRow(`SELECT id FROM songs WHERE artist_mbid = ? AND song_title = ?`, artistMBID, title).Scan(&id); err != nil {
			return false, 0, fmt.Errorf("failed to look up song: %w", err)
		}
		return false, id, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to add song %q: %w", title, err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return false, 0, fmt.Errorf("failed to get song id: %w", err)
	}
	return true, id, nil
}

// GetSong returns a song by id, or nil if absent.
func (s *Store) GetSong(id int64) (*Song, error) {
	song, err := scanSong(s.db.QueryRow(`SELECT `+songColumns+` FROM songs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get song: %w", err)
	}
	return song, nil
}

// SongArtistMBID returns the MBID a song is attributed to.
func (s *Store) SongArtistMBID(id int64) (string, error) {
	var mbid sql.NullString
	err := s.db.QueryRow(`SELECT artist_mbid FROM songs WHERE id = ?`, id).Scan(&mbid)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("song %d: %w", id, util.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get song artist: %w", err)
	}
	return mbid.String, nil
}

// DeleteSong removes a song and its plays, failures and playlist references.
func (s *Store) DeleteSong(id int64) (bool, error) {
	var deleted bool
	err := s.Transaction(func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM song_plays_daily WHERE song_id = ?`,
			`DELETE FROM plex_match_failures WHERE song_id = ?`,
			`DELETE FROM manual_playlist_songs WHERE song_id = ?`,
			`DELETE FROM playlist_builder_state WHERE song_id = ?`,
			`DELETE FROM blocklist WHERE entity_type = 'song' AND song_id = ?`,
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return err
			}
		}
		res, err := tx.Exec(`DELETE FROM songs WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete song %d: %w", id, err)
	}
	return deleted, nil
}
