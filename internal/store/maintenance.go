package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/util"
)

const backupPrefix = "radio_songs_"

// backupStamp is the timestamp layout embedded in backup file names.
const backupStamp = "2006-01-02_150405"

// Backup writes a consistent copy of the database into dir and returns its
// path.
func (s *Store) Backup(dir string) (string, error) {
	return s.backupAs(dir, backupPrefix)
}

func (s *Store) backupAs(dir, prefix string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	path := filepath.Join(dir, prefix+s.clock().Format(backupStamp)+".db")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("backup %s already exists: %w", path, util.ErrConflict)
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("failed to back up database: %w", err)
	}
	util.InfoLog("Database backed up to %s", path)
	return path, nil
}

// BackupInfo describes one backup file
type BackupInfo struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
	Valid     bool
}

// ListBackups returns the backups in dir, newest first, each checked with
// PRAGMA integrity_check.
func ListBackups(dir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		b := BackupInfo{
			Name:      e.Name(),
			Path:      filepath.Join(dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: backupTime(e.Name(), info.ModTime()),
		}
		b.Valid = VerifyFile(b.Path) == nil
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// backupTime reads the timestamp from a backup name, falling back to mtime.
func backupTime(name string, mtime time.Time) time.Time {
	base := strings.TrimSuffix(name, ".db")
	if len(base) >= len(backupStamp) {
		if t, err := time.ParseInLocation(backupStamp, base[len(base)-len(backupStamp):], time.Local); err == nil {
			return t
		}
	}
	return mtime
}

// VerifyFile opens path read-only and runs an integrity check.
func VerifyFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup not readable: %w", err)
	}
	// immutable: a backup never has a live -wal beside it.
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&immutable=1", path))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer db.Close()
	return checkIntegrity(db)
}

// EnforceBackupRetention deletes backups in dir older than days relative to
// now and returns how many were removed.
func EnforceBackupRetention(dir string, days int, now time.Time) (int, error) {
	backups, err := ListBackups(dir)
	if err != nil {
		return 0, err
	}
	cutoff := now.AddDate(0, 0, -days)
	removed := 0
	for _, b := range backups {
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			util.WarnLog("Failed to delete old backup %s: %v", b.Name, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		util.InfoLog("Removed %d backups older than %d days", removed, days)
	}
	return removed, nil
}

// RestoreFile replaces the database at dbPath with backupPath. The store at
// dbPath must be closed. A safety copy of the current database is written to
// backupDir first; its path is returned.
func RestoreFile(backupPath, dbPath, backupDir string, now time.Time) (string, error) {
	return replaceDatabase(backupPath, dbPath, backupDir, "pre_restore_", now)
}

// ImportShared replaces the database at dbPath with a shared export, making
// a pre-import copy first.
func ImportShared(src, dbPath, backupDir string, now time.Time) (string, error) {
	return replaceDatabase(src, dbPath, backupDir, "pre_import_", now)
}

func replaceDatabase(src, dbPath, backupDir, safetyPrefix string, now time.Time) (string, error) {
	if err := VerifyFile(src); err != nil {
		return "", fmt.Errorf("refusing to restore from %s: %w", src, err)
	}

	var safety string
	if _, err := os.Stat(dbPath); err == nil {
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create backup directory: %w", err)
		}
		safety = filepath.Join(backupDir, safetyPrefix+now.Format(backupStamp)+".db")
		if err := copyFile(dbPath, safety); err != nil {
			return "", fmt.Errorf("failed to write safety backup: %w", err)
		}
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	if err := copyFile(src, dbPath); err != nil {
		return safety, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	util.InfoLog("Database replaced from %s", src)
	return safety, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Vacuum rebuilds the database file.
func (s *Store) Vacuum() error {
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// ExportForSharing writes a copy of the database to path with playlists,
// notifications and Lidarr state stripped.
func (s *Store) ExportForSharing(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists: %w", path, util.ErrConflict)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(0)", path))
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		`DELETE FROM plex_match_failures`,
		`DELETE FROM playlists`,
		`DELETE FROM manual_playlist_songs`,
		`DELETE FROM manual_playlists`,
		`DELETE FROM playlist_builder_state`,
		`DELETE FROM notification_history`,
		`DELETE FROM notifications`,
		`DELETE FROM ai_playlist_generations`,
		`UPDATE artists SET needs_lidarr_import = 1, lidarr_imported_at = NULL`,
		`VACUUM`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			os.Remove(path)
			return fmt.Errorf("failed to prepare export (%s): %w", stmt, err)
		}
	}
	util.InfoLog("Exported shareable database to %s", path)
	return nil
}

type exportArtist struct {
	MBID             string `json:"mbid"`
	Name             string `json:"name"`
	FirstSeenStation string `json:"first_seen_station,omitempty"`
	FirstSeenAt      string `json:"first_seen_at,omitempty"`
	LastSeenAt       string `json:"last_seen_at,omitempty"`
}

type exportSong struct {
	ArtistMBID  string `json:"artist_mbid"`
	ArtistName  string `json:"artist_name"`
	Title       string `json:"title"`
	FirstSeenAt string `json:"first_seen_at,omitempty"`
	LastSeenAt  string `json:"last_seen_at,omitempty"`
	PlayCount   int    `json:"play_count"`
}

type exportDocument struct {
	ExportedAt string         `json:"exported_at"`
	Artists    []exportArtist `json:"artists"`
	Songs      []exportSong   `json:"songs"`
}

// ExportJSON writes artists and songs as one JSON document and returns the
// number of songs written.
func (s *Store) ExportJSON(w io.Writer) (int, error) {
	doc := exportDocument{ExportedAt: formatTime(s.clock())}

	rows, err := s.db.Query(`
		SELECT mbid, name, COALESCE(first_seen_station, ''), COALESCE(first_seen_at, ''), COALESCE(last_seen_at, '')
		FROM artists ORDER BY name
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to export artists: %w", err)
	}
	for rows.Next() {
		var a exportArtist
		if err := rows.Scan(&a.MBID, &a.Name, &a.FirstSeenStation, &a.FirstSeenAt, &a.LastSeenAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan artist: %w", err)
		}
		doc.Artists = append(doc.Artists, a)
	}
	rows.Close()

	rows, err = s.db.Query(`
		SELECT COALESCE(artist_mbid, ''), artist_name, song_title, COALESCE(first_seen_at, ''),
		       COALESCE(last_seen_at, ''), COALESCE(play_count, 0)
		FROM songs ORDER BY artist_name, song_title
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to export songs: %w", err)
	}
	for rows.Next() {
		var so exportSong
		if err := rows.Scan(&so.ArtistMBID, &so.ArtistName, &so.Title, &so.FirstSeenAt, &so.LastSeenAt, &so.PlayCount); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan song: %w", err)
		}
		doc.Songs = append(doc.Songs, so)
	}
	rows.Close()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(doc.Songs), nil
}

// ImportCounts reports what ImportJSON inserted
type ImportCounts struct {
	Artists int
	Songs   int
}

// ImportJSON loads a document written by ExportJSON. Existing artists and
// songs are kept; song play counts take the larger of the two values.
func (s *Store) ImportJSON(r io.Reader) (ImportCounts, error) {
	var doc exportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ImportCounts{}, fmt.Errorf("failed to decode import: %w", err)
	}

	var counts ImportCounts
	now := formatTime(s.clock())
	err := s.Transaction(func(tx *sql.Tx) error {
		for _, a := range doc.Artists {
			res, err := tx.Exec(`
				INSERT OR IGNORE INTO artists (mbid, name, first_seen_station, first_seen_at, last_seen_at, needs_lidarr_import)
				VALUES (?, ?, (SELECT id FROM stations WHERE id = ?), COALESCE(NULLIF(?, ''), ?), COALESCE(NULLIF(?, ''), ?), 1)
			`, a.MBID, a.Name, a.FirstSeenStation, a.FirstSeenAt, now, a.LastSeenAt, now)
			if err != nil {
				return fmt.Errorf("failed to import artist %s: %w", a.Name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				counts.Artists++
			}
		}
		for _, so := range doc.Songs {
			res, err := tx.Exec(`
				INSERT INTO songs (artist_mbid, artist_name, song_title, first_seen_at, last_seen_at, play_count)
				SELECT ?, ?, ?, COALESCE(NULLIF(?, ''), ?), COALESCE(NULLIF(?, ''), ?), ?
				WHERE EXISTS (SELECT 1 FROM artists WHERE mbid = ?)
				ON CONFLICT(artist_mbid, song_title) DO UPDATE SET
					play_count = MAX(songs.play_count, excluded.play_count)
			`, so.ArtistMBID, so.ArtistName, so.Title, so.FirstSeenAt, now, so.LastSeenAt, now, so.PlayCount, so.ArtistMBID)
			if err != nil {
				return fmt.Errorf("failed to import song %s: %w", so.Title, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				counts.Songs++
			}
		}
		return nil
	})
	if err != nil {
		return ImportCounts{}, err
	}
	return counts, nil
}

// CorruptionReport counts rows removed by CleanupCorruption
type CorruptionReport struct {
	NullMBIDArtists int64
	InvalidNames    int64
	OrphanSongs     int64
	OrphanPlays     int64
	OrphanFailures  int64
	OrphanBuilder   int64
}

// Total returns the number of removed rows.
func (r CorruptionReport) Total() int64 {
	return r.NullMBIDArtists + r.InvalidNames + r.OrphanSongs + r.OrphanPlays + r.OrphanFailures + r.OrphanBuilder
}

// CleanupCorruption removes artists that could never have passed validation
// and rows whose parent no longer exists.
func (s *Store) CleanupCorruption() (CorruptionReport, error) {
	var rep CorruptionReport
	invalid := `SELECT mbid FROM artists WHERE mbid IS NULL OR mbid = ''
		OR length(name) > 100 OR length(name) - length(replace(name, ',', '')) >= 2`
	doomed := `SELECT id FROM songs WHERE artist_mbid IS NULL OR artist_mbid = ''
		OR artist_mbid NOT IN (SELECT mbid FROM artists WHERE mbid IS NOT NULL)
		OR artist_mbid IN (` + invalid + `)`

	err := s.Transaction(func(tx *sql.Tx) error {
		steps := []struct {
			query string
			count *int64
		}{
			{`DELETE FROM song_plays_daily WHERE song_id IN (` + doomed + `) OR song_id NOT IN (SELECT id FROM songs)`, &rep.OrphanPlays},
			{`DELETE FROM plex_match_failures WHERE song_id IN (` + doomed + `) OR song_id NOT IN (SELECT id FROM songs)`, &rep.OrphanFailures},
			{`DELETE FROM playlist_builder_state WHERE song_id IN (` + doomed + `) OR song_id NOT IN (SELECT id FROM songs)`, &rep.OrphanBuilder},
			{`DELETE FROM manual_playlist_songs WHERE song_id IN (` + doomed + `) OR song_id NOT IN (SELECT id FROM songs)`, &rep.OrphanBuilder},
			{`DELETE FROM songs WHERE id IN (` + doomed + `)`, &rep.OrphanSongs},
			{`DELETE FROM artists WHERE mbid IS NULL OR mbid = ''`, &rep.NullMBIDArtists},
			{`DELETE FROM artists WHERE length(name) > 100 OR length(name) - length(replace(name, ',', '')) >= 2`, &rep.InvalidNames},
		}
		for _, st := range steps {
			res, err := tx.Exec(st.query)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			*st.count += n
		}
		return nil
	})
	if err != nil {
		return CorruptionReport{}, fmt.Errorf("failed to clean up corrupted rows: %w", err)
	}
	if rep.Total() > 0 {
		util.InfoLog("Removed %d corrupted or orphaned rows", rep.Total())
	}
	return rep, nil
}
