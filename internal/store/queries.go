package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/franz/radio-monitor/internal/normalize"
)

// Page selects one page of a listing
type Page struct {
	Page      int    // 1-based
	Limit     int    // items per page (default 50)
	Sort      string // listing-specific sort key
	Direction string // "asc" or "desc"
}

func (p Page) normalized() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if strings.EqualFold(p.Direction, "desc") {
		p.Direction = "DESC"
	} else {
		p.Direction = "ASC"
	}
	return p
}

// PageResult carries one page of items plus totals
type PageResult[T any] struct {
	Items []T
	Total int
	Page  int
	Pages int
	Limit int
}

func newPageResult[T any](items []T, total int, p Page) PageResult[T] {
	return PageResult[T]{
		Items: items,
		Total: total,
		Page:  p.Page,
		Pages: (total + p.Limit - 1) / p.Limit,
		Limit: p.Limit,
	}
}

// ArtistFilter narrows ArtistsPage
type ArtistFilter struct {
	Search         string
	NeedsImport    string // "", "only" or "imported"
	StationID      string // first-seen station
	FirstSeenAfter time.Time
	LastSeenAfter  time.Time
	TotalPlaysMin  int
	TotalPlaysMax  int
	MBIDStatus     string // "", "pending", "valid" or "none"
}

// ArtistRow is one line of the artist listing
type ArtistRow struct {
	Artist
	TotalPlays int
	SongCount  int
}

var artistSorts = map[string]string{
	"name":        "a.name COLLATE NOCASE",
	"song_count":  "song_count",
	"total_plays": "total_plays",
	"last_seen":   "a.last_seen_at",
	"first_seen":  "a.first_seen_at",
}

// ArtistsPage returns a filtered, sorted page of artists with play totals.
func (s *Store) ArtistsPage(f ArtistFilter, p Page) (PageResult[ArtistRow], error) {
	p = p.normalized()

	var (
		where  []string
		having []string
		args   []any
	)
	if f.Search != "" {
		where = append(where, "a.name LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	switch f.NeedsImport {
	case "only":
		where = append(where, "a.needs_lidarr_import = 1")
	case "imported":
		where = append(where, "a.lidarr_imported_at IS NOT NULL")
	}
	if f.StationID != "" {
		where = append(where, "a.first_seen_station = ?")
		args = append(args, f.StationID)
	}
	if !f.FirstSeenAfter.IsZero() {
		where = append(where, "a.first_seen_at >= ?")
		args = append(args, formatTime(f.FirstSeenAfter))
	}
	if !f.LastSeenAfter.IsZero() {
		where = append(where, "a.last_seen_at >= ?")
		args = append(args, formatTime(f.LastSeenAfter))
	}
	switch f.MBIDStatus {
	case "pending":
		where = append(where, "a.mbid LIKE 'PENDING-%'")
	case "valid":
		where = append(where, "a.mbid NOT LIKE 'PENDING-%' AND a.mbid != ''")
	case "none":
		where = append(where, "(a.mbid IS NULL OR a.mbid = '')")
	}
	if f.TotalPlaysMin > 0 {
		having = append(having, "COALESCE(SUM(s.play_count), 0) >= ?")
		args = append(args, f.TotalPlaysMin)
	}
	if f.TotalPlaysMax > 0 {
		having = append(having, "COALESCE(SUM(s.play_count), 0) <= ?")
		args = append(args, f.TotalPlaysMax)
	}

	base := `FROM artists a LEFT JOIN songs s ON a.mbid = s.artist_mbid`
	if len(where) > 0 {
		base += " WHERE " + strings.Join(where, " AND ")
	}
	base += " GROUP BY a.mbid"
	if len(having) > 0 {
		base += " HAVING " + strings.Join(having, " AND ")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM (SELECT a.mbid `+base+`)`, args...).Scan(&total); err != nil {
		return PageResult[ArtistRow]{}, fmt.Errorf("failed to count artists: %w", err)
	}

	order, ok := artistSorts[p.Sort]
	if !ok {
		order = artistSorts["name"]
	}
	query := `SELECT a.mbid, a.name, COALESCE(a.first_seen_station, ''), a.first_seen_at, a.last_seen_at,
			COALESCE(a.needs_lidarr_import, 1), a.lidarr_imported_at,
			COALESCE(SUM(s.play_count), 0) AS total_plays, COUNT(s.id) AS song_count ` +
		base + ` ORDER BY ` + order + ` ` + p.Direction + `, a.mbid LIMIT ? OFFSET ?`

	rows, err := s.db.Query(query, append(args, p.Limit, (p.Page-1)*p.Limit)...)
	if err != nil {
		return PageResult[ArtistRow]{}, fmt.Errorf("failed to query artists: %w", err)
	}
	defer rows.Close()

	var items []ArtistRow
	for rows.Next() {
		var r ArtistRow
		a, err := scanArtist(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &r.TotalPlays, &r.SongCount)...)
		}))
		if err != nil {
			return PageResult[ArtistRow]{}, fmt.Errorf("failed to scan artist: %w", err)
		}
		r.Artist = *a
		r.Name = normalize.DisplayName(r.Name)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return PageResult[ArtistRow]{}, err
	}
	return newPageResult(items, total, p), nil
}

// scanFunc adapts a closure to rowScanner so scan helpers can read extra columns.
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// SongFilter narrows SongsPage
type SongFilter struct {
	Search         string
	ArtistName     string
	StationID      string
	PlaysMin       int
	PlaysMax       int
	LastSeenAfter  time.Time
	LastSeenBefore time.Time
}

var songSorts = map[string]string{
	"title":       "s.song_title COLLATE NOCASE",
	"artist_name": "s.artist_name COLLATE NOCASE",
	"play_count":  "s.play_count",
	"last_seen":   "s.last_seen_at",
	"first_seen":  "s.first_seen_at",
}

// SongsPage returns a filtered, sorted page of songs.
func (s *Store) SongsPage(f SongFilter, p Page) (PageResult[Song], error) {
	p = p.normalized()

	var (
		where []string
		args  []any
	)
	if f.Search != "" {
		where = append(where, "(s.song_title LIKE ? OR s.artist_name LIKE ?)")
		args = append(args, "%"+f.Search+"%", "%"+f.Search+"%")
	}
	if f.ArtistName != "" {
		where = append(where, "s.artist_name = ?")
		args = append(args, f.ArtistName)
	}
	if f.StationID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM song_plays_daily d WHERE d.song_id = s.id AND d.station_id = ?)")
		args = append(args, f.StationID)
	}
	if f.PlaysMin > 0 {
		where = append(where, "s.play_count >= ?")
		args = append(args, f.PlaysMin)
	}
	if f.PlaysMax > 0 {
		where = append(where, "s.play_count <= ?")
		args = append(args, f.PlaysMax)
	}
	if !f.LastSeenAfter.IsZero() {
		where = append(where, "s.last_seen_at >= ?")
		args = append(args, formatTime(f.LastSeenAfter))
	}
	if !f.LastSeenBefore.IsZero() {
		where = append(where, "s.last_seen_at <= ?")
		args = append(args, formatTime(f.LastSeenBefore))
	}

	base := "FROM songs s"
	if len(where) > 0 {
		base += " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) `+base, args...).Scan(&total); err != nil {
		return PageResult[Song]{}, fmt.Errorf("failed to count songs: %w", err)
	}

	order, ok := songSorts[p.Sort]
	if !ok {
		order = songSorts["title"]
	}
	items, err := s.querySongs(`SELECT s.id, COALESCE(s.artist_mbid, ''), s.artist_name, s.song_title,
			s.first_seen_at, s.last_seen_at, COALESCE(s.play_count, 0) `+base+
		` ORDER BY `+order+` `+p.Direction+`, s.id LIMIT ? OFFSET ?`,
		append(args, p.Limit, (p.Page-1)*p.Limit)...)
	if err != nil {
		return PageResult[Song]{}, err
	}
	for i := range items {
		items[i].ArtistName = normalize.DisplayName(items[i].ArtistName)
	}
	return newPageResult(items, total, p), nil
}

// SongQuery selects playlist candidates. Plays are summed from the hourly
// buckets that fall inside the station and day filters, and the play-count
// range applies to that sum.
type SongQuery struct {
	StationIDs     []string // empty means all stations
	Days           int      // 0 means all time
	MinPlays       int
	MaxPlays       int // 0 means no maximum
	Limit          int
	ExcludeBlocked bool
}

// RankedSong is a song with the play total its query computed
type RankedSong struct {
	ID         int64
	Title      string
	ArtistName string
	ArtistMBID string
	Plays      int
}

func (s *Store) rankedSongs(q SongQuery, order string) ([]RankedSong, error) {
	var (
		where []string
		args  []any
	)
	if len(q.StationIDs) > 0 {
		where = append(where, "d.station_id IN ("+placeholders(len(q.StationIDs))+")")
		for _, id := range q.StationIDs {
			args = append(args, id)
		}
	}
	if q.Days > 0 {
		where = append(where, "d.date >= ?")
		args = append(args, s.clock().AddDate(0, 0, -q.Days).Format(dateLayout))
	}
	if q.ExcludeBlocked {
		where = append(where, blocklistFilter)
	}

	query := `SELECT s.id, s.song_title, s.artist_name, COALESCE(s.artist_mbid, ''), SUM(d.play_count) AS total_plays
		FROM song_plays_daily d
		JOIN songs s ON d.song_id = s.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY s.id HAVING total_plays >= ?"
	args = append(args, max(q.MinPlays, 1))
	if q.MaxPlays > 0 {
		query += " AND total_plays <= ?"
		args = append(args, q.MaxPlays)
	}
	query += " ORDER BY " + order
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	var out []RankedSong
	for rows.Next() {
		var r RankedSong
		if err := rows.Scan(&r.ID, &r.Title, &r.ArtistName, &r.ArtistMBID, &r.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopSongs returns the most played songs.
func (s *Store) TopSongs(q SongQuery) ([]RankedSong, error) {
	return s.rankedSongs(q, "total_plays DESC, s.id")
}

// RecentSongs returns the most recently heard songs.
func (s *Store) RecentSongs(q SongQuery) ([]RankedSong, error) {
	return s.rankedSongs(q, "MAX(d.date || printf(' %02d:%02d', d.hour, COALESCE(d.minute, 0))) DESC, s.id")
}

// RandomSongs returns a random sample.
func (s *Store) RandomSongs(q SongQuery) ([]RankedSong, error) {
	return s.rankedSongs(q, "RANDOM()")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// ArtistPlays is an artist's play total over a window
type ArtistPlays struct {
	Name  string
	MBID  string
	Plays int
}

// TopArtists returns artists ranked by summed plays with the same filters as
// TopSongs.
func (s *Store) TopArtists(q SongQuery) ([]ArtistPlays, error) {
	var (
		where []string
		args  []any
	)
	if len(q.StationIDs) > 0 {
		where = append(where, "d.station_id IN ("+placeholders(len(q.StationIDs))+")")
		for _, id := range q.StationIDs {
			args = append(args, id)
		}
	}
	if q.Days > 0 {
		where = append(where, "d.date >= ?")
		args = append(args, s.clock().AddDate(0, 0, -q.Days).Format(dateLayout))
	}
	query := `SELECT a.name, a.mbid, SUM(d.play_count) AS total_plays
		FROM song_plays_daily d
		JOIN songs s ON d.song_id = s.id
		JOIN artists a ON a.mbid = s.artist_mbid`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY a.mbid ORDER BY total_plays DESC, a.name COLLATE NOCASE LIMIT ?"
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top artists: %w", err)
	}
	defer rows.Close()

	var out []ArtistPlays
	for rows.Next() {
		var a ArtistPlays
		if err := rows.Scan(&a.Name, &a.MBID, &a.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentPlay is one hour bucket in the live feed
type RecentPlay struct {
	Timestamp   time.Time
	ArtistName  string
	SongTitle   string
	StationID   string
	StationName string
}

// RecentPlays returns the latest plays, optionally for one station.
func (s *Store) RecentPlays(limit int, stationID string) ([]RecentPlay, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT d.date, d.hour, COALESCE(d.minute, 0), a.name, s.song_title, d.station_id, COALESCE(st.name, d.station_id)
		FROM song_plays_daily d
		JOIN songs s ON d.song_id = s.id
		JOIN artists a ON s.artist_mbid = a.mbid
		LEFT JOIN stations st ON d.station_id = st.id`
	args := []any{}
	if stationID != "" {
		query += ` WHERE d.station_id = ?`
		args = append(args, stationID)
	}
	query += ` ORDER BY d.date DESC, d.hour DESC, d.minute DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent plays: %w", err)
	}
	defer rows.Close()

	var out []RecentPlay
	for rows.Next() {
		var (
			p            RecentPlay
			date         string
			hour, minute int
		)
		if err := rows.Scan(&date, &hour, &minute, &p.ArtistName, &p.SongTitle, &p.StationID, &p.StationName); err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		if d, err := time.ParseInLocation(dateLayout, date, time.Local); err == nil {
			p.Timestamp = d.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DayPlays is the play total for one date
type DayPlays struct {
	Date  string
	Plays int
}

// DailyPlays returns per-day play totals for the last days, oldest first.
func (s *Store) DailyPlays(days int, stationID string) ([]DayPlays, error) {
	query := `SELECT date, SUM(play_count) FROM song_plays_daily WHERE date >= ?`
	args := []any{s.clock().AddDate(0, 0, -days).Format(dateLayout)}
	if stationID != "" {
		query += ` AND station_id = ?`
		args = append(args, stationID)
	}
	query += ` GROUP BY date ORDER BY date`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily plays: %w", err)
	}
	defer rows.Close()

	var out []DayPlays
	for rows.Next() {
		var d DayPlays
		if err := rows.Scan(&d.Date, &d.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan daily plays: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// StationPlays is a station's share of plays
type StationPlays struct {
	StationID   string
	StationName string
	Plays       int
}

// StationDistribution returns play totals per station. days <= 0 means all time.
func (s *Store) StationDistribution(days int) ([]StationPlays, error) {
	query := `SELECT st.id, st.name, SUM(d.play_count) AS plays
		FROM song_plays_daily d
		JOIN stations st ON d.station_id = st.id`
	args := []any{}
	if days > 0 {
		query += ` WHERE d.date >= ?`
		args = append(args, s.clock().AddDate(0, 0, -days).Format(dateLayout))
	}
	query += ` GROUP BY st.id ORDER BY plays DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query station distribution: %w", err)
	}
	defer rows.Close()

	var out []StationPlays
	for rows.Next() {
		var sp StationPlays
		if err := rows.Scan(&sp.StationID, &sp.StationName, &sp.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan station plays: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// Stats holds database-wide counts
type Stats struct {
	Artists         int
	PendingArtists  int
	Songs           int
	Plays           int
	PlaysToday      int
	Stations        int
	EnabledStations int
}

// Stats returns database-wide counts.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{}
	today := s.clock().Format(dateLayout)
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM artists),
			(SELECT COUNT(*) FROM artists WHERE mbid LIKE 'PENDING-%'),
			(SELECT COUNT(*) FROM songs),
			(SELECT COALESCE(SUM(play_count), 0) FROM songs),
			(SELECT COALESCE(SUM(play_count), 0) FROM song_plays_daily WHERE date = ?),
			(SELECT COUNT(*) FROM stations),
			(SELECT COUNT(*) FROM stations WHERE enabled = 1)
	`, today).Scan(&st.Artists, &st.PendingArtists, &st.Songs, &st.Plays, &st.PlaysToday, &st.Stations, &st.EnabledStations)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return st, nil
}
