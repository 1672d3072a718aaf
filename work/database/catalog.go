package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	regexp "github.com/grafana/regexp"
)

// Section is one catalog namespace of the mirror.
type Section string

const (
	SectionMovies Section = "movies"
	SectionSeries Section = "series"
	SectionLive   Section = "live"
)

// Sections lists every section in sync order.
var Sections = []Section{SectionMovies, SectionSeries, SectionLive}

// ParseSection accepts the section names used in routes.
func ParseSection(s string) (Section, bool) {
	switch s {
	case "movies", "movie", "vod":
		return SectionMovies, true
	case "series":
		return SectionSeries, true
	case "live", "channels":
		return SectionLive, true
	}
	return "", false
}

func (s Section) table() string {
	switch s {
	case SectionSeries:
		return "series"
	case SectionLive:
		return "live_channels"
	default:
		return "movies"
	}
}

// Title is one mirrored catalog row. Fields that do not apply to a section
// are left empty.
type Title struct {
	PlaylistID         int       `json:"playlistId"`
	StreamID           string    `json:"streamId"`
	Name               string    `json:"name"`
	CategoryID         string    `json:"categoryId,omitempty"`
	Icon               string    `json:"icon,omitempty"`
	ContainerExtension string    `json:"containerExtension,omitempty"`
	DirectSource       string    `json:"directSource,omitempty"`
	Rating             string    `json:"rating,omitempty"`
	Added              string    `json:"added,omitempty"`
	EpgChannelID       string    `json:"epgChannelId,omitempty"`
	Plot               string    `json:"plot,omitempty"`
	Genre              string    `json:"genre,omitempty"`
	SyncedAt           time.Time `json:"syncedAt"`
}

type Category struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID string  `json:"parentId,omitempty"`
	Section  Section `json:"section,omitempty"` // set on read
}

// PlaylistRecord is the mirrored view of a configured playlist. Passwords
// are never stored.
type PlaylistRecord struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	BaseURL    string     `json:"-"`
	Username   string     `json:"-"`
	LastSynced *time.Time `json:"lastSynced,omitempty"`
}

const titleColumns = `playlist_id, stream_id, name, category_id, icon, container_extension,
	direct_source, rating, added, epg_channel_id, plot, genre, synced_at`

// UpsertPlaylist records a configured playlist, keeping its last-synced time
// when the row already exists.
func (db *DB) UpsertPlaylist(ctx context.Context, p PlaylistRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO playlists (id, name, base_url, username, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_url = excluded.base_url,
			username = excluded.username,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Name, p.BaseURL, p.Username)
	if err != nil {
		return fmt.Errorf("failed to save playlist %d: %w", p.ID, err)
	}
	return nil
}

// MarkSynced stamps a playlist after a complete sync.
func (db *DB) MarkSynced(ctx context.Context, playlistID int, at time.Time) error {
	_, err := db.ExecContext(ctx, "UPDATE playlists SET last_synced = ? WHERE id = ?", at.UTC().Format(time.RFC3339Nano), playlistID)
	return err
}

// ListPlaylists returns every mirrored playlist ordered by id.
func (db *DB) ListPlaylists(ctx context.Context) ([]PlaylistRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, name, base_url, username, last_synced FROM playlists ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()

	var out []PlaylistRecord
	for rows.Next() {
		var p PlaylistRecord
		var synced sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &p.Username, &synced); err != nil {
			return nil, err
		}
		if t := parseTime(synced.String); synced.Valid && !t.IsZero() {
			p.LastSynced = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceCategories swaps the categories of one playlist section.
func (db *DB) ReplaceCategories(ctx context.Context, playlistID int, section Section, cats []Category) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE playlist_id = ? AND section = ?", playlistID, string(section)); err != nil {
		return fmt.Errorf("failed to clear categories: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO categories (playlist_id, section, category_id, name, parent_id)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cats {
		if _, err := stmt.ExecContext(ctx, playlistID, string(section), c.ID, c.Name, c.ParentID); err != nil {
			return fmt.Errorf("failed to insert category %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListCategories returns the mirrored categories of one section ordered by
// name.
func (db *DB) ListCategories(ctx context.Context, playlistID int, section Section) ([]Category, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT category_id, name, parent_id FROM categories
		WHERE playlist_id = ? AND section = ? ORDER BY name`, playlistID, string(section))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, err
		}
		c.Section = section
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceTitles swaps every row of one playlist section in a single
// transaction so readers never see a half-synced section.
func (db *DB) ReplaceTitles(ctx context.Context, playlistID int, section Section, titles []Title) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+section.table()+" WHERE playlist_id = ?", playlistID); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", section, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO "+section.table()+" ("+titleColumns+
		") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, t := range titles {
		_, err := stmt.ExecContext(ctx, playlistID, t.StreamID, t.Name, t.CategoryID, t.Icon,
			t.ContainerExtension, t.DirectSource, t.Rating, t.Added, t.EpgChannelID, t.Plot, t.Genre, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert %s %s: %w", section, t.StreamID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit %s: %w", section, err)
	}
	return len(titles), nil
}

// ListTitles returns one page of a section ordered by name, plus the total
// row count. categoryID filters when non-empty.
func (db *DB) ListTitles(ctx context.Context, playlistID int, section Section, categoryID string, offset, limit int) ([]Title, int, error) {
	where := " WHERE playlist_id = ?"
	args := []any{playlistID}
	if categoryID != "" {
		where += " AND category_id = ?"
		args = append(args, categoryID)
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+section.table()+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", section, err)
	}

	rows, err := db.QueryContext(ctx, "SELECT "+titleColumns+" FROM "+section.table()+where+
		" ORDER BY name COLLATE NOCASE LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", section, err)
	}
	defer rows.Close()

	titles, _, err := scanTitles(rows, nil, 0, 0)
	return titles, total, err
}

// SearchTitles pages through the titles whose name matches pattern the same
// way ListTitles pages through a section: up to limit matches after skipping
// offset, plus the number of matches overall. The pattern is applied in Go
// because SQLite has no regexp function.
func (db *DB) SearchTitles(ctx context.Context, playlistID int, section Section, pattern *regexp.Regexp, offset, limit int) ([]Title, int, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+titleColumns+" FROM "+section.table()+
		" WHERE playlist_id = ? ORDER BY name COLLATE NOCASE", playlistID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search %s: %w", section, err)
	}
	defer rows.Close()

	return scanTitles(rows, pattern, offset, limit)
}

// GetTitle returns one title by stream id or ErrNotFound.
func (db *DB) GetTitle(ctx context.Context, playlistID int, section Section, streamID string) (Title, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+titleColumns+" FROM "+section.table()+
		" WHERE playlist_id = ? AND stream_id = ?", playlistID, streamID)
	if err != nil {
		return Title{}, err
	}
	defer rows.Close()

	titles, _, err := scanTitles(rows, nil, 0, 1)
	if err != nil {
		return Title{}, err
	}
	if len(titles) == 0 {
		return Title{}, fmt.Errorf("%w: %s %s", ErrNotFound, section, streamID)
	}
	return titles[0], nil
}

// scanTitles reads rows and keeps those whose name matches pattern (all when
// nil). The first offset matches are skipped and at most limit are kept (no
// limit when <= 0). matched counts every match, kept or not.
func scanTitles(rows *sql.Rows, pattern *regexp.Regexp, offset, limit int) (out []Title, matched int, err error) {
	for rows.Next() {
		var t Title
		var synced sql.NullString
		err := rows.Scan(&t.PlaylistID, &t.StreamID, &t.Name, &t.CategoryID, &t.Icon, &t.ContainerExtension,
			&t.DirectSource, &t.Rating, &t.Added, &t.EpgChannelID, &t.Plot, &t.Genre, &synced)
		if err != nil {
			return nil, 0, err
		}
		if pattern != nil && !pattern.MatchString(t.Name) {
			continue
		}
		matched++
		if matched <= offset || (limit > 0 && len(out) >= limit) {
			continue
		}
		t.SyncedAt = parseTime(synced.String)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, err
	}
	return out, matched, nil
}

// timeLayouts covers the driver's RFC 3339 encoding and SQLite's
// CURRENT_TIMESTAMP format.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SearchPattern compiles a user query into a case-insensitive pattern. A
// query that is not a valid expression is matched literally.
func SearchPattern(q string) *regexp.Regexp {
	if re, err := regexp.Compile("(?i)" + q); err == nil {
		return re
	}
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(q))
}
