package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	"iptv-gateway/work/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrNotFound = errors.New("record not found")

// DB wraps the sql.DB holding the catalog mirror.
type DB struct {
	*sql.DB
	path   string
	logger *logger.Logger
}

// Open opens (creating if needed) the SQLite mirror in WAL mode and applies
// pending migrations.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=synchronous(normal)" +
		"&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{
		DB:     db,
		path:   dbPath,
		logger: logger.Default().With("database"),
	}

	if err := wrapper.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	wrapper.logger.Info("{database - Open} SQLite mirror opened at %s", dbPath)
	return wrapper, nil
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// "001_initial_schema.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("bad migration name %s: %w", entry.Name(), err)
		}

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		content, err := migrations.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", entry.Name(), err)
		}

		db.logger.Info("{database - migrate} Applied migration: %s", entry.Name())
	}

	return nil
}

// Close closes the underlying SQLite handle.
func (db *DB) Close() error {
	db.logger.Debug("{database - Close} Closing database connection")
	return db.DB.Close()
}

// Vacuum compacts the database file after large replacements.
func (db *DB) Vacuum(ctx context.Context) error {
	db.logger.Debug("{database - Vacuum} Running VACUUM")
	_, err := db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats summarises mirror contents.
type Stats struct {
	Playlists  int   `json:"playlists"`
	Categories int   `json:"categories"`
	Movies     int   `json:"movies"`
	Series     int   `json:"series"`
	Live       int   `json:"live"`
	SizeBytes  int64 `json:"sizeBytes"`
}

// GetStats counts the rows of every mirror table and reports the file size
// from SQLite's page count and page size.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"playlists", &stats.Playlists},
		{"categories", &stats.Categories},
		{SectionMovies.table(), &stats.Movies},
		{SectionSeries.table(), &stats.Series},
		{SectionLive.table(), &stats.Live},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return Stats{}, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return Stats{}, fmt.Errorf("failed to get page size: %w", err)
	}
	stats.SizeBytes = pageCount * pageSize

	return stats, nil
}
