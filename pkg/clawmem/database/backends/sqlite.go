// Package backends opens and maintains the embedded SQLite database that
// holds the memory index.
package backends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Registers vec0 for every connection opened by go-sqlite3.
	sqlite_vec.Auto()
}

// SQLiteBackend wraps the SQLite database connection with additional functionality.
type SQLiteBackend struct {
	DB     *sql.DB
	Config SQLiteConfig

	// Migrator handles schema migrations
	Migrator *SQLiteMigrator

	// Health checker
	Health *SQLiteHealthChecker
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	Synchronous string
	BusyTimeout int

	// MmapSize is the PRAGMA mmap_size in bytes.
	MmapSize int64
	// CacheSizeKiB is the page cache size; applied as a negative cache_size.
	CacheSizeKiB int
}

// DefaultSQLiteConfig returns throughput-oriented settings for the index file.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:         path,
		JournalMode:  "WAL",
		Synchronous:  "NORMAL",
		BusyTimeout:  5000,
		MmapSize:     256 << 20,
		CacheSizeKiB: 64 << 10,
	}
}

// OpenSQLite opens or creates a SQLite database with the given configuration.
// The pool is pinned to a single connection.
func OpenSQLite(config SQLiteConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		config.Path = "./data/memory.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	if config.Path != ":memory:" {
		dir := filepath.Dir(config.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{"PRAGMA temp_store = MEMORY"}
	if config.MmapSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size = %d", config.MmapSize))
	}
	if config.CacheSizeKiB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = -%d", config.CacheSizeKiB))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return &SQLiteBackend{
		DB:       db,
		Config:   config,
		Migrator: NewSQLiteMigrator(db),
		Health:   NewSQLiteHealthChecker(db),
	}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.DB.Close()
}

// Migration is one versioned schema step. Statements run in order inside a
// transaction.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// SQLiteMigrator handles schema migrations for SQLite.
type SQLiteMigrator struct {
	db *sql.DB
}

// NewSQLiteMigrator creates a new SQLite migrator.
func NewSQLiteMigrator(db *sql.DB) *SQLiteMigrator {
	return &SQLiteMigrator{db: db}
}

func (m *SQLiteMigrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	return nil
}

// CurrentVersion returns the highest applied schema version, 0 when none.
func (m *SQLiteMigrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, err
	}
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every migration newer than the current version. It returns
// the versions applied.
func (m *SQLiteMigrator) Migrate(ctx context.Context, migrations []Migration) ([]int, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return applied, err
		}
		applied = append(applied, mig.Version)
		current = mig.Version
	}
	return applied, nil
}

func (m *SQLiteMigrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", mig.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range mig.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	_, err = tx.ExecContext(ctx, "INSERT INTO schema_version (version, name) VALUES (?, ?)", mig.Version, mig.Name)
	if err != nil && !isDuplicateKeyError(err) {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}

// NeedsMigration reports whether any migration is newer than the database.
func (m *SQLiteMigrator) NeedsMigration(ctx context.Context, migrations []Migration) (bool, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	for _, mig := range migrations {
		if mig.Version > current {
			return true, nil
		}
	}
	return false, nil
}

// SQLiteHealthChecker monitors SQLite database health.
type SQLiteHealthChecker struct {
	db *sql.DB
}

// NewSQLiteHealthChecker creates a new health checker.
func NewSQLiteHealthChecker(db *sql.DB) *SQLiteHealthChecker {
	return &SQLiteHealthChecker{db: db}
}

// Ping checks database connectivity.
func (h *SQLiteHealthChecker) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// VecVersion returns the loaded sqlite-vec version, or "" when vec0 is
// unavailable.
func (h *SQLiteHealthChecker) VecVersion(ctx context.Context) string {
	var v string
	if err := h.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&v); err != nil {
		return ""
	}
	return v
}

// FTS5Enabled reports whether the linked SQLite was compiled with FTS5.
func (h *SQLiteHealthChecker) FTS5Enabled(ctx context.Context) bool {
	var used int
	err := h.db.QueryRowContext(ctx, "SELECT sqlite_compileoption_used('ENABLE_FTS5')").Scan(&used)
	return err == nil && used == 1
}

// Status returns detailed health status.
func (h *SQLiteHealthChecker) Status(ctx context.Context) (map[string]any, error) {
	if err := h.db.PingContext(ctx); err != nil {
		return map[string]any{"healthy": false, "error": err.Error()}, err
	}
	stats := h.db.Stats()

	var version string
	if err := h.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		version = "unknown"
	}

	var pageCount, pageSize int64
	_ = h.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	_ = h.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)

	var journal string
	_ = h.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal)

	return map[string]any{
		"healthy":          true,
		"version":          version,
		"vec_version":      h.VecVersion(ctx),
		"fts5":             h.FTS5Enabled(ctx),
		"journal_mode":     journal,
		"size_bytes":       pageCount * pageSize,
		"open_conns":       stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
		"max_open_conns":   stats.MaxOpenConnections,
	}, nil
}

// IsMissingModule reports whether err comes from using a virtual table
// module (fts5, vec0) that is not compiled in or not loaded.
func IsMissingModule(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such module") || strings.Contains(msg, "no such function")
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || msg == "constraint failed"
}
