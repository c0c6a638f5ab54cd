package backends

import (
	"context"
	"path/filepath"
	"testing"
)

var testMigrations = []Migration{
	{
		Version: 1,
		Name:    "notes",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS notes (id TEXT PRIMARY KEY, body TEXT NOT NULL)`,
		},
	},
	{
		Version: 2,
		Name:    "notes_index",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_notes_body ON notes(body)`,
		},
	},
}

func openTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := OpenSQLite(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "sub", "test.db")))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestOpenSQLite(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)

	if backend.DB == nil {
		t.Fatal("DB is nil")
	}
	if got := backend.DB.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}

	var mode string
	if err := backend.DB.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var tempStore int
	if err := backend.DB.QueryRow("PRAGMA temp_store").Scan(&tempStore); err != nil {
		t.Fatalf("temp_store: %v", err)
	}
	if tempStore != 2 {
		t.Errorf("temp_store = %d, want 2 (MEMORY)", tempStore)
	}
}

func TestSQLiteBackend_Migration(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)
	ctx := context.Background()

	needs, err := backend.Migrator.NeedsMigration(ctx, testMigrations)
	if err != nil {
		t.Fatalf("NeedsMigration failed: %v", err)
	}
	if !needs {
		t.Fatal("expected migration to be needed on a fresh database")
	}

	applied, err := backend.Migrator.Migrate(ctx, testMigrations)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %v, want 2 versions", applied)
	}

	version, err := backend.Migrator.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	// Second run is a no-op.
	applied, err = backend.Migrator.Migrate(ctx, testMigrations)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second run applied %v, want none", applied)
	}

	needs, _ = backend.Migrator.NeedsMigration(ctx, testMigrations)
	if needs {
		t.Error("expected no migration needed after running migrations")
	}
}

func TestSQLiteBackend_MigrationRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)
	ctx := context.Background()

	broken := []Migration{{
		Version: 1,
		Name:    "broken",
		Statements: []string{
			`CREATE TABLE half (id INTEGER)`,
			`THIS IS NOT SQL`,
		},
	}}
	if _, err := backend.Migrator.Migrate(ctx, broken); err == nil {
		t.Fatal("expected error from broken migration")
	}

	version, err := backend.Migrator.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0", version)
	}

	var n int
	_ = backend.DB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'`).Scan(&n)
	if n != 0 {
		t.Error("table from failed migration should have been rolled back")
	}
}

func TestSQLiteBackend_Health(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)
	ctx := context.Background()

	if err := backend.Health.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	status, err := backend.Health.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if healthy, ok := status["healthy"].(bool); !ok || !healthy {
		t.Errorf("expected healthy=true, got %v", status["healthy"])
	}
	if v, _ := status["version"].(string); v == "" || v == "unknown" {
		t.Errorf("unexpected sqlite version %q", v)
	}
	if backend.Health.VecVersion(ctx) == "" {
		t.Error("expected sqlite-vec to be registered")
	}
}

func TestIsMissingModule(t *testing.T) {
	t.Parallel()
	backend := openTestBackend(t)

	_, err := backend.DB.Exec(`CREATE VIRTUAL TABLE x USING does_not_exist(a)`)
	if !IsMissingModule(err) {
		t.Errorf("IsMissingModule(%v) = false, want true", err)
	}
	if IsMissingModule(nil) {
		t.Error("IsMissingModule(nil) = true")
	}
}
