package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyRunsMigrationsInOrder(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"0002_add_column.sql": {Data: []byte("ALTER TABLE items ADD COLUMN note TEXT;")},
		"0001_create.sql":     {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
		"ignore_me.txt":       {Data: []byte("not sql")},
		"0003_blank_noop.sql": {Data: []byte("   ")},
	}

	if err := Apply(db, fsys); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := db.Exec("INSERT INTO items (id, note) VALUES ('a', 'hi')"); err != nil {
		t.Fatalf("expected migrated schema usable: %v", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if applied != 2 {
		t.Fatalf("ledger entries = %d, want 2", applied)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"0001_create.sql": {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
	}

	if err := Apply(db, fsys); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := Apply(db, fsys); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestApplyRollsBackFailedMigration(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"0001_broken.sql": {Data: []byte("CREATE BROKEN SYNTAX;")},
	}

	if err := Apply(db, fsys); err == nil {
		t.Fatal("expected broken migration to fail")
	}
	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if applied != 0 {
		t.Fatalf("ledger entries = %d, want 0 after rollback", applied)
	}
}
