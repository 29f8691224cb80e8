package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (id TEXT PRIMARY KEY) STRICT;")},
		"20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":   {Data: []byte("CREATE TABLE second (id TEXT PRIMARY KEY) STRICT;")},
		"20260102_000000_second.down.sql": {Data: []byte("DROP TABLE second;")},
		"README.md":                       {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "first") || !tableExists(t, db, "second") {
		t.Fatal("migrations not applied")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d, want 2, 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" {
		t.Errorf("first applied = %q", applied[0].Version)
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "second") {
		t.Error("latest migration not rolled back")
	}
	if !tableExists(t, db, "first") {
		t.Error("earlier migration rolled back")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Name != "second" {
		t.Errorf("pending = %+v, want [second]", pending)
	}
}

func TestMigrateFailureKeepsEarlier(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"20260101_000000_good.up.sql": {Data: []byte("CREATE TABLE good (id TEXT) STRICT;")},
		"20260102_000000_bad.up.sql":  {Data: []byte("CREATE TABLE")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() succeeded with broken SQL")
	}
	if !tableExists(t, db, "good") {
		t.Error("earlier migration not committed")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(context.Background(), nil); err != nil {
		t.Errorf("Migrate(nil) error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"up", "20260301_120000_selection_states.up.sql", "20260301_120000", true, true},
		{"down", "20260301_120000_selection_states.down.sql", "20260301_120000", false, true},
		{"no direction", "20260301_120000_selection_states.sql", "", false, false},
		{"not sql", "20260301_120000_selection_states.up.txt", "", false, false},
		{"no version", "schema.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = %q, %v, %v; want %q, %v, %v",
					tt.filename, version, isUp, ok, tt.wantVersion, tt.wantUp, tt.wantOK)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	if got := extractMigrationName("20260301_120000_selection_states.up.sql"); got != "selection_states" {
		t.Errorf("extractMigrationName() = %q, want selection_states", got)
	}
}
