package db

import (
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	"penman/cli/internal/db/migration"

	"gorm.io/gorm"
)

func TestOpenSQLiteWithMigrations_CreatesCoreTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sqlDB, err := OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteWithMigrations failed: %v", err)
	}
	defer sqlDB.Close()

	for _, name := range []string{"recent_files", "command_runs"} {
		var got string
		if err := sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&got); err != nil {
			t.Fatalf("missing table %s: %v", name, err)
		}
	}
}

func TestOpenSQLiteWithMigrations_IsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sqlDB, err := OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_ = sqlDB.Close()

	sqlDB, err = OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer sqlDB.Close()

	var n int
	if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='recent_files'`).Scan(&n); err != nil {
		t.Fatalf("count recent_files table failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected recent_files table after second open, got count %d", n)
	}
}

func TestOpenSQLiteWithMigrations_OpensReadableDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sqlDB, err := OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	var value sql.NullString
	if err := sqlDB.QueryRow(`PRAGMA journal_mode;`).Scan(&value); err != nil {
		t.Fatalf("read pragma journal mode failed: %v", err)
	}
	if !value.Valid || value.String == "" {
		t.Fatal("pragma journal mode should not be empty")
	}
}

func TestMigrateUp_DropsBlankRecentPaths(t *testing.T) {
	db := openTestDB(t)
	if err := SyncSchema(db); err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&RecentFile{Path: "  ", FirstOpenedAt: 1, LastOpenedAt: 1, OpenCount: 1}).Error; err != nil {
		t.Fatalf("seed blank row failed: %v", err)
	}
	if err := db.Create(&RecentFile{Path: "/tmp/a", FirstOpenedAt: 1, LastOpenedAt: 1, OpenCount: 1}).Error; err != nil {
		t.Fatalf("seed row failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Fatal(err)
	}
	var n int64
	if err := db.Model(&RecentFile{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected blank row dropped, got %d rows", n)
	}
	if !slices.Contains(migration.Names(), "drop_blank_recent_paths") {
		t.Fatalf("expected registered step, got %v", migration.Names())
	}
}

func TestMigrateUp_CommandRunColumns(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatal(err)
	}
	mustHaveColumns(t, db, "command_runs", []string{
		"id", "line", "dir", "subsystem", "exit_code", "cancelled", "error_text", "duration_ms", "started_at",
	})
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := openSQLite(dbPath)
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func mustHaveColumns(t *testing.T, db *gorm.DB, table string, cols []string) {
	t.Helper()
	for _, col := range cols {
		if !db.Migrator().HasColumn(table, col) {
			t.Fatalf("table %s missing column %s", table, col)
		}
	}
}
