package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/talenthq/huddle/internal/store"
)

func TestOpenSQLiteAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations.db")

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	closeDB(t, db)

	db, err = OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer closeDB(t, db)

	var count int64
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationBackfillCommitStamps).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected migration recorded exactly once, got %d", count)
	}
}

func TestBackfillCommitStampsFillsZeroRows(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "backfill.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&store.DocumentRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	record := store.DocumentRecord{
		Collection:         "candidates/c1/notes",
		DocID:              "n1",
		DataJSON:           "{}",
		CommitSeq:          1,
		CommittedAtSeconds: 0,
		UpdatedAtSeconds:   1700000000,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	if err := backfillCommitStamps(db); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}

	var reloaded store.DocumentRecord
	if err := db.Where("collection = ? AND doc_id = ?", record.Collection, record.DocID).Take(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload record: %v", err)
	}
	if reloaded.CommittedAtSeconds != 1700000000 {
		t.Fatalf("expected committed stamp backfilled, got %d", reloaded.CommittedAtSeconds)
	}
}

func closeDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close db: %v", err)
	}
}
