package service

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"planner-sync/internal/model"
	"planner-sync/internal/repository"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
)

func setupTestStore(t *testing.T) *repository.Store {
	t.Helper()
	store, _ := setupTestStoreAt(t)
	return store
}

// setupTestStoreAt also returns the database file so tests can tamper with it.
func setupTestStoreAt(t *testing.T) (*repository.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := repository.Open(repository.Options{
		DSN:          path,
		MaxOpenConns: 1,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

// failInserts makes every insert into table abort, the way a full disk would.
func failInserts(t *testing.T, path, table string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	defer sqlDB.Close()

	stmt := "CREATE TRIGGER fail_" + table + " BEFORE INSERT ON " + table +
		" BEGIN SELECT RAISE(ABORT, 'database or disk is full'); END"
	if err := db.Exec(stmt).Error; err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func date(t *testing.T, s string) datatypes.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func datePtr(t *testing.T, s string) *datatypes.Date {
	t.Helper()
	d := date(t, s)
	return &d
}

// seedRecurring pushes a plan and a Mon|Wed|Fri task running 2024-01-01..2024-01-10.
func seedRecurring(t *testing.T, store *repository.Store, actor string) (planID, taskID string) {
	t.Helper()
	planID, taskID = NewID(), NewID()
	modified := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	svc := NewSyncService(store)
	_, err := svc.Push(context.Background(), actor, PushBatch{
		Plans: []PlanRecord{{ID: planID, Title: "Training", LastModified: modified}},
		Tasks: []TaskRecord{{
			ID:           taskID,
			PlanID:       planID,
			Title:        "Run",
			IsRecurring:  true,
			RepeatDays:   int(model.MaskOf(time.Monday, time.Wednesday, time.Friday)),
			StartDate:    datePtr(t, "2024-01-01"),
			EndDate:      datePtr(t, "2024-01-10"),
			LastModified: modified,
		}},
	})
	if err != nil {
		t.Fatalf("seed push: %v", err)
	}
	return planID, taskID
}
