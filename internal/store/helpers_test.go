package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupFileDB opens a file-backed database so concurrent transactions use
// separate connections.
func setupFileDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "nudge.db"))
	if err != nil {
		t.Fatalf("open file db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedUser(t *testing.T, db *sql.DB, username string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(context.Background(), model.User{Username: username, IsActive: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedRoutine(t *testing.T, db *sql.DB, userID int64, name string, intervalHours int) *model.Routine {
	t.Helper()
	r, err := NewRoutineStore(db).Create(context.Background(), model.Routine{
		UserID:            userID,
		Name:              name,
		IntervalHours:     intervalHours,
		UsagePerExecution: 1,
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("create routine: %v", err)
	}
	return r
}

func seedExecution(t *testing.T, db *sql.DB, routineID int64, at time.Time) *model.Execution {
	t.Helper()
	e, err := NewRoutineStore(db).CreateExecution(context.Background(), model.Execution{RoutineID: routineID, ExecutedAt: at})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	return e
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}
