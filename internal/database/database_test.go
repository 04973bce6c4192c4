package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestDSNFor(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantWAL bool
	}{
		{"nudge.db", "nudge.db?" + pragmas, true},
		{"file:nudge.db?cache=shared", "file:nudge.db?cache=shared&" + pragmas, true},
		{":memory:", ":memory:?" + pragmas, false},
		{"file:test?mode=memory&cache=shared", "file:test?mode=memory&cache=shared&" + pragmas, false},
	}
	for _, tt := range tests {
		got := dsnFor(tt.path)
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("dsnFor(%q) = %q, want prefix %q", tt.path, got, tt.want)
		}
		if hasWAL := strings.Contains(got, "journal_mode(WAL)"); hasWAL != tt.wantWAL {
			t.Errorf("dsnFor(%q) WAL = %v, want %v", tt.path, hasWAL, tt.wantWAL)
		}
		if strings.Count(got, "?") != 1 {
			t.Errorf("dsnFor(%q) = %q, want a single query separator", tt.path, got)
		}
	}
}

func TestOpenFileUsesWAL(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nudge.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO users (username, created_at) VALUES ('alice', CURRENT_TIMESTAMP)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	if n != 0 {
		t.Errorf("users = %d, want 0 after rollback", n)
	}
}
