package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/nudge/internal/model"
)

func TestUserCreateDefaults(t *testing.T) {
	db := setupTestDB(t)
	u := seedUser(t, db, "alice")

	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if u.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", u.Timezone)
	}
	if u.DailyDigestTime != "08:30" {
		t.Errorf("daily_digest_time = %q, want 08:30", u.DailyDigestTime)
	}
	if u.Language != "en" {
		t.Errorf("language = %q, want en", u.Language)
	}
	if !u.IsActive {
		t.Error("expected active user")
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	us := NewUserStore(setupTestDB(t))

	if _, err := us.GetByID(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUserListActivePaging(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)
	ctx := context.Background()

	a := seedUser(t, db, "a")
	b := seedUser(t, db, "b")
	c := seedUser(t, db, "c")
	if _, err := us.Create(ctx, model.User{Username: "inactive"}); err != nil {
		t.Fatalf("create inactive: %v", err)
	}

	page, err := us.ListActive(ctx, 0, 2)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(page) != 2 || page[0].ID != a.ID || page[1].ID != b.ID {
		t.Fatalf("first page = %+v, want users a and b", page)
	}

	page, err = us.ListActive(ctx, page[1].ID, 2)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(page) != 1 || page[0].ID != c.ID {
		t.Fatalf("second page = %+v, want only user c", page)
	}

	page, err = us.ListActive(ctx, c.ID, 2)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected empty final page, got %d", len(page))
	}
}

func TestUserUpdatePreferences(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)
	u := seedUser(t, db, "alice")

	got, err := us.UpdatePreferences(context.Background(), u.ID, "Europe/Madrid", "07:15", "gl")
	if err != nil {
		t.Fatalf("update preferences: %v", err)
	}
	if got.Timezone != "Europe/Madrid" || got.DailyDigestTime != "07:15" || got.Language != "gl" {
		t.Errorf("preferences = %q %q %q", got.Timezone, got.DailyDigestTime, got.Language)
	}

	if _, err := us.UpdatePreferences(context.Background(), 999, "UTC", "08:00", "en"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUserSetActive(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)
	ctx := context.Background()
	u := seedUser(t, db, "alice")

	if err := us.SetActive(ctx, u.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	page, err := us.ListActive(ctx, 0, 10)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected no active users, got %d", len(page))
	}
}
