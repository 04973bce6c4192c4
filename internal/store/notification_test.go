package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/nudge/internal/gate"
	"github.com/dukerupert/nudge/internal/model"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	ctx := context.Background()
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	st, err := ns.GetOrCreate(ctx, r.ID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if st.LastDueSent != nil || st.LastReminderSent != nil || st.LastDailyDigest != "" {
		t.Errorf("expected empty state, got %+v", st)
	}
	if _, err := ns.GetOrCreate(ctx, r.ID); err != nil {
		t.Fatalf("second get or create: %v", err)
	}

	var n int
	db.QueryRow("SELECT COUNT(*) FROM notification_states WHERE routine_id = ?", r.ID).Scan(&n)
	if n != 1 {
		t.Errorf("expected 1 state row, got %d", n)
	}
}

func TestClaimDueOncePerCycle(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	ctx := context.Background()
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	seedExecution(t, db, r.ID, now.Add(-25*time.Hour))

	claim, err := ns.ClaimDue(ctx, *r, now)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if !claim.Fired {
		t.Fatal("expected first claim to fire")
	}
	if claim.NextDue == nil || !claim.NextDue.Equal(now.Add(-time.Hour)) {
		t.Errorf("next due = %v, want %v", claim.NextDue, now.Add(-time.Hour))
	}

	claim, err = ns.ClaimDue(ctx, *r, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("second claim due: %v", err)
	}
	if claim.Fired {
		t.Error("second claim in the same cycle should not fire")
	}
}

func TestClaimDueNotDue(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	seedExecution(t, db, r.ID, now.Add(-time.Hour))

	claim, err := ns.ClaimDue(context.Background(), *r, now)
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if claim.Fired {
		t.Error("routine executed an hour ago should not fire")
	}
}

func TestClaimDueNeverExecuted(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	claim, err := ns.ClaimDue(context.Background(), *r, time.Now())
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if !claim.Fired {
		t.Error("never-executed routine should fire")
	}
	if claim.NextDue != nil {
		t.Errorf("next due = %v, want nil", claim.NextDue)
	}

	claim, err = ns.ClaimDue(context.Background(), *r, time.Now())
	if err != nil {
		t.Fatalf("second claim due: %v", err)
	}
	if claim.Fired {
		t.Error("never-executed routine should fire only once")
	}
}

func TestClaimDueAfterNewCycle(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	ctx := context.Background()
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedExecution(t, db, r.ID, t0)
	if claim, _ := ns.ClaimDue(ctx, *r, t0.Add(25*time.Hour)); !claim.Fired {
		t.Fatal("expected first cycle to fire")
	}

	// Completing again without ResetCycle still opens a new cycle because
	// the execution is newer than the recorded send.
	seedExecution(t, db, r.ID, t0.Add(26*time.Hour))
	claim, err := ns.ClaimDue(ctx, *r, t0.Add(51*time.Hour))
	if err != nil {
		t.Fatalf("claim due: %v", err)
	}
	if !claim.Fired {
		t.Error("expected new cycle to fire")
	}
}

func TestClaimDueConcurrent(t *testing.T) {
	db := setupFileDB(t)
	ns := NewNotificationStore(db)
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	seedExecution(t, db, r.ID, now.Add(-48*time.Hour))

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	fired := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := ns.ClaimDue(context.Background(), *r, now)
			if err != nil {
				t.Errorf("claim due: %v", err)
				return
			}
			if claim.Fired {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fired != 1 {
		t.Errorf("fired = %d, want exactly 1", fired)
	}
}

func TestClaimReminderConcurrent(t *testing.T) {
	db := setupFileDB(t)
	ns := NewNotificationStore(db)
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedExecution(t, db, r.ID, t0)
	dueAt := t0.Add(24 * time.Hour)
	if claim, err := ns.ClaimDue(context.Background(), *r, dueAt); err != nil || !claim.Fired {
		t.Fatalf("claim due: %+v %v", claim, err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	fired := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := ns.ClaimReminder(context.Background(), *r, dueAt.Add(8*time.Hour), gate.ReminderInterval)
			if err != nil {
				t.Errorf("claim reminder: %v", err)
				return
			}
			if claim.Fired {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fired != 1 {
		t.Errorf("fired = %d, want exactly 1", fired)
	}
}

func TestClaimDailyDigestConcurrent(t *testing.T) {
	db := setupFileDB(t)
	ns := NewNotificationStore(db)
	u := seedUser(t, db, "alice")
	routines := []model.Routine{
		*seedRoutine(t, db, u.ID, "Water", 24),
		*seedRoutine(t, db, u.ID, "Feed", 24),
	}
	localNow := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := ns.ClaimDailyDigest(context.Background(), u.ID, routines, localNow)
			if err != nil {
				t.Errorf("claim digest: %v", err)
				return
			}
			if len(claimed) > 0 {
				mu.Lock()
				winners++
				mu.Unlock()
				if len(claimed) != 2 {
					t.Errorf("claimed %d routines, want all 2", len(claimed))
				}
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("digest claimed by %d workers, want exactly 1", winners)
	}
}

func TestClaimReminder(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	ctx := context.Background()
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedExecution(t, db, r.ID, t0)
	dueAt := t0.Add(24 * time.Hour)

	// No due notification yet: reminders wait for it.
	if claim, _ := ns.ClaimReminder(ctx, *r, dueAt.Add(time.Hour), gate.ReminderInterval); claim.Fired {
		t.Fatal("reminder should not fire before the due notification")
	}

	if claim, _ := ns.ClaimDue(ctx, *r, dueAt); !claim.Fired {
		t.Fatal("expected due to fire")
	}
	if claim, _ := ns.ClaimReminder(ctx, *r, dueAt.Add(7*time.Hour), gate.ReminderInterval); claim.Fired {
		t.Error("reminder should not fire before the interval")
	}

	claim, err := ns.ClaimReminder(ctx, *r, dueAt.Add(8*time.Hour), gate.ReminderInterval)
	if err != nil {
		t.Fatalf("claim reminder: %v", err)
	}
	if !claim.Fired {
		t.Fatal("reminder should fire once the interval has elapsed")
	}
	if claim, _ := ns.ClaimReminder(ctx, *r, dueAt.Add(15*time.Hour), gate.ReminderInterval); claim.Fired {
		t.Error("second reminder should wait a full interval after the first")
	}
	if claim, _ := ns.ClaimReminder(ctx, *r, dueAt.Add(16*time.Hour), gate.ReminderInterval); !claim.Fired {
		t.Error("second reminder should fire at 16h")
	}
}

func TestResetCycle(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	ctx := context.Background()
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	now := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	if _, err := ns.ClaimDailyDigest(ctx, u.ID, []model.Routine{*r}, now); err != nil {
		t.Fatalf("claim digest: %v", err)
	}
	if claim, _ := ns.ClaimDue(ctx, *r, now); !claim.Fired {
		t.Fatal("expected due to fire")
	}

	if err := ns.ResetCycle(ctx, r.ID); err != nil {
		t.Fatalf("reset cycle: %v", err)
	}
	st, err := ns.GetOrCreate(ctx, r.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.LastDueSent != nil || st.LastReminderSent != nil {
		t.Errorf("expected cleared cursors, got %+v", st)
	}
	if st.LastDailyDigest != "2026-03-02" {
		t.Errorf("digest date = %q, want it kept", st.LastDailyDigest)
	}
}

func TestResetCycleCreatesState(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Water", 24)

	if err := ns.ResetCycle(context.Background(), r.ID); err != nil {
		t.Fatalf("reset cycle: %v", err)
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM notification_states WHERE routine_id = ?", r.ID).Scan(&n)
	if n != 1 {
		t.Errorf("expected state row to be created, got %d", n)
	}
}

func TestClaimDailyDigest(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	ctx := context.Background()
	u := seedUser(t, db, "alice")

	madrid, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	localNow := time.Date(2026, 3, 2, 8, 30, 0, 0, madrid)

	never := seedRoutine(t, db, u.ID, "Never", 24)
	dueToday := seedRoutine(t, db, u.ID, "Today", 24)
	seedExecution(t, db, dueToday.ID, localNow.Add(-20*time.Hour).UTC())
	later := seedRoutine(t, db, u.ID, "Later", 72)
	seedExecution(t, db, later.ID, localNow.Add(-time.Hour).UTC())

	routines := []model.Routine{*never, *dueToday, *later}
	claimed, err := ns.ClaimDailyDigest(ctx, u.ID, routines, localNow)
	if err != nil {
		t.Fatalf("claim digest: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d routines, want 2", len(claimed))
	}
	if claimed[0].ID != never.ID || claimed[1].ID != dueToday.ID {
		t.Errorf("claimed = %d, %d", claimed[0].ID, claimed[1].ID)
	}

	for _, r := range []*model.Routine{never, dueToday} {
		st, _ := ns.GetOrCreate(ctx, r.ID)
		if st.LastDailyDigest != "2026-03-02" {
			t.Errorf("routine %d digest = %q", r.ID, st.LastDailyDigest)
		}
	}
	if st, _ := ns.GetOrCreate(ctx, later.ID); st.LastDailyDigest != "" {
		t.Errorf("not-due routine was marked: %q", st.LastDailyDigest)
	}

	// Same local date: nothing more, even for a routine added since.
	fresh := seedRoutine(t, db, u.ID, "Fresh", 24)
	claimed, err = ns.ClaimDailyDigest(ctx, u.ID, append(routines, *fresh), localNow.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("second claim digest: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("second claim on the same date returned %d routines", len(claimed))
	}

	// Next day fires again.
	claimed, err = ns.ClaimDailyDigest(ctx, u.ID, append(routines, *fresh), localNow.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("next day claim digest: %v", err)
	}
	if len(claimed) == 0 {
		t.Error("expected digest on the next day")
	}
}

func TestClaimDailyDigestNothingDue(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationStore(db)
	u := seedUser(t, db, "alice")
	r := seedRoutine(t, db, u.ID, "Weekly", 168)

	now := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	seedExecution(t, db, r.ID, now.Add(-time.Hour))

	claimed, err := ns.ClaimDailyDigest(context.Background(), u.ID, []model.Routine{*r}, now)
	if err != nil {
		t.Fatalf("claim digest: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d, want 0", len(claimed))
	}
	if st, _ := ns.GetOrCreate(context.Background(), r.ID); st.LastDailyDigest != "" {
		t.Errorf("state marked although nothing was due: %q", st.LastDailyDigest)
	}
}
