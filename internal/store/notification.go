package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/due"
	"github.com/dukerupert/nudge/internal/gate"
	"github.com/dukerupert/nudge/internal/model"
)

// NotificationStore persists per-routine notification cursors. The Claim
// methods each run one write transaction: state is created if missing, the
// gate is evaluated against fresh rows, and the cursor is advanced before
// commit. Because write transactions begin IMMEDIATE, two concurrent claims
// for the same routine serialize and only one can observe the gate open.
type NotificationStore struct {
	conn *sql.DB
	db   dbtx
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{conn: db, db: db}
}

// WithTx returns a store bound to tx. Claim methods open their own
// transaction and must not be called on a bound store.
func (s *NotificationStore) WithTx(tx *sql.Tx) *NotificationStore {
	return &NotificationStore{conn: s.conn, db: tx}
}

func scanState(s scanner) (*model.NotificationState, error) {
	var st model.NotificationState
	var dueSent, reminderSent sql.NullTime
	var digest sql.NullString
	if err := s.Scan(&st.RoutineID, &dueSent, &reminderSent, &digest); err != nil {
		return nil, err
	}
	st.LastDueSent = timePtr(dueSent)
	st.LastReminderSent = timePtr(reminderSent)
	st.LastDailyDigest = digest.String
	return &st, nil
}

// GetOrCreate returns the routine's state, inserting an empty row first if
// none exists.
func (s *NotificationStore) GetOrCreate(ctx context.Context, routineID int64) (*model.NotificationState, error) {
	return getOrCreateState(ctx, s.db, routineID)
}

func getOrCreateState(ctx context.Context, db dbtx, routineID int64) (*model.NotificationState, error) {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO notification_states (routine_id) VALUES (?) ON CONFLICT(routine_id) DO NOTHING`,
		routineID,
	); err != nil {
		return nil, fmt.Errorf("upsert notification state: %w", err)
	}
	row := db.QueryRowContext(ctx,
		`SELECT routine_id, last_due_sent, last_reminder_sent, last_daily_digest_sent
		 FROM notification_states WHERE routine_id = ?`, routineID,
	)
	st, err := scanState(row)
	if err != nil {
		return nil, fmt.Errorf("get notification state: %w", err)
	}
	return st, nil
}

// ResetCycle clears the due and reminder cursors, creating the state if
// absent. The daily digest date is kept.
func (s *NotificationStore) ResetCycle(ctx context.Context, routineID int64) error {
	if _, err := getOrCreateState(ctx, s.db, routineID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_states SET last_due_sent = NULL, last_reminder_sent = NULL WHERE routine_id = ?`,
		routineID,
	)
	if err != nil {
		return fmt.Errorf("reset notification cycle: %w", err)
	}
	return nil
}

// DueClaim is the outcome of a due or reminder claim.
type DueClaim struct {
	Fired   bool
	NextDue *time.Time
}

// ClaimDue marks the routine's due notification as sent if the routine is
// due and no due notification was recorded for the current cycle.
func (s *NotificationStore) ClaimDue(ctx context.Context, r model.Routine, now time.Time) (DueClaim, error) {
	var claim DueClaim
	err := database.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		st, err := getOrCreateState(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		last, err := lastExecution(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		claim.NextDue = due.NextDue(r, last)
		if !due.IsDue(r, last, now) || !gate.DueShouldFire(*st, last) {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE notification_states SET last_due_sent = ? WHERE routine_id = ?`, now.UTC(), r.ID,
		); err != nil {
			return fmt.Errorf("mark due sent: %w", err)
		}
		claim.Fired = true
		return nil
	})
	if err != nil {
		return DueClaim{}, fmt.Errorf("claim due: %w", err)
	}
	return claim, nil
}

// ClaimReminder marks a reminder as sent if the routine is still due, its
// due notification fired, and interval has passed since the last send.
func (s *NotificationStore) ClaimReminder(ctx context.Context, r model.Routine, now time.Time, interval time.Duration) (DueClaim, error) {
	var claim DueClaim
	err := database.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		st, err := getOrCreateState(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		last, err := lastExecution(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		claim.NextDue = due.NextDue(r, last)
		if !due.IsDue(r, last, now) || !gate.ReminderShouldFire(*st, now, interval) {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE notification_states SET last_reminder_sent = ? WHERE routine_id = ?`, now.UTC(), r.ID,
		); err != nil {
			return fmt.Errorf("mark reminder sent: %w", err)
		}
		claim.Fired = true
		return nil
	})
	if err != nil {
		return DueClaim{}, fmt.Errorf("claim reminder: %w", err)
	}
	return claim, nil
}

// ClaimDailyDigest marks every routine due on localNow's date as notified
// today and returns them. It returns nothing if no routine is due today or
// if any of the user's routines already carries today's digest date. All
// routines are marked in one transaction.
func (s *NotificationStore) ClaimDailyDigest(ctx context.Context, userID int64, routines []model.Routine, localNow time.Time) ([]model.Routine, error) {
	today := gate.LocalDate(localNow)
	var claimed []model.Routine

	err := database.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		var sent int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM notification_states ns JOIN routines r ON r.id = ns.routine_id
			 WHERE r.user_id = ? AND ns.last_daily_digest_sent = ?`,
			userID, today,
		).Scan(&sent); err != nil {
			return fmt.Errorf("check digest sent: %w", err)
		}
		if sent > 0 {
			return nil
		}

		var dueToday []model.Routine
		for _, r := range routines {
			last, err := lastExecution(ctx, tx, r.ID)
			if err != nil {
				return err
			}
			if due.IsDueOnLocalDate(r, last, localNow) {
				dueToday = append(dueToday, r)
			}
		}

		for _, r := range dueToday {
			if _, err := getOrCreateState(ctx, tx, r.ID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE notification_states SET last_daily_digest_sent = ? WHERE routine_id = ?`, today, r.ID,
			); err != nil {
				return fmt.Errorf("mark digest sent: %w", err)
			}
		}
		claimed = dueToday
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim daily digest: %w", err)
	}
	return claimed, nil
}
