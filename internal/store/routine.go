package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

type RoutineStore struct {
	db dbtx
}

func NewRoutineStore(db *sql.DB) *RoutineStore {
	return &RoutineStore{db: db}
}

// WithTx returns a RoutineStore whose statements run inside tx.
func (s *RoutineStore) WithTx(tx *sql.Tx) *RoutineStore {
	return &RoutineStore{db: tx}
}

// --- Routine methods ---

const routineCols = `id, user_id, name, description, interval_hours, item_id, usage_per_execution, is_active, created_at, updated_at`

func scanRoutine(s scanner) (*model.Routine, error) {
	var r model.Routine
	var itemID sql.NullInt64
	var active int
	err := s.Scan(&r.ID, &r.UserID, &r.Name, &r.Description, &r.IntervalHours, &itemID,
		&r.UsagePerExecution, &active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.ItemID = intPtr(itemID)
	r.IsActive = active != 0
	return &r, nil
}

func (s *RoutineStore) Create(ctx context.Context, r model.Routine) (*model.Routine, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO routines (user_id, name, description, interval_hours, item_id, usage_per_execution, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Name, r.Description, r.IntervalHours, nullInt(r.ItemID), r.UsagePerExecution, boolInt(r.IsActive), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert routine: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetForUser(ctx, r.UserID, id)
}

// GetForUser returns the routine only if it belongs to userID.
func (s *RoutineStore) GetForUser(ctx context.Context, userID, id int64) (*model.Routine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+routineCols+` FROM routines WHERE id = ? AND user_id = ?`, id, userID)
	r, err := scanRoutine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get routine: %w", err)
	}
	return r, nil
}

func (s *RoutineStore) ListByUser(ctx context.Context, userID int64, activeOnly bool) ([]model.Routine, error) {
	q := `SELECT ` + routineCols + ` FROM routines WHERE user_id = ?`
	if activeOnly {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY name ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}
	defer rows.Close()

	var routines []model.Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		routines = append(routines, *r)
	}
	return routines, rows.Err()
}

func (s *RoutineStore) Update(ctx context.Context, r model.Routine) (*model.Routine, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE routines SET name = ?, description = ?, interval_hours = ?, item_id = ?, usage_per_execution = ?, is_active = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		r.Name, r.Description, r.IntervalHours, nullInt(r.ItemID), r.UsagePerExecution, boolInt(r.IsActive), time.Now().UTC(),
		r.ID, r.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("update routine: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetForUser(ctx, r.UserID, r.ID)
}

// --- Execution methods ---

const executionCols = `id, routine_id, executed_at, notes, consumption`

func scanExecution(s scanner) (*model.Execution, error) {
	var e model.Execution
	var raw string
	if err := s.Scan(&e.ID, &e.RoutineID, &e.ExecutedAt, &e.Notes, &raw); err != nil {
		return nil, err
	}
	e.ExecutedAt = e.ExecutedAt.UTC()
	if err := json.Unmarshal([]byte(raw), &e.Consumption); err != nil {
		return nil, fmt.Errorf("decode consumption: %w", err)
	}
	if e.Consumption == nil {
		e.Consumption = []model.Consumption{}
	}
	return &e, nil
}

// CreateExecution appends an execution record. The consumption trace is
// written with the row and never updated.
func (s *RoutineStore) CreateExecution(ctx context.Context, e model.Execution) (*model.Execution, error) {
	if e.Consumption == nil {
		e.Consumption = []model.Consumption{}
	}
	raw, err := json.Marshal(e.Consumption)
	if err != nil {
		return nil, fmt.Errorf("encode consumption: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (routine_id, executed_at, notes, consumption) VALUES (?, ?, ?, ?)`,
		e.RoutineID, e.ExecutedAt.UTC(), e.Notes, string(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+executionCols+` FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

// LastExecution returns the most recent execution of the routine, or nil.
func (s *RoutineStore) LastExecution(ctx context.Context, routineID int64) (*model.Execution, error) {
	return lastExecution(ctx, s.db, routineID)
}

func lastExecution(ctx context.Context, db dbtx, routineID int64) (*model.Execution, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+executionCols+` FROM executions WHERE routine_id = ? ORDER BY executed_at DESC, id DESC LIMIT 1`,
		routineID,
	)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last execution: %w", err)
	}
	return e, nil
}

// LastExecutions maps each of the user's routine IDs to its latest execution.
// Routines that were never executed are absent.
func (s *RoutineStore) LastExecutions(ctx context.Context, userID int64) (map[int64]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, e.routine_id, e.executed_at, e.notes, e.consumption
		 FROM executions e JOIN routines r ON r.id = e.routine_id
		 WHERE r.user_id = ?
		 ORDER BY e.routine_id, e.executed_at DESC, e.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list last executions: %w", err)
	}
	defer rows.Close()

	last := make(map[int64]*model.Execution)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if _, seen := last[e.RoutineID]; !seen {
			last[e.RoutineID] = e
		}
	}
	return last, rows.Err()
}

// ListExecutions returns the routine's history, newest first.
func (s *RoutineStore) ListExecutions(ctx context.Context, routineID int64, limit int) ([]model.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionCols+` FROM executions WHERE routine_id = ? ORDER BY executed_at DESC, id DESC LIMIT ?`,
		routineID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, *e)
	}
	return executions, rows.Err()
}
