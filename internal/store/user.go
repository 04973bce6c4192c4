package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

// UserStore reads the account profile fields the scheduler depends on.
type UserStore struct {
	db dbtx
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, username, timezone, daily_digest_time, language, is_active, created_at`

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	var active int
	if err := s.Scan(&u.ID, &u.Username, &u.Timezone, &u.DailyDigestTime, &u.Language, &active, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.IsActive = active != 0
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, u model.User) (*model.User, error) {
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	if u.DailyDigestTime == "" {
		u.DailyDigestTime = "08:30"
	}
	if u.Language == "" {
		u.Language = "en"
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, timezone, daily_digest_time, language, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.Timezone, u.DailyDigestTime, u.Language, boolInt(u.IsActive), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListActive returns up to limit active users with ID greater than afterID,
// ordered by ID. Callers page by passing the last ID of the previous page.
func (s *UserStore) ListActive(ctx context.Context, afterID int64, limit int) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE is_active = 1 AND id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdatePreferences sets the notification-related profile fields.
func (s *UserStore) UpdatePreferences(ctx context.Context, id int64, timezone, digestTime, language string) (*model.User, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET timezone = ?, daily_digest_time = ?, language = ? WHERE id = ?`,
		timezone, digestTime, language, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update user preferences: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}
