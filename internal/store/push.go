package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/secret"
)

// PushStore persists push endpoints. Endpoint keys are sealed with box
// before they are written; a nil box stores them as given.
type PushStore struct {
	db  dbtx
	box *secret.Box
}

func NewPushStore(db *sql.DB, box *secret.Box) *PushStore {
	return &PushStore{db: db, box: box}
}

const endpointCols = `id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at, last_used`

func (s *PushStore) scanEndpoint(sc scanner) (*model.PushEndpoint, error) {
	var ep model.PushEndpoint
	var lastUsed sql.NullTime
	if err := sc.Scan(&ep.ID, &ep.UserID, &ep.Endpoint, &ep.P256dhKey, &ep.AuthKey, &ep.DeviceName, &ep.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}
	ep.LastUsed = timePtr(lastUsed)

	// A row whose keys cannot be unsealed is still returned, flagged with
	// KeyErr, so callers can skip it without losing the user's other rows.
	p256dh, err := s.box.Open(ep.P256dhKey)
	if err != nil {
		ep.P256dhKey, ep.AuthKey = "", ""
		ep.KeyErr = fmt.Errorf("open p256dh key: %w", err)
		return &ep, nil
	}
	auth, err := s.box.Open(ep.AuthKey)
	if err != nil {
		ep.P256dhKey, ep.AuthKey = "", ""
		ep.KeyErr = fmt.Errorf("open auth key: %w", err)
		return &ep, nil
	}
	ep.P256dhKey, ep.AuthKey = p256dh, auth
	return &ep, nil
}

// Upsert registers an endpoint for userID. Re-registering an existing
// endpoint URL moves it to userID and replaces its keys.
func (s *PushStore) Upsert(ctx context.Context, userID int64, endpoint, p256dh, auth, deviceName string) (*model.PushEndpoint, error) {
	sealedP256dh, err := s.box.Seal(p256dh)
	if err != nil {
		return nil, fmt.Errorf("seal p256dh key: %w", err)
	}
	sealedAuth, err := s.box.Seal(auth)
	if err != nil {
		return nil, fmt.Errorf("seal auth key: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO push_endpoints (user_id, endpoint, p256dh_key, auth_key, device_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id, p256dh_key = excluded.p256dh_key,
		   auth_key = excluded.auth_key, device_name = excluded.device_name`,
		userID, endpoint, sealedP256dh, sealedAuth, deviceName, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push endpoint: %w", err)
	}
	// LastInsertId is unreliable on conflict update; re-query by endpoint
	return s.GetByEndpoint(ctx, endpoint)
}

func (s *PushStore) GetByEndpoint(ctx context.Context, endpoint string) (*model.PushEndpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointCols+` FROM push_endpoints WHERE endpoint = ?`, endpoint)
	ep, err := s.scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get push endpoint: %w", err)
	}
	return ep, nil
}

func (s *PushStore) ListByUser(ctx context.Context, userID int64) ([]model.PushEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointCols+` FROM push_endpoints WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push endpoints: %w", err)
	}
	defer rows.Close()

	var eps []model.PushEndpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push endpoint: %w", err)
		}
		eps = append(eps, *ep)
	}
	return eps, rows.Err()
}

// DeleteForUser removes the user's registration of endpoint.
func (s *PushStore) DeleteForUser(ctx context.Context, userID int64, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_endpoints WHERE user_id = ? AND endpoint = ?`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("delete push endpoint: %w", err)
	}
	return nil
}

func (s *PushStore) DeleteByID(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_endpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete push endpoint by id: %w", err)
	}
	return nil
}

// TouchLastUsed records a successful delivery.
func (s *PushStore) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE push_endpoints SET last_used = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch push endpoint: %w", err)
	}
	return nil
}
