package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

// ErrInsufficientQuantity is returned when a decrement would drive a batch
// below zero.
var ErrInsufficientQuantity = errors.New("insufficient batch quantity")

type InventoryStore struct {
	db dbtx
}

func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

// WithTx returns an InventoryStore whose statements run inside tx.
func (s *InventoryStore) WithTx(tx *sql.Tx) *InventoryStore {
	return &InventoryStore{db: tx}
}

// --- Item methods ---

const itemCols = `id, user_id, name, created_at, updated_at`

func scanItem(s scanner) (*model.InventoryItem, error) {
	var it model.InventoryItem
	if err := s.Scan(&it.ID, &it.UserID, &it.Name, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *InventoryStore) CreateItem(ctx context.Context, userID int64, name string) (*model.InventoryItem, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_items (user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetItemForUser(ctx, userID, id)
}

func (s *InventoryStore) GetItemForUser(ctx context.Context, userID, id int64) (*model.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM inventory_items WHERE id = ? AND user_id = ?`, id, userID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (s *InventoryStore) ListItems(ctx context.Context, userID int64) ([]model.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemCols+` FROM inventory_items WHERE user_id = ? ORDER BY name ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []model.InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *InventoryStore) DeleteItem(ctx context.Context, userID, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// TouchItem bumps the item's updated_at.
func (s *InventoryStore) TouchItem(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE inventory_items SET updated_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch item: %w", err)
	}
	return nil
}

// Quantity returns the item's derived total across all batches.
func (s *InventoryStore) Quantity(ctx context.Context, itemID int64) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM batches WHERE item_id = ?`, itemID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("item quantity: %w", err)
	}
	return total, nil
}

// --- Batch methods ---

const batchCols = `id, item_id, quantity, expiry_date, label, created_at`

// fefoOrder sorts by expiry with undated batches last, then by age.
const fefoOrder = ` ORDER BY expiry_date IS NULL, expiry_date ASC, created_at ASC, id ASC`

func scanBatch(s scanner) (*model.Batch, error) {
	var b model.Batch
	var expiry sql.NullString
	if err := s.Scan(&b.ID, &b.ItemID, &b.Quantity, &expiry, &b.Label, &b.CreatedAt); err != nil {
		return nil, err
	}
	d, err := datePtr(expiry)
	if err != nil {
		return nil, fmt.Errorf("parse expiry date: %w", err)
	}
	b.ExpiryDate = d
	return &b, nil
}

func (s *InventoryStore) CreateBatch(ctx context.Context, b model.Batch) (*model.Batch, error) {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (item_id, quantity, expiry_date, label, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ItemID, b.Quantity, nullDate(b.ExpiryDate), b.Label, createdAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetBatch(ctx, b.ItemID, id)
}

// GetBatch returns the batch only if it belongs to itemID.
func (s *InventoryStore) GetBatch(ctx context.Context, itemID, id int64) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchCols+` FROM batches WHERE id = ? AND item_id = ?`, id, itemID)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns the item's batches in FEFO order. With inStockOnly,
// empty batches are skipped.
func (s *InventoryStore) ListBatches(ctx context.Context, itemID int64, inStockOnly bool) ([]model.Batch, error) {
	q := `SELECT ` + batchCols + ` FROM batches WHERE item_id = ?`
	if inStockOnly {
		q += ` AND quantity > 0`
	}
	rows, err := s.db.QueryContext(ctx, q+fefoOrder, itemID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

func (s *InventoryStore) UpdateBatch(ctx context.Context, b model.Batch) (*model.Batch, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE batches SET quantity = ?, expiry_date = ?, label = ? WHERE id = ? AND item_id = ?`,
		b.Quantity, nullDate(b.ExpiryDate), b.Label, b.ID, b.ItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetBatch(ctx, b.ItemID, b.ID)
}

func (s *InventoryStore) DeleteBatch(ctx context.Context, itemID, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = ? AND item_id = ?`, id, itemID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementBatch subtracts qty from the batch. The guard in the WHERE clause
// makes the write fail instead of going negative if the row changed since it
// was read.
func (s *InventoryStore) DecrementBatch(ctx context.Context, id int64, qty int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE batches SET quantity = quantity - ? WHERE id = ? AND quantity >= ?`,
		qty, id, qty,
	)
	if err != nil {
		return fmt.Errorf("decrement batch: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("decrement batch %d by %d: %w", id, qty, ErrInsufficientQuantity)
	}
	return nil
}
