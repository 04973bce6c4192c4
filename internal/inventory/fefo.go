// Package inventory implements First-Expired-First-Out consumption of
// perishable batches.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

var (
	// ErrInvalidSelection is returned when a selection names a batch outside
	// the item or carries a negative quantity.
	ErrInvalidSelection = errors.New("invalid lot selection")
	// ErrQuantityMismatch is returned when explicit selections do not add up
	// to the routine's usage per execution.
	ErrQuantityMismatch = errors.New("lot selection total does not match usage")
)

// Selection asks for quantity units from a specific batch.
type Selection struct {
	BatchID  int64 `json:"lot_id"`
	Quantity int   `json:"quantity"`
}

// Draw is a planned decrement of one batch.
type Draw struct {
	Batch    model.Batch
	Quantity int
}

// Store is the subset of the inventory store the engine writes through. It
// must be bound to the caller's transaction.
type Store interface {
	ListBatches(ctx context.Context, itemID int64, inStockOnly bool) ([]model.Batch, error)
	DecrementBatch(ctx context.Context, id int64, qty int) error
	TouchItem(ctx context.Context, id int64, at time.Time) error
}

// SortFEFO orders batches by expiry date ascending with undated batches
// last, then by creation time, then by ID.
func SortFEFO(batches []model.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// PlanAutomatic walks batches in FEFO order taking min(quantity, remaining)
// from each until requested is met. When stock runs short the plan covers
// what is available; it never takes more than a batch holds.
func PlanAutomatic(batches []model.Batch, requested int) []Draw {
	ordered := make([]model.Batch, len(batches))
	copy(ordered, batches)
	SortFEFO(ordered)

	var draws []Draw
	remaining := requested
	for _, b := range ordered {
		if remaining <= 0 {
			break
		}
		if b.Quantity <= 0 {
			continue
		}
		take := min(b.Quantity, remaining)
		draws = append(draws, Draw{Batch: b, Quantity: take})
		remaining -= take
	}
	return draws
}

// PlanExplicit validates caller-chosen selections against the item's batches
// and plans one draw per positive selection, in the caller's order. Each draw
// is capped at what the batch still holds after earlier draws.
func PlanExplicit(itemID int64, batches []model.Batch, selections []Selection, usage int) ([]Draw, error) {
	byID := make(map[int64]model.Batch, len(batches))
	for _, b := range batches {
		if b.ItemID == itemID {
			byID[b.ID] = b
		}
	}

	total := 0
	for _, sel := range selections {
		if _, ok := byID[sel.BatchID]; !ok {
			return nil, fmt.Errorf("%w: lot %d does not belong to this stock item", ErrInvalidSelection, sel.BatchID)
		}
		if sel.Quantity < 0 {
			return nil, fmt.Errorf("%w: negative quantity for lot %d", ErrInvalidSelection, sel.BatchID)
		}
		total += sel.Quantity
	}
	if total != usage {
		return nil, fmt.Errorf("%w: selected %d, need %d", ErrQuantityMismatch, total, usage)
	}

	left := make(map[int64]int, len(byID))
	for id, b := range byID {
		left[id] = max(b.Quantity, 0)
	}

	var draws []Draw
	for _, sel := range selections {
		if sel.Quantity == 0 {
			continue
		}
		take := min(left[sel.BatchID], sel.Quantity)
		left[sel.BatchID] -= take
		draws = append(draws, Draw{Batch: byID[sel.BatchID], Quantity: take})
	}
	return draws, nil
}

// Trace converts draws into the consumption trace stored on an execution.
func Trace(draws []Draw) []model.Consumption {
	trace := make([]model.Consumption, 0, len(draws))
	for _, d := range draws {
		trace = append(trace, model.Consumption{
			BatchID:    d.Batch.ID,
			Label:      d.Batch.LabelOrNil(),
			ExpiryDate: d.Batch.ExpiryString(),
			Quantity:   d.Quantity,
		})
	}
	return trace
}

// Consume decrements the item's batches for one execution and returns the
// trace. A nil selections slice selects automatic FEFO mode; a non-nil slice
// (even empty) is validated as an explicit selection against usage.
//
// s must be bound to the caller's write transaction: batch rows are read and
// decremented under the same lock, and nothing is written if validation fails.
func Consume(ctx context.Context, s Store, itemID int64, usage int, selections []Selection, now time.Time) ([]model.Consumption, error) {
	explicit := selections != nil

	batches, err := s.ListBatches(ctx, itemID, !explicit)
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}

	var draws []Draw
	if explicit {
		draws, err = PlanExplicit(itemID, batches, selections, usage)
		if err != nil {
			return nil, err
		}
	} else {
		draws = PlanAutomatic(batches, usage)
	}

	for _, d := range draws {
		if d.Quantity == 0 {
			continue
		}
		if err := s.DecrementBatch(ctx, d.Batch.ID, d.Quantity); err != nil {
			return nil, err
		}
	}
	if err := s.TouchItem(ctx, itemID, now); err != nil {
		return nil, err
	}
	return Trace(draws), nil
}
