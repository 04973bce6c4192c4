package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

// ExpiringHorizon is how far ahead a batch counts as expiring soon.
const ExpiringHorizon = 90 * 24 * time.Hour

// ErrInvalidBatch is returned for batch input that fails validation.
var ErrInvalidBatch = errors.New("invalid batch")

// Unit is one physical unit of a batch, offered for manual selection.
type Unit struct {
	BatchID    int64   `json:"lot_id"`
	Label      *string `json:"lot_number"`
	ExpiryDate *string `json:"expiry_date"`
	UnitIndex  int     `json:"unit_index"`
}

// ExpandUnits lists every unit of every non-empty batch, batches in FEFO
// order and unit indexes starting at 1.
func ExpandUnits(batches []model.Batch) []Unit {
	ordered := make([]model.Batch, len(batches))
	copy(ordered, batches)
	SortFEFO(ordered)

	units := []Unit{}
	for _, b := range ordered {
		label, expiry := b.LabelOrNil(), b.ExpiryString()
		for i := 1; i <= b.Quantity; i++ {
			units = append(units, Unit{BatchID: b.ID, Label: label, ExpiryDate: expiry, UnitIndex: i})
		}
	}
	return units
}

// Expiring returns non-empty batches whose expiry date is within horizon of today.
func Expiring(batches []model.Batch, today time.Time, horizon time.Duration) []model.Batch {
	threshold := dateOf(today).Add(horizon)
	out := []model.Batch{}
	for _, b := range batches {
		if b.ExpiryDate != nil && b.Quantity > 0 && !b.ExpiryDate.After(threshold) {
			out = append(out, b)
		}
	}
	return out
}

// Summary is the read model of an inventory item.
type Summary struct {
	model.InventoryItem
	Quantity        int           `json:"quantity"`
	Lots            []model.Batch `json:"lots"`
	HasExpiringLots bool          `json:"has_expiring_lots"`
	ExpiringLots    []model.Batch `json:"expiring_lots"`
}

// Summarize derives the item's total and expiring batches.
func Summarize(item model.InventoryItem, batches []model.Batch, today time.Time) Summary {
	total := 0
	for _, b := range batches {
		if b.Quantity > 0 {
			total += b.Quantity
		}
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	expiring := Expiring(batches, today, ExpiringHorizon)
	return Summary{
		InventoryItem:   item,
		Quantity:        total,
		Lots:            batches,
		HasExpiringLots: len(expiring) > 0,
		ExpiringLots:    expiring,
	}
}

// ValidateBatch checks user-supplied batch fields. Expiry dates in the past
// are rejected.
func ValidateBatch(quantity int, expiry *time.Time, today time.Time) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", ErrInvalidBatch)
	}
	if expiry != nil && expiry.Before(dateOf(today)) {
		return fmt.Errorf("%w: expiry date cannot be in the past", ErrInvalidBatch)
	}
	return nil
}

// dateOf returns t's calendar date as midnight UTC, matching how expiry
// dates are parsed.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
