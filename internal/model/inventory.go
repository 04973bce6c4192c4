package model

import "time"

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

type InventoryItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Batch is a lot of an inventory item with its own quantity and expiry.
// ExpiryDate is a calendar date at midnight UTC.
type Batch struct {
	ID         int64      `json:"id"`
	ItemID     int64      `json:"stock"`
	Quantity   int        `json:"quantity"`
	ExpiryDate *time.Time `json:"expiry_date"`
	Label      string     `json:"lot_number"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ExpiryString returns the expiry date formatted as YYYY-MM-DD, or nil.
func (b Batch) ExpiryString() *string {
	if b.ExpiryDate == nil {
		return nil
	}
	s := b.ExpiryDate.Format(DateLayout)
	return &s
}

// LabelOrNil returns the label, or nil when it is empty.
func (b Batch) LabelOrNil() *string {
	if b.Label == "" {
		return nil
	}
	l := b.Label
	return &l
}
