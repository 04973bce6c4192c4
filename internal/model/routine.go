package model

import "time"

type Routine struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	IntervalHours     int       `json:"interval_hours"`
	ItemID            *int64    `json:"stock"`
	UsagePerExecution int       `json:"stock_usage"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Consumption is one line of an execution's consumption trace.
type Consumption struct {
	BatchID    int64   `json:"lot_id"`
	Label      *string `json:"lot_number"`
	ExpiryDate *string `json:"expiry_date"`
	Quantity   int     `json:"quantity"`
}

type Execution struct {
	ID          int64         `json:"id"`
	RoutineID   int64         `json:"routine"`
	ExecutedAt  time.Time     `json:"created_at"`
	Notes       string        `json:"notes"`
	Consumption []Consumption `json:"consumed_lots"`
}
