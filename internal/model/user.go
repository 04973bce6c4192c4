package model

import "time"

// User is the subset of the account profile the scheduler reads. Accounts
// themselves are managed elsewhere.
type User struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	Timezone        string    `json:"timezone"`
	DailyDigestTime string    `json:"daily_digest_time"` // "HH:MM", user's local time
	Language        string    `json:"language"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}
