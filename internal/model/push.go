package model

import "time"

// Notification type constants
const (
	NotifTypeDailyDigest = "daily_heads_up"
	NotifTypeDue         = "due"
	NotifTypeReminder    = "reminder"
	NotifTypeTest        = "test"
)

type PushEndpoint struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Endpoint   string     `json:"endpoint"`
	P256dhKey  string     `json:"-"`
	AuthKey    string     `json:"-"`
	DeviceName string     `json:"device_name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   *time.Time `json:"last_used"`

	// KeyErr is set when the stored keys could not be unsealed.
	KeyErr error `json:"-"`
}

// NotificationState records when each notification kind was last sent for
// a routine. LastDailyDigest is a local calendar date (YYYY-MM-DD).
type NotificationState struct {
	RoutineID        int64      `json:"routine_id"`
	LastDueSent      *time.Time `json:"last_due_sent"`
	LastReminderSent *time.Time `json:"last_reminder_sent"`
	LastDailyDigest  string     `json:"last_daily_digest_sent"`
}
