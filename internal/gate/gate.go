// Package gate decides whether a notification kind may fire for a routine
// given its persisted notification state. The decisions are pure; the store
// evaluates them while holding the state row's write lock.
package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

const (
	// ReminderInterval separates consecutive reminders for an overdue routine.
	ReminderInterval = 8 * time.Hour
	// DigestTolerance is the window either side of the configured digest time.
	DigestTolerance = 5 * time.Minute
)

// DueShouldFire reports whether the due notification may fire. It is
// suppressed while a due notification is recorded for the current cycle:
// either the routine was never executed, or the record is newer than the
// latest execution.
func DueShouldFire(st model.NotificationState, last *model.Execution) bool {
	if st.LastDueSent == nil {
		return true
	}
	if last == nil {
		return false
	}
	return !st.LastDueSent.After(last.ExecutedAt)
}

// ReminderShouldFire reports whether a reminder is owed. Reminders start
// only after the due notification fired, then repeat every interval measured
// from the latest reminder, or from the due notification if none was sent.
func ReminderShouldFire(st model.NotificationState, now time.Time, interval time.Duration) bool {
	if st.LastDueSent == nil {
		return false
	}
	anchor := *st.LastDueSent
	if st.LastReminderSent != nil {
		anchor = *st.LastReminderSent
	}
	return now.Sub(anchor) >= interval
}

// ClockTime is a local wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" or "HH:MM:SS" (seconds ignored).
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// DigestOccurrence returns the occurrence of target nearest to localNow,
// in localNow's location, and whether it lies within tolerance. The
// occurrence may fall on the previous or next calendar day, so 23:58 matches
// a 00:02 target on the following date. Seconds count toward the distance.
func DigestOccurrence(localNow time.Time, target ClockTime, tolerance time.Duration) (time.Time, bool) {
	y, m, d := localNow.Date()
	var best time.Time
	bestDiff := time.Duration(-1)
	for _, offset := range []int{-1, 0, 1} {
		at := time.Date(y, m, d+offset, target.Hour, target.Minute, 0, 0, localNow.Location())
		diff := localNow.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = at, diff
		}
	}
	return best, bestDiff <= tolerance
}

// InDigestWindow reports whether localNow is within tolerance of target.
func InDigestWindow(localNow time.Time, target ClockTime, tolerance time.Duration) bool {
	_, ok := DigestOccurrence(localNow, target, tolerance)
	return ok
}

// LocalDate formats t's calendar date in its own location.
func LocalDate(t time.Time) string {
	return t.Format(model.DateLayout)
}
