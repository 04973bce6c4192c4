// Package due derives when a routine is next due from its last execution.
package due

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

// ErrInvalidTimezone is returned when a user's IANA timezone cannot be loaded.
var ErrInvalidTimezone = errors.New("invalid timezone")

// NextDue returns last.ExecutedAt + interval. A nil result means the routine
// was never executed and is treated as immediately due.
func NextDue(r model.Routine, last *model.Execution) *time.Time {
	if last == nil {
		return nil
	}
	next := last.ExecutedAt.Add(time.Duration(r.IntervalHours) * time.Hour)
	return &next
}

// IsDue reports whether the routine is due at now.
func IsDue(r model.Routine, last *model.Execution, now time.Time) bool {
	next := NextDue(r, last)
	return next == nil || !next.After(now)
}

// IsDueOnLocalDate reports whether the routine's next due instant, seen in
// localNow's location, falls on or before localNow's calendar date.
func IsDueOnLocalDate(r model.Routine, last *model.Execution, localNow time.Time) bool {
	next := NextDue(r, last)
	if next == nil {
		return true
	}
	return !startOfDay(next.In(localNow.Location())).After(startOfDay(localNow))
}

// HoursOverdue returns whole hours elapsed since next, rounded. A never
// executed routine reports 0.
func HoursOverdue(next *time.Time, now time.Time) int {
	if next == nil {
		return 0
	}
	return int(math.Round(now.Sub(*next).Hours()))
}

// HoursUntilDue returns hours until next rounded to one decimal, or nil.
func HoursUntilDue(next *time.Time, now time.Time) *float64 {
	if next == nil {
		return nil
	}
	h := math.Round(next.Sub(now).Hours()*10) / 10
	return &h
}

// LoadLocation resolves an IANA timezone name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// RoutineStatus is the dashboard projection of a routine.
type RoutineStatus struct {
	model.Routine
	LastExecutedAt *time.Time `json:"last_entry_at"`
	NextDueAt      *time.Time `json:"next_due_at"`
	IsDue          bool       `json:"is_due"`
	HoursUntilDue  *float64   `json:"hours_until_due"`
	ItemName       string     `json:"stock_name,omitempty"`
	ItemQuantity   *int       `json:"stock_quantity,omitempty"`
}

// Dashboard splits routines into those already due and those upcoming.
type Dashboard struct {
	Due      []RoutineStatus `json:"due"`
	Upcoming []RoutineStatus `json:"upcoming"`
}

// Status computes the projection for one routine.
func Status(r model.Routine, last *model.Execution, now time.Time) RoutineStatus {
	st := RoutineStatus{Routine: r}
	if last != nil {
		at := last.ExecutedAt
		st.LastExecutedAt = &at
	}
	st.NextDueAt = NextDue(r, last)
	st.IsDue = IsDue(r, last, now)
	st.HoursUntilDue = HoursUntilDue(st.NextDueAt, now)
	return st
}

// Project builds the dashboard for active routines. last maps routine ID to
// its latest execution; routines missing from the map were never executed.
// Upcoming routines are ordered by next due instant.
func Project(routines []model.Routine, last map[int64]*model.Execution, now time.Time) Dashboard {
	d := Dashboard{Due: []RoutineStatus{}, Upcoming: []RoutineStatus{}}
	for _, r := range routines {
		if !r.IsActive {
			continue
		}
		st := Status(r, last[r.ID], now)
		if st.IsDue {
			d.Due = append(d.Due, st)
		} else {
			d.Upcoming = append(d.Upcoming, st)
		}
	}
	sort.SliceStable(d.Upcoming, func(i, j int) bool {
		return d.Upcoming[i].NextDueAt.Before(*d.Upcoming[j].NextDueAt)
	})
	return d
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
