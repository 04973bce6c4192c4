package push

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dukerupert/nudge/internal/due"
	"github.com/dukerupert/nudge/internal/gate"
	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/store"
)

// Notifier delivers a message to a user's devices.
type Notifier interface {
	Dispatch(ctx context.Context, userID int64, msg Message) (Result, error)
}

// SchedulerConfig tunes the notification tick.
type SchedulerConfig struct {
	Interval         time.Duration // between ticks when started with Start
	Budget           time.Duration // soft limit for one tick
	PageSize         int           // users loaded per query
	ReminderInterval time.Duration
	DigestTolerance  time.Duration
}

func (c *SchedulerConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Budget <= 0 {
		c.Budget = 250 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = gate.ReminderInterval
	}
	if c.DigestTolerance <= 0 {
		c.DigestTolerance = gate.DigestTolerance
	}
}

// RoutineFailure records an error or panic while processing one routine.
// Sibling routines and users are still processed. RoutineID is zero when
// the failure happened outside any single routine, such as in the digest.
type RoutineFailure struct {
	RoutineID int64
	UserID    int64
	Err       error
}

func (f RoutineFailure) Error() string {
	return fmt.Sprintf("routine %d (user %d): %v", f.RoutineID, f.UserID, f.Err)
}

func (f RoutineFailure) Unwrap() error { return f.Err }

// Report summarises one tick.
type Report struct {
	TickID        string
	Users         int
	SkippedUsers  int
	Digests       int
	DueSent       int
	RemindersSent int
	Failures      []RoutineFailure
	Abandoned     bool
	Duration      time.Duration
}

// Scheduler evaluates the notification gates for every active user.
type Scheduler struct {
	mu       sync.Mutex
	users    *store.UserStore
	routines *store.RoutineStore
	states   *store.NotificationStore
	notifier Notifier
	cfg      SchedulerConfig
	logger   *slog.Logger
	now      func() time.Time
	cron     *cron.Cron
}

// NewScheduler creates a notification scheduler.
func NewScheduler(users *store.UserStore, routines *store.RoutineStore, states *store.NotificationStore, notifier Notifier, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		users:    users,
		routines: routines,
		states:   states,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs Tick every cfg.Interval until Stop is called or ctx is done.
// A tick still running when the next is due is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	c.Start()
	s.cron = c

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "budget", s.cfg.Budget)
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
}

// Tick runs one pass over all active users. It stops early, marking the
// report Abandoned, once cfg.Budget has elapsed.
func (s *Scheduler) Tick(ctx context.Context) Report {
	start := s.now()
	rep := Report{TickID: uuid.NewString()}
	log := s.logger.With("tick", rep.TickID)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	now := start.UTC()
	var afterID int64

scan:
	for {
		if ctx.Err() != nil {
			rep.Abandoned = true
			break
		}
		users, err := s.users.ListActive(ctx, afterID, s.cfg.PageSize)
		if err != nil {
			log.Error("list active users", "after_id", afterID, "error", err)
			rep.Abandoned = ctx.Err() != nil
			break
		}
		for _, u := range users {
			if ctx.Err() != nil {
				rep.Abandoned = true
				break scan
			}
			rep.Users++
			s.processUser(ctx, log, u, now, &rep)
		}
		if len(users) < s.cfg.PageSize {
			break
		}
		afterID = users[len(users)-1].ID
	}

	rep.Duration = s.now().Sub(start)
	attrs := []any{
		"users", rep.Users, "skipped", rep.SkippedUsers, "digests", rep.Digests,
		"due", rep.DueSent, "reminders", rep.RemindersSent, "failures", len(rep.Failures),
		"duration", rep.Duration,
	}
	if rep.Abandoned {
		log.Warn("tick budget exhausted, remaining users deferred to next tick", attrs...)
	} else {
		log.Info("tick complete", attrs...)
	}
	return rep
}

func (s *Scheduler) processUser(ctx context.Context, log *slog.Logger, u model.User, now time.Time, rep *Report) {
	log = log.With("user_id", u.ID)
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic processing user", "panic", p, "stack", string(debug.Stack()))
			rep.Failures = append(rep.Failures, RoutineFailure{UserID: u.ID, Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	loc, err := due.LoadLocation(u.Timezone)
	if err != nil {
		log.Warn("skipping user", "error", err)
		rep.SkippedUsers++
		return
	}
	localNow := now.In(loc)

	routines, err := s.routines.ListByUser(ctx, u.ID, true)
	if err != nil {
		log.Error("list routines", "error", err)
		return
	}
	if len(routines) == 0 {
		return
	}

	s.checkDigest(ctx, log, u, routines, localNow, rep)

	for _, r := range routines {
		if ctx.Err() != nil {
			return
		}
		if err := s.processRoutine(ctx, log, u, r, now, rep); err != nil {
			log.Error("routine processing failed", "routine_id", r.ID, "error", err)
			rep.Failures = append(rep.Failures, RoutineFailure{RoutineID: r.ID, UserID: u.ID, Err: err})
		}
	}
}

func (s *Scheduler) checkDigest(ctx context.Context, log *slog.Logger, u model.User, routines []model.Routine, localNow time.Time, rep *Report) {
	target, err := gate.ParseClock(u.DailyDigestTime)
	if err != nil {
		log.Warn("invalid daily digest time", "value", u.DailyDigestTime, "error", err)
		return
	}
	// The digest is recorded under the date of the configured time, which
	// differs from localNow's date when the window straddles midnight.
	occurrence, ok := gate.DigestOccurrence(localNow, target, s.cfg.DigestTolerance)
	if !ok {
		return
	}

	claimed, err := s.states.ClaimDailyDigest(ctx, u.ID, routines, occurrence)
	if err != nil {
		log.Error("daily digest", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	if _, err := s.notifier.Dispatch(ctx, u.ID, DailyDigestMessage(u.Language, len(claimed))); err != nil {
		log.Error("send daily digest", "error", err)
		return
	}
	rep.Digests++
	log.Info("daily digest sent", "due_today", len(claimed))
}

// processRoutine runs the due gate then the reminder gate. A panic is
// converted to an error so one bad routine cannot end the tick.
func (s *Scheduler) processRoutine(ctx context.Context, log *slog.Logger, u model.User, r model.Routine, now time.Time, rep *Report) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic processing routine", "routine_id", r.ID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	claim, err := s.states.ClaimDue(ctx, r, now)
	if err != nil {
		return err
	}
	if claim.Fired {
		if _, err := s.notifier.Dispatch(ctx, u.ID, DueMessage(u.Language, r)); err != nil {
			return fmt.Errorf("send due: %w", err)
		}
		rep.DueSent++
		log.Info("due notification sent", "routine_id", r.ID)
	}

	reminder, err := s.states.ClaimReminder(ctx, r, now, s.cfg.ReminderInterval)
	if err != nil {
		return err
	}
	if reminder.Fired {
		hours := due.HoursOverdue(reminder.NextDue, now)
		if _, err := s.notifier.Dispatch(ctx, u.ID, ReminderMessage(u.Language, r, hours)); err != nil {
			return fmt.Errorf("send reminder: %w", err)
		}
		rep.RemindersSent++
		log.Info("reminder sent", "routine_id", r.ID, "hours_overdue", hours)
	}
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
