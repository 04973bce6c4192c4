// Package routine records routine executions and builds the read views
// around them.
package routine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/due"
	"github.com/dukerupert/nudge/internal/inventory"
	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/store"
	ws "github.com/dukerupert/nudge/internal/websocket"
)

// ErrInvalidRoutine is returned for routine input that fails validation.
var ErrInvalidRoutine = errors.New("invalid routine")

// Publisher pushes live updates to one user's connected clients.
type Publisher interface {
	Publish(userID int64, msg ws.Message)
}

// DefaultHistoryLimit caps execution history when the caller gives no limit.
const DefaultHistoryLimit = 50

type Service struct {
	db        *sql.DB
	routines  *store.RoutineStore
	inventory *store.InventoryStore
	states    *store.NotificationStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(db *sql.DB, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		db:        db,
		routines:  store.NewRoutineStore(db),
		inventory: store.NewInventoryStore(db),
		states:    store.NewNotificationStore(db),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CompleteInput describes one execution. A nil Selections consumes stock
// automatically in FEFO order; a non-nil slice is an explicit choice of
// batches that must add up to the routine's usage.
type CompleteInput struct {
	Notes      string
	Selections []inventory.Selection
}

// Complete records an execution of the user's routine. The execution insert,
// inventory decrements and notification cycle reset commit together or not
// at all. Selections are ignored for routines without a tracked item.
func (s *Service) Complete(ctx context.Context, userID, routineID int64, in CompleteInput) (*model.Execution, error) {
	now := s.now().UTC()
	var (
		r    *model.Routine
		exec *model.Execution
	)

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		routines := s.routines.WithTx(tx)

		var err error
		r, err = routines.GetForUser(ctx, userID, routineID)
		if err != nil {
			return err
		}

		var trace []model.Consumption
		if r.ItemID != nil {
			trace, err = inventory.Consume(ctx, s.inventory.WithTx(tx), *r.ItemID, r.UsagePerExecution, in.Selections, now)
			if err != nil {
				return err
			}
		}

		exec, err = routines.CreateExecution(ctx, model.Execution{
			RoutineID:   r.ID,
			ExecutedAt:  now,
			Notes:       in.Notes,
			Consumption: trace,
		})
		if err != nil {
			return err
		}

		return s.states.WithTx(tx).ResetCycle(ctx, r.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("routine completed", "user_id", userID, "routine_id", r.ID, "execution_id", exec.ID, "consumed_lots", len(exec.Consumption))
	s.publish(userID, ws.NewMessage("routine", "logged", r.ID, map[string]any{"entry_id": exec.ID}))
	if r.ItemID != nil {
		s.publish(userID, ws.NewMessage("stock", "updated", *r.ItemID, nil))
	}
	return exec, nil
}

func (s *Service) publish(userID int64, msg ws.Message) {
	if s.publisher != nil {
		s.publisher.Publish(userID, msg)
	}
}

// Dashboard returns the user's active routines split into due and upcoming,
// with the tracked item's name and quantity attached.
func (s *Service) Dashboard(ctx context.Context, userID int64) (due.Dashboard, error) {
	routines, err := s.routines.ListByUser(ctx, userID, true)
	if err != nil {
		return due.Dashboard{}, err
	}
	last, err := s.routines.LastExecutions(ctx, userID)
	if err != nil {
		return due.Dashboard{}, err
	}

	d := due.Project(routines, last, s.now().UTC())
	items := map[int64]itemInfo{}
	for _, list := range [][]due.RoutineStatus{d.Due, d.Upcoming} {
		for i := range list {
			if err := s.attachItem(ctx, userID, &list[i], items); err != nil {
				return due.Dashboard{}, err
			}
		}
	}
	return d, nil
}

type itemInfo struct {
	name     string
	quantity int
}

func (s *Service) attachItem(ctx context.Context, userID int64, st *due.RoutineStatus, cache map[int64]itemInfo) error {
	if st.ItemID == nil {
		return nil
	}
	info, ok := cache[*st.ItemID]
	if !ok {
		it, err := s.inventory.GetItemForUser(ctx, userID, *st.ItemID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		qty, err := s.inventory.Quantity(ctx, it.ID)
		if err != nil {
			return err
		}
		info = itemInfo{name: it.Name, quantity: qty}
		cache[*st.ItemID] = info
	}
	st.ItemName = info.name
	q := info.quantity
	st.ItemQuantity = &q
	return nil
}

// Get returns the status of one of the user's routines.
func (s *Service) Get(ctx context.Context, userID, routineID int64) (*due.RoutineStatus, error) {
	r, err := s.routines.GetForUser(ctx, userID, routineID)
	if err != nil {
		return nil, err
	}
	last, err := s.routines.LastExecution(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	st := due.Status(*r, last, s.now().UTC())
	if err := s.attachItem(ctx, userID, &st, map[int64]itemInfo{}); err != nil {
		return nil, err
	}
	return &st, nil
}

// List returns the status of every routine the user owns, active or not.
func (s *Service) List(ctx context.Context, userID int64) ([]due.RoutineStatus, error) {
	routines, err := s.routines.ListByUser(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	last, err := s.routines.LastExecutions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	items := map[int64]itemInfo{}
	out := make([]due.RoutineStatus, 0, len(routines))
	for _, r := range routines {
		st := due.Status(r, last[r.ID], now)
		if err := s.attachItem(ctx, userID, &st, items); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Units lists the individual units available for manual selection when
// completing a routine. Routines without a tracked item have none.
func (s *Service) Units(ctx context.Context, userID, routineID int64) ([]inventory.Unit, error) {
	r, err := s.routines.GetForUser(ctx, userID, routineID)
	if err != nil {
		return nil, err
	}
	if r.ItemID == nil {
		return []inventory.Unit{}, nil
	}
	batches, err := s.inventory.ListBatches(ctx, *r.ItemID, true)
	if err != nil {
		return nil, err
	}
	return inventory.ExpandUnits(batches), nil
}

// Executions returns the routine's history, newest first.
func (s *Service) Executions(ctx context.Context, userID, routineID int64, limit int) ([]model.Execution, error) {
	if _, err := s.routines.GetForUser(ctx, userID, routineID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	execs, err := s.routines.ListExecutions(ctx, routineID, limit)
	if err != nil {
		return nil, err
	}
	if execs == nil {
		execs = []model.Execution{}
	}
	return execs, nil
}

// Input is the writable part of a routine.
type Input struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	IntervalHours     int    `json:"interval_hours"`
	ItemID            *int64 `json:"stock"`
	UsagePerExecution int    `json:"stock_usage"`
	IsActive          *bool  `json:"is_active"`
}

func (s *Service) validate(ctx context.Context, userID int64, in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRoutine)
	}
	if in.IntervalHours < 1 {
		return fmt.Errorf("%w: interval_hours must be at least 1", ErrInvalidRoutine)
	}
	if in.UsagePerExecution == 0 {
		in.UsagePerExecution = 1
	}
	if in.UsagePerExecution < 1 {
		return fmt.Errorf("%w: stock_usage must be at least 1", ErrInvalidRoutine)
	}
	if in.ItemID != nil {
		if _, err := s.inventory.GetItemForUser(ctx, userID, *in.ItemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: stock item %d not found", ErrInvalidRoutine, *in.ItemID)
			}
			return err
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, userID int64, in Input) (*model.Routine, error) {
	if err := s.validate(ctx, userID, &in); err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	r, err := s.routines.Create(ctx, model.Routine{
		UserID:            userID,
		Name:              in.Name,
		Description:       in.Description,
		IntervalHours:     in.IntervalHours,
		ItemID:            in.ItemID,
		UsagePerExecution: in.UsagePerExecution,
		IsActive:          active,
	})
	if err != nil {
		return nil, err
	}
	s.publish(userID, ws.NewMessage("routine", "created", r.ID, nil))
	return r, nil
}

// Update replaces the routine's writable fields. A nil IsActive keeps the
// current value.
func (s *Service) Update(ctx context.Context, userID, routineID int64, in Input) (*model.Routine, error) {
	current, err := s.routines.GetForUser(ctx, userID, routineID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, userID, &in); err != nil {
		return nil, err
	}
	active := current.IsActive
	if in.IsActive != nil {
		active = *in.IsActive
	}
	r, err := s.routines.Update(ctx, model.Routine{
		ID:                routineID,
		UserID:            userID,
		Name:              in.Name,
		Description:       in.Description,
		IntervalHours:     in.IntervalHours,
		ItemID:            in.ItemID,
		UsagePerExecution: in.UsagePerExecution,
		IsActive:          active,
	})
	if err != nil {
		return nil, err
	}
	s.publish(userID, ws.NewMessage("routine", "updated", r.ID, nil))
	return r, nil
}
