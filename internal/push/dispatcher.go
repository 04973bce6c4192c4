package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/nudge/internal/model"
)

// EndpointStore is the subset of the push store the dispatcher needs.
type EndpointStore interface {
	ListByUser(ctx context.Context, userID int64) ([]model.PushEndpoint, error)
	DeleteByID(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
}

// Result counts per-endpoint outcomes of one dispatch.
type Result struct {
	Sent   int `json:"sent"`
	Pruned int `json:"pruned"`
	Failed int `json:"failed"`
}

// Dispatcher fans a message out to every endpoint registered by a user.
type Dispatcher struct {
	transport   Transport
	endpoints   EndpointStore
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewDispatcher creates a dispatcher. A nil transport disables delivery:
// Dispatch logs and returns without contacting any endpoint.
func NewDispatcher(transport Transport, endpoints EndpointStore, concurrency int, logger *slog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		transport:   transport,
		endpoints:   endpoints,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Enabled reports whether a transport is configured.
func (d *Dispatcher) Enabled() bool {
	return d.transport != nil
}

// Dispatch sends msg to all of userID's endpoints, at most concurrency at a
// time. Expired endpoints are deleted; other failures are logged and the
// endpoint is kept. The returned error is only for failures before any send.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, msg Message) (Result, error) {
	if d.transport == nil {
		d.logger.Warn("VAPID keys not configured, push skipped", "user_id", userID, "type", msg.Type)
		return Result{}, nil
	}

	eps, err := d.endpoints.ListByUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list endpoints: %w", err)
	}
	if len(eps) == 0 {
		return Result{}, nil
	}

	if msg.Data == nil {
		msg.Data = map[string]any{}
	}
	if msg.Actions == nil {
		msg.Actions = []Action{}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return Result{}, fmt.Errorf("marshal payload: %w", err)
	}

	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(d.concurrency)

	for _, ep := range eps {
		g.Go(func() error {
			outcome := d.deliver(ctx, ep, payload)
			mu.Lock()
			switch outcome {
			case outcomeSent:
				res.Sent++
			case outcomePruned:
				res.Pruned++
			default:
				res.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	d.logger.Debug("push dispatched", "user_id", userID, "type", msg.Type,
		"sent", res.Sent, "pruned", res.Pruned, "failed", res.Failed)
	return res, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomePruned
	outcomeFailed
)

func (d *Dispatcher) deliver(ctx context.Context, ep model.PushEndpoint, payload []byte) outcome {
	if ep.KeyErr != nil {
		d.logger.Error("push endpoint keys unreadable", "endpoint_id", ep.ID, "user_id", ep.UserID, "error", ep.KeyErr)
		return outcomeFailed
	}
	err := d.transport.Send(ctx, ep, payload)
	switch {
	case err == nil:
		if err := d.endpoints.TouchLastUsed(ctx, ep.ID, d.now()); err != nil {
			d.logger.Error("touch push endpoint", "endpoint_id", ep.ID, "error", err)
		}
		return outcomeSent
	case errors.Is(err, ErrExpired):
		d.logger.Info("removing expired push endpoint", "endpoint_id", ep.ID, "user_id", ep.UserID, "error", err)
		if err := d.endpoints.DeleteByID(ctx, ep.ID); err != nil {
			d.logger.Error("delete push endpoint", "endpoint_id", ep.ID, "error", err)
			return outcomeFailed
		}
		return outcomePruned
	default:
		d.logger.Error("push failed", "endpoint_id", ep.ID, "user_id", ep.UserID, "error", err)
		return outcomeFailed
	}
}
