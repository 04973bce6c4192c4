package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeTransport records payloads per endpoint and fails endpoints listed in errs.
type fakeTransport struct {
	mu       sync.Mutex
	errs     map[string]error
	delay    time.Duration
	sent     map[string][]Message
	inFlight int
	maxSeen  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{errs: map[string]error{}, sent: map[string][]Message{}}
}

func (f *fakeTransport) Send(ctx context.Context, ep model.PushEndpoint, payload []byte) error {
	f.mu.Lock()
	f.inFlight++
	f.maxSeen = max(f.maxSeen, f.inFlight)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err := f.errs[ep.Endpoint]; err != nil {
		return err
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	f.sent[ep.Endpoint] = append(f.sent[ep.Endpoint], msg)
	return nil
}

// fakeNotifier records dispatched messages by user and can panic or block.
type fakeNotifier struct {
	mu             sync.Mutex
	messages       map[int64][]Message
	panicOn        map[int64]bool // routine IDs
	panicDigestFor int64          // user ID
	blockUser      int64
	block          time.Duration
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: map[int64][]Message{}, panicOn: map[int64]bool{}}
}

func (f *fakeNotifier) Dispatch(ctx context.Context, userID int64, msg Message) (Result, error) {
	if id, ok := msg.Data["routine_id"].(int64); ok && f.panicOn[id] {
		panic("boom")
	}
	if msg.Type == model.NotifTypeDailyDigest && userID == f.panicDigestFor {
		panic("digest boom")
	}
	if f.block > 0 && userID == f.blockUser {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[userID] = append(f.messages[userID], msg)
	return Result{Sent: 1}, nil
}

func (f *fakeNotifier) types(userID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages[userID] {
		out = append(out, m.Type)
	}
	return out
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	f.messages = map[int64][]Message{}
	f.mu.Unlock()
}

func seedUser(t *testing.T, db *sql.DB, u model.User) *model.User {
	t.Helper()
	u.IsActive = true
	got, err := store.NewUserStore(db).Create(context.Background(), u)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return got
}

func seedRoutine(t *testing.T, db *sql.DB, userID int64, name string, interval int) *model.Routine {
	t.Helper()
	r, err := store.NewRoutineStore(db).Create(context.Background(), model.Routine{
		UserID: userID, Name: name, IntervalHours: interval, UsagePerExecution: 1, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create routine: %v", err)
	}
	return r
}

func seedExecution(t *testing.T, db *sql.DB, routineID int64, at time.Time) {
	t.Helper()
	if _, err := store.NewRoutineStore(db).CreateExecution(context.Background(), model.Execution{RoutineID: routineID, ExecutedAt: at}); err != nil {
		t.Fatalf("create execution: %v", err)
	}
}
