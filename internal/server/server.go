package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/nudge/internal/handler"
	"github.com/dukerupert/nudge/internal/middleware"
	"github.com/dukerupert/nudge/internal/routine"
	"github.com/dukerupert/nudge/internal/store"
	ws "github.com/dukerupert/nudge/internal/websocket"
)

// Options carries the HTTP-facing settings.
type Options struct {
	WSOrigins      []string
	VAPIDPublicKey string
	RateLimit      int // write requests per minute per user
	RateBurst      int
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	routineH    *handler.RoutineHandler
	stockH      *handler.StockHandler
	pushH       *handler.PushHandler
	userStore   *store.UserStore
	rateLimiter *middleware.RateLimiter
	opts        Options
	logger      *slog.Logger
}

// New wires handlers over db. pushStore seals endpoint keys; dispatcher
// serves the self-test route.
func New(db *sql.DB, hub *ws.Hub, pushStore *store.PushStore, dispatcher handler.Dispatcher, opts Options, logger *slog.Logger) *Server {
	if opts.RateLimit < 1 {
		opts.RateLimit = 60
	}
	if opts.RateBurst < 1 {
		opts.RateBurst = 20
	}

	routineSvc := routine.NewService(db, hub, logger.With("component", "routine"))

	return &Server{
		db:          db,
		hub:         hub,
		routineH:    handler.NewRoutineHandler(routineSvc, logger.With("component", "routine_handler")),
		stockH:      handler.NewStockHandler(store.NewInventoryStore(db), hub, logger.With("component", "stock_handler")),
		pushH:       handler.NewPushHandler(pushStore, dispatcher, opts.VAPIDPublicKey, logger.With("component", "push_handler")),
		userStore:   store.NewUserStore(db),
		rateLimiter: middleware.NewRateLimiter(opts.RateLimit, time.Minute, opts.RateBurst),
		opts:        opts,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Protected routes, wrapped with RequireUser middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireUser(s.userStore, s.logger.With("component", "auth"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "database unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"status": status, "clients": s.hub.ClientCount()})
}

// limited rate-limits a write handler per authenticated user.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.UserKey)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dashboard", s.routineH.Dashboard)

	// Routine API routes
	mux.HandleFunc("GET /api/routines", s.routineH.List)
	mux.Handle("POST /api/routines", s.limited(s.routineH.Create))
	mux.HandleFunc("GET /api/routines/{id}", s.routineH.Get)
	mux.Handle("PUT /api/routines/{id}", s.limited(s.routineH.Update))
	mux.Handle("POST /api/routines/{id}/log", s.limited(s.routineH.Log))
	mux.HandleFunc("GET /api/routines/{id}/entries", s.routineH.Entries)
	mux.HandleFunc("GET /api/routines/{id}/lots-for-selection", s.routineH.LotsForSelection)

	// Stock API routes
	mux.HandleFunc("GET /api/stock", s.stockH.List)
	mux.Handle("POST /api/stock", s.limited(s.stockH.Create))
	mux.HandleFunc("GET /api/stock/{id}", s.stockH.Get)
	mux.Handle("DELETE /api/stock/{id}", s.limited(s.stockH.Delete))
	mux.Handle("POST /api/stock/{id}/lots", s.limited(s.stockH.CreateLot))
	mux.Handle("PATCH /api/stock/{id}/lots/{lot}", s.limited(s.stockH.UpdateLot))
	mux.Handle("DELETE /api/stock/{id}/lots/{lot}", s.limited(s.stockH.DeleteLot))

	// Push notification API routes
	mux.Handle("POST /api/push/subscribe", s.limited(s.pushH.Subscribe))
	mux.Handle("DELETE /api/push/subscribe", s.limited(s.pushH.Unsubscribe))
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.Handle("POST /api/push/test", s.limited(s.pushH.TestNotification))

	// Live updates
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.opts.WSOrigins, s.logger.With("component", "websocket")))
}
