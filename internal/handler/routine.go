package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/inventory"
	"github.com/dukerupert/nudge/internal/routine"
)

type RoutineHandler struct {
	svc    *routine.Service
	logger *slog.Logger
}

func NewRoutineHandler(svc *routine.Service, logger *slog.Logger) *RoutineHandler {
	return &RoutineHandler{svc: svc, logger: logger}
}

// Dashboard handles GET /api/dashboard
func (h *RoutineHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "load dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// List handles GET /api/routines
func (h *RoutineHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list routines", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create handles POST /api/routines
func (h *RoutineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in routine.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rt, err := h.svc.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeError(w, h.logger, "create routine", err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

// Get handles GET /api/routines/{id}
func (h *RoutineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	st, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, "get routine", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Update handles PUT /api/routines/{id}
func (h *RoutineHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var in routine.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rt, err := h.svc.Update(r.Context(), auth.UserID(r.Context()), id, in)
	if err != nil {
		writeError(w, h.logger, "update routine", err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

type logRequest struct {
	Notes         string                `json:"notes"`
	LotSelections []inventory.Selection `json:"lot_selections"`
}

// Log handles POST /api/routines/{id}/log. An empty body or a null
// lot_selections consumes stock in FEFO order.
func (h *RoutineHandler) Log(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	exec, err := h.svc.Complete(r.Context(), auth.UserID(r.Context()), id, routine.CompleteInput{
		Notes:      req.Notes,
		Selections: req.LotSelections,
	})
	if err != nil {
		writeError(w, h.logger, "log routine", err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

// Entries handles GET /api/routines/{id}/entries?limit=N
func (h *RoutineHandler) Entries(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	execs, err := h.svc.Executions(r.Context(), auth.UserID(r.Context()), id, limit)
	if err != nil {
		writeError(w, h.logger, "list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// LotsForSelection handles GET /api/routines/{id}/lots-for-selection
func (h *RoutineHandler) LotsForSelection(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	units, err := h.svc.Units(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, "list lots", err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}
