// Package handler adapts the routine, stock and push services to JSON over
// HTTP. Every route runs behind middleware.RequireUser.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/nudge/internal/inventory"
	"github.com/dukerupert/nudge/internal/routine"
	"github.com/dukerupert/nudge/internal/store"
	ws "github.com/dukerupert/nudge/internal/websocket"
)

// Publisher pushes live updates to one user's connected clients.
type Publisher interface {
	Publish(userID int64, msg ws.Message)
}

func parseIDParam(r *http.Request) (int64, error) {
	return parsePathID(r, "id")
}

func parsePathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to status codes. Validation failures are
// echoed to the client; anything unexpected is logged and hidden.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, routine.ErrInvalidRoutine),
		errors.Is(err, inventory.ErrInvalidSelection),
		errors.Is(err, inventory.ErrQuantityMismatch),
		errors.Is(err, inventory.ErrInvalidBatch):
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error(op, "error", err)
		writeMessage(w, http.StatusInternalServerError, "failed to "+op)
	}
}
