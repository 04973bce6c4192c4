package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/push"
	"github.com/dukerupert/nudge/internal/store"
)

// Dispatcher delivers a push message to a user's endpoints.
type Dispatcher interface {
	Enabled() bool
	Dispatch(ctx context.Context, userID int64, msg push.Message) (push.Result, error)
}

type PushHandler struct {
	pushStore  *store.PushStore
	dispatcher Dispatcher
	publicKey  string
	logger     *slog.Logger
}

func NewPushHandler(ps *store.PushStore, d Dispatcher, publicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, dispatcher: d, publicKey: publicKey, logger: logger}
}

// subscribeRequest accepts the browser's PushSubscription JSON as-is.
type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe. Re-subscribing an endpoint
// replaces its keys and owner.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeMessage(w, http.StatusBadRequest, "endpoint, keys.p256dh, and keys.auth are required")
		return
	}

	ep, err := h.pushStore.Upsert(r.Context(), auth.UserID(r.Context()), req.Endpoint, req.Keys.P256dh, req.Keys.Auth, req.DeviceName)
	if err != nil {
		writeError(w, h.logger, "save subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles DELETE /api/push/subscribe
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeMessage(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if err := h.pushStore.DeleteForUser(r.Context(), auth.UserID(r.Context()), req.Endpoint); err != nil {
		writeError(w, h.logger, "delete subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	eps, err := h.pushStore.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list subscriptions", err)
		return
	}
	if eps == nil {
		eps = []model.PushEndpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeMessage(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.publicKey})
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	if !h.dispatcher.Enabled() {
		writeMessage(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}
	res, err := h.dispatcher.Dispatch(r.Context(), auth.UserID(r.Context()), push.SelfTestMessage(auth.Language(r.Context())))
	if err != nil {
		writeError(w, h.logger, "send test notification", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
