package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/inventory"
	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/store"
	ws "github.com/dukerupert/nudge/internal/websocket"
)

type StockHandler struct {
	inventory *store.InventoryStore
	hub       Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewStockHandler(inv *store.InventoryStore, hub Publisher, logger *slog.Logger) *StockHandler {
	return &StockHandler{inventory: inv, hub: hub, logger: logger, now: time.Now}
}

func (h *StockHandler) publish(userID, itemID int64) {
	if h.hub != nil {
		h.hub.Publish(userID, ws.NewMessage("stock", "updated", itemID, nil))
	}
}

func (h *StockHandler) summarize(r *http.Request, it model.InventoryItem) (inventory.Summary, error) {
	batches, err := h.inventory.ListBatches(r.Context(), it.ID, false)
	if err != nil {
		return inventory.Summary{}, err
	}
	return inventory.Summarize(it, batches, h.now()), nil
}

// ownedItem loads the {id} item, writing the error response itself when it fails.
func (h *StockHandler) ownedItem(w http.ResponseWriter, r *http.Request) (*model.InventoryItem, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	it, err := h.inventory.GetItemForUser(r.Context(), auth.UserID(r.Context()), id)
	if err != nil {
		writeError(w, h.logger, "get stock", err)
		return nil, false
	}
	return it, true
}

// List handles GET /api/stock
func (h *StockHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.ListItems(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list stock", err)
		return
	}
	out := make([]inventory.Summary, 0, len(items))
	for _, it := range items {
		s, err := h.summarize(r, it)
		if err != nil {
			writeError(w, h.logger, "list stock", err)
			return
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

type stockRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/stock
func (h *StockHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	userID := auth.UserID(r.Context())
	it, err := h.inventory.CreateItem(r.Context(), userID, req.Name)
	if err != nil {
		writeError(w, h.logger, "create stock", err)
		return
	}
	h.publish(userID, it.ID)
	writeJSON(w, http.StatusCreated, inventory.Summarize(*it, nil, h.now()))
}

// Get handles GET /api/stock/{id}
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	it, ok := h.ownedItem(w, r)
	if !ok {
		return
	}
	s, err := h.summarize(r, *it)
	if err != nil {
		writeError(w, h.logger, "get stock", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Delete handles DELETE /api/stock/{id}. Routines tracking the item stop
// consuming stock.
func (h *StockHandler) Delete(w http.ResponseWriter, r *http.Request) {
	it, ok := h.ownedItem(w, r)
	if !ok {
		return
	}
	if err := h.inventory.DeleteItem(r.Context(), it.UserID, it.ID); err != nil {
		writeError(w, h.logger, "delete stock", err)
		return
	}
	h.publish(it.UserID, it.ID)
	w.WriteHeader(http.StatusNoContent)
}

type lotRequest struct {
	Quantity   *int    `json:"quantity"`
	ExpiryDate *string `json:"expiry_date"`
	LotNumber  *string `json:"lot_number"`
}

func parseExpiry(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := time.Parse(model.DateLayout, *s)
	if err != nil {
		return nil, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", inventory.ErrInvalidBatch)
	}
	return &d, nil
}

// CreateLot handles POST /api/stock/{id}/lots
func (h *StockHandler) CreateLot(w http.ResponseWriter, r *http.Request) {
	it, ok := h.ownedItem(w, r)
	if !ok {
		return
	}
	var req lotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	b := model.Batch{ItemID: it.ID}
	if req.Quantity != nil {
		b.Quantity = *req.Quantity
	}
	if req.LotNumber != nil {
		b.Label = strings.TrimSpace(*req.LotNumber)
	}
	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		writeError(w, h.logger, "create lot", err)
		return
	}
	b.ExpiryDate = expiry
	if err := inventory.ValidateBatch(b.Quantity, b.ExpiryDate, h.now()); err != nil {
		writeError(w, h.logger, "create lot", err)
		return
	}

	created, err := h.inventory.CreateBatch(r.Context(), b)
	if err != nil {
		writeError(w, h.logger, "create lot", err)
		return
	}
	if err := h.inventory.TouchItem(r.Context(), it.ID, h.now()); err != nil {
		h.logger.Warn("touch stock", "item_id", it.ID, "error", err)
	}
	h.publish(it.UserID, it.ID)
	writeJSON(w, http.StatusCreated, created)
}

// UpdateLot handles PATCH /api/stock/{id}/lots/{lot}. Omitted fields keep
// their value; an empty expiry_date clears it.
func (h *StockHandler) UpdateLot(w http.ResponseWriter, r *http.Request) {
	it, ok := h.ownedItem(w, r)
	if !ok {
		return
	}
	lotID, err := parsePathID(r, "lot")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid lot id")
		return
	}
	b, err := h.inventory.GetBatch(r.Context(), it.ID, lotID)
	if err != nil {
		writeError(w, h.logger, "get lot", err)
		return
	}

	var req lotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Quantity != nil {
		b.Quantity = *req.Quantity
	}
	if req.LotNumber != nil {
		b.Label = strings.TrimSpace(*req.LotNumber)
	}
	// An unchanged expiry may already be in the past.
	var newExpiry *time.Time
	if req.ExpiryDate != nil {
		newExpiry, err = parseExpiry(req.ExpiryDate)
		if err != nil {
			writeError(w, h.logger, "update lot", err)
			return
		}
		b.ExpiryDate = newExpiry
	}
	if err := inventory.ValidateBatch(b.Quantity, newExpiry, h.now()); err != nil {
		writeError(w, h.logger, "update lot", err)
		return
	}

	updated, err := h.inventory.UpdateBatch(r.Context(), *b)
	if err != nil {
		writeError(w, h.logger, "update lot", err)
		return
	}
	if err := h.inventory.TouchItem(r.Context(), it.ID, h.now()); err != nil {
		h.logger.Warn("touch stock", "item_id", it.ID, "error", err)
	}
	h.publish(it.UserID, it.ID)
	writeJSON(w, http.StatusOK, updated)
}

// DeleteLot handles DELETE /api/stock/{id}/lots/{lot}
func (h *StockHandler) DeleteLot(w http.ResponseWriter, r *http.Request) {
	it, ok := h.ownedItem(w, r)
	if !ok {
		return
	}
	lotID, err := parsePathID(r, "lot")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid lot id")
		return
	}
	if err := h.inventory.DeleteBatch(r.Context(), it.ID, lotID); err != nil {
		writeError(w, h.logger, "delete lot", err)
		return
	}
	if err := h.inventory.TouchItem(r.Context(), it.ID, h.now()); err != nil {
		h.logger.Warn("touch stock", "item_id", it.ID, "error", err)
	}
	h.publish(it.UserID, it.ID)
	w.WriteHeader(http.StatusNoContent)
}
