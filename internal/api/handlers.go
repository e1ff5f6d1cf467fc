package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/cafe-orders/internal/api/middleware"
	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/example/cafe-orders/internal/realtime"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxListLimit caps a single full-list response.
const maxListLimit = 500

type Handlers struct {
	orders    *order.Service
	publisher realtime.Publisher
	logger    *zap.Logger
}

func NewHandlers(orders *order.Service, publisher realtime.Publisher, logger *zap.Logger) *Handlers {
	return &Handlers{
		orders:    orders,
		publisher: publisher,
		logger:    logger.Named("api"),
	}
}

// errorResponse is the body of every non-2xx reply. Order carries the
// server's current state on 409 so clients can reconcile.
type errorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message,omitempty"`
	Order   *order.Order `json:"order,omitempty"`
}

// Order Handlers

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.NewOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "bad_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.CustomerID == "" {
		req.CustomerID = middleware.SubjectFrom(r.Context())
	}

	o, err := h.orders.Create(r.Context(), req)
	switch {
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidItem),
		errors.Is(err, order.ErrInvalidOrderType):
		respondJSONError(w, "invalid_order", err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("create order failed", zap.Error(err))
		respondJSONError(w, "internal_error", "Failed to create order", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	o, err := h.orders.Get(r.Context(), id)
	if errors.Is(err, order.ErrOrderNotFound) {
		respondJSONError(w, "not_found", "Order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get order failed", zap.Int64("id", id), zap.Error(err))
		respondJSONError(w, "internal_error", "Failed to load order", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, o)
}

// ListOrders serves the full-list refresh. Query parameters: status
// (comma separated), since (RFC 3339, applies to created_at) and limit.
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f order.Filter

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := order.ParseStatus(part)
			if err != nil {
				respondJSONError(w, "bad_request", err.Error(), http.StatusBadRequest)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondJSONError(w, "bad_request", "since must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		f.Since = since
	}
	f.Limit = maxListLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondJSONError(w, "bad_request", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if limit < maxListLimit {
			f.Limit = limit
		}
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			respondJSONError(w, "bad_request", "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		f.Offset = offset
	}

	orders, err := h.orders.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list orders failed", zap.Error(err))
		respondJSONError(w, "internal_error", "Failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}

	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "bad_request", "Invalid request body", http.StatusBadRequest)
		return
	}
	to, err := order.ParseStatus(req.Status)
	if err != nil {
		respondJSONError(w, "bad_request", err.Error(), http.StatusBadRequest)
		return
	}

	o, err := h.orders.ChangeStatus(r.Context(), id, to)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, o)
	case errors.Is(err, order.ErrOrderNotFound):
		respondJSONError(w, "not_found", "Order not found", http.StatusNotFound)
	case errors.Is(err, order.ErrInvalidTransition):
		respondJSON(w, http.StatusConflict, errorResponse{Error: "invalid_transition", Message: err.Error(), Order: o})
	case errors.Is(err, order.ErrConflictingUpdate):
		respondJSON(w, http.StatusConflict, errorResponse{Error: "conflicting_update", Message: err.Error(), Order: o})
	default:
		h.logger.Error("change status failed", zap.Int64("id", id), zap.String("to", string(to)), zap.Error(err))
		respondJSONError(w, "internal_error", "Failed to change status", http.StatusInternalServerError)
	}
}

// RequestRefresh tells every connected display to re-fetch the full list.
func (h *Handlers) RequestRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.publisher.Publish(r.Context(), realtime.RefreshRequested()); err != nil {
		h.logger.Warn("refresh request not delivered", zap.Error(err))
		respondJSONError(w, "unavailable", "Refresh could not be published", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondJSONError(w, "bad_request", "Invalid order id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, code, message string, status int) {
	respondJSON(w, status, errorResponse{Error: code, Message: message})
}
