package notification

import (
	"context"
	"sync"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/example/cafe-orders/internal/email"
	"github.com/example/cafe-orders/internal/monitoring"
	"github.com/example/cafe-orders/internal/realtime"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxRemembered bounds the set of orders already mailed. The topic is
// delivered at least once, so redeliveries of the same ready event are
// skipped while they are remembered.
const maxRemembered = 10000

// Mailer sends the order ready email.
type Mailer interface {
	SendOrderReady(to, number string, total decimal.Decimal, items []email.OrderItem) error
}

// Handler processes change events and mails customers whose order is ready.
type Handler struct {
	mailer Mailer
	logger *zap.Logger

	mu   sync.Mutex
	sent map[int64]struct{}
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		mailer: mailer,
		logger: logger.Named("notifier"),
		sent:   make(map[int64]struct{}),
	}
}

// HandleEvent processes an event from Kafka. Only order_updated carries the
// customer email, so the status-only event is ignored.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	e, err := realtime.Decode(value)
	if err != nil {
		monitoring.RecordMalformedEvent("notifier")
		h.logger.Warn("dropping malformed event", zap.String("key", string(key)), zap.Error(err))
		return nil
	}

	if e.Type != realtime.EventOrderUpdated || e.Order == nil {
		return nil
	}
	o := e.Order
	if o.Status != order.StatusReady || o.CustomerEmail == "" {
		return nil
	}
	if !h.remember(o.ID) {
		h.logger.Debug("ready email already sent", zap.Int64("id", o.ID))
		return nil
	}

	items := make([]email.OrderItem, len(o.Items))
	for i, item := range o.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		items[i] = email.OrderItem{Name: name, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}

	if err := h.mailer.SendOrderReady(o.CustomerEmail, o.Number, o.Total, items); err != nil {
		h.forget(o.ID)
		h.logger.Error("failed to send ready email",
			zap.Int64("id", o.ID),
			zap.String("number", o.Number),
			zap.Error(err))
		return err
	}

	h.logger.Info("ready email sent", zap.Int64("id", o.ID), zap.String("number", o.Number))
	return nil
}

func (h *Handler) remember(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sent[id]; ok {
		return false
	}
	if len(h.sent) >= maxRemembered {
		h.sent = make(map[int64]struct{})
	}
	h.sent[id] = struct{}{}
	return true
}

func (h *Handler) forget(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sent, id)
}
