package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/google/uuid"
)

type EventType string

const (
	EventOrderCreated       EventType = "order_created"
	EventOrderUpdated       EventType = "order_updated"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventRefreshRequested   EventType = "refresh_requested"
)

var (
	ErrMalformedEventPayload = errors.New("malformed event payload")
	ErrTransportDisconnected = errors.New("transport disconnected")
	ErrHubClosed             = errors.New("hub closed")
)

// StatusChange is the payload of order_status_changed.
type StatusChange struct {
	OrderID   int64        `json:"order_id"`
	Number    string       `json:"order_number,omitempty"`
	Status    order.Status `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Event is one push message. Exactly one of Order and Status is set,
// depending on Type; refresh_requested carries neither.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Order     *order.Order  `json:"order,omitempty"`
	Status    *StatusChange `json:"status,omitempty"`
	EmittedAt time.Time     `json:"emitted_at"`
}

func newEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t, EmittedAt: time.Now().UTC()}
}

// FromChange converts an order mutation into its push event.
func FromChange(c order.Change) Event {
	switch c.Kind {
	case order.ChangeStatusChanged:
		e := newEvent(EventOrderStatusChanged)
		e.Status = &StatusChange{
			OrderID:   c.Order.ID,
			Number:    c.Order.Number,
			Status:    c.Order.Status,
			UpdatedAt: c.Order.UpdatedAt,
		}
		return e
	case order.ChangeCreated:
		e := newEvent(EventOrderCreated)
		e.Order = c.Order
		return e
	default:
		e := newEvent(EventOrderUpdated)
		e.Order = c.Order
		return e
	}
}

// RefreshRequested tells clients to re-fetch the full active order list.
func RefreshRequested() Event {
	return newEvent(EventRefreshRequested)
}

// OrderID is the id of the order the event concerns, or 0.
func (e Event) OrderID() int64 {
	switch {
	case e.Order != nil:
		return e.Order.ID
	case e.Status != nil:
		return e.Status.OrderID
	}
	return 0
}

// Key partitions events so one order's events stay in sequence.
func (e Event) Key() string {
	if id := e.OrderID(); id != 0 {
		return strconv.FormatInt(id, 10)
	}
	return string(e.Type)
}

func (e Event) Validate() error {
	switch e.Type {
	case EventOrderCreated, EventOrderUpdated:
		if e.Order == nil {
			return fmt.Errorf("%w: %s without order", ErrMalformedEventPayload, e.Type)
		}
		if e.Order.ID <= 0 || !e.Order.Status.Valid() {
			return fmt.Errorf("%w: %s with invalid order", ErrMalformedEventPayload, e.Type)
		}
	case EventOrderStatusChanged:
		if e.Status == nil {
			return fmt.Errorf("%w: %s without status", ErrMalformedEventPayload, e.Type)
		}
		if e.Status.OrderID <= 0 || !e.Status.Status.Valid() {
			return fmt.Errorf("%w: %s with invalid status", ErrMalformedEventPayload, e.Type)
		}
	case EventRefreshRequested:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEventPayload, e.Type)
	}
	return nil
}

func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses and validates an inbound event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEventPayload, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
