package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(id int64, status order.Status) *order.Order {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:        id,
		Number:    order.FormatNumber(int(id)),
		Status:    status,
		Type:      order.TypeDineIn,
		Items:     []order.Item{{Name: "Latte", Quantity: 1}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFromChange(t *testing.T) {
	o := testOrder(7, order.StatusReady)

	created := FromChange(order.Change{Kind: order.ChangeCreated, Order: o})
	assert.Equal(t, EventOrderCreated, created.Type)
	assert.Same(t, o, created.Order)
	assert.NotEmpty(t, created.ID)

	updated := FromChange(order.Change{Kind: order.ChangeUpdated, Order: o})
	assert.Equal(t, EventOrderUpdated, updated.Type)

	status := FromChange(order.Change{Kind: order.ChangeStatusChanged, Order: o})
	assert.Equal(t, EventOrderStatusChanged, status.Type)
	assert.Nil(t, status.Order)
	require.NotNil(t, status.Status)
	assert.Equal(t, int64(7), status.Status.OrderID)
	assert.Equal(t, order.StatusReady, status.Status.Status)
	assert.Equal(t, "7", status.Key())

	assert.NotEqual(t, created.ID, updated.ID)
}

func TestEncodeDecode(t *testing.T) {
	e := FromChange(order.Change{Kind: order.ChangeCreated, Order: testOrder(3, order.StatusPending)})

	data, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(data)

	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, EventOrderCreated, got.Type)
	assert.Equal(t, "CMD-0003", got.Order.Number)
	assert.Equal(t, order.StatusPending, got.Order.Status)
}

func TestRefreshRequested(t *testing.T) {
	data, err := Encode(RefreshRequested())
	require.NoError(t, err)

	e, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, EventRefreshRequested, e.Type)
	assert.Equal(t, int64(0), e.OrderID())
	assert.Equal(t, "refresh_requested", e.Key())
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":             `{"type":`,
		"unknown type":         `{"type":"order_deleted"}`,
		"created without body": `{"type":"order_created"}`,
		"created without id":   `{"type":"order_created","order":{"status":"pending"}}`,
		"bad order status":     `{"type":"order_updated","order":{"id":1,"status":"lost"}}`,
		"status without body":  `{"type":"order_status_changed"}`,
		"status bad value":     `{"type":"order_status_changed","status":{"order_id":1,"status":"done"}}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			assert.True(t, errors.Is(err, ErrMalformedEventPayload), "got %v", err)
		})
	}
}

func TestEncode_RejectsInvalid(t *testing.T) {
	_, err := Encode(Event{Type: EventOrderCreated})
	assert.ErrorIs(t, err, ErrMalformedEventPayload)
}
