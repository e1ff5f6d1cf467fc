package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeDineIn   Type = "dine_in"
	TypeTakeaway Type = "takeaway"
	TypeDelivery Type = "delivery"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentOnline PaymentMethod = "online"
)

// Item is a line of an order. Name is a snapshot of the product name taken
// when the order was placed.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Order struct {
	ID            int64           `json:"id"`
	Number        string          `json:"order_number"`
	BusinessDay   string          `json:"business_day"`
	Status        Status          `json:"status"`
	Type          Type            `json:"order_type"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Change        decimal.Decimal `json:"change"`
	Items         []Item          `json:"items"`
	CustomerID    string          `json:"customer_id,omitempty"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	TableNumber   int             `json:"table_number,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	TakenAt       *time.Time      `json:"taken_at,omitempty"`
	PreparedAt    *time.Time      `json:"prepared_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate snapshots freely.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.TakenAt != nil {
		c.TakenAt = timePtr(*o.TakenAt)
	}
	if o.PreparedAt != nil {
		c.PreparedAt = timePtr(*o.PreparedAt)
	}
	return &c
}

// TimeToTake is the wait between creation and the kitchen taking the order.
func (o *Order) TimeToTake() (time.Duration, bool) {
	if o.TakenAt == nil {
		return 0, false
	}
	return o.TakenAt.Sub(o.CreatedAt), true
}

// TimeToPrepare is the time the kitchen spent preparing the order.
func (o *Order) TimeToPrepare() (time.Duration, bool) {
	if o.TakenAt == nil || o.PreparedAt == nil {
		return 0, false
	}
	return o.PreparedAt.Sub(*o.TakenAt), true
}

// ItemRequest is one requested line on a new order.
type ItemRequest struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// NewOrderRequest is what an ordering surface (app, kiosk, staff) submits.
type NewOrderRequest struct {
	Type          Type            `json:"order_type"`
	Items         []ItemRequest   `json:"items"`
	Discount      decimal.Decimal `json:"discount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CustomerID    string          `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	TableNumber   int             `json:"table_number"`
	Notes         string          `json:"notes"`
}

// Build validates the request and returns an unnumbered pending order with
// its totals computed.
func (r NewOrderRequest) Build(now time.Time) (*Order, error) {
	if len(r.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	orderType := r.Type
	if orderType == "" {
		orderType = TypeDineIn
	}
	switch orderType {
	case TypeDineIn, TypeTakeaway, TypeDelivery:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderType, r.Type)
	}

	items := make([]Item, 0, len(r.Items))
	subtotal := decimal.Zero
	for i, req := range r.Items {
		if req.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d: quantity must be positive", ErrInvalidItem, i+1)
		}
		if req.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %d: price must not be negative", ErrInvalidItem, i+1)
		}
		name := strings.TrimSpace(req.Name)
		if name == "" && req.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d: product or name is required", ErrInvalidItem, i+1)
		}
		line := req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
		subtotal = subtotal.Add(line)
		items = append(items, Item{
			ProductID: req.ProductID,
			Name:      name,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
			Subtotal:  line,
		})
	}

	discount := r.Discount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	change := r.AmountPaid.Sub(total)
	if change.IsNegative() {
		change = decimal.Zero
	}

	payment := PaymentUnpaid
	if r.PaymentMethod != "" && r.AmountPaid.GreaterThanOrEqual(total) {
		payment = PaymentPaid
	}

	return &Order{
		Status:        StatusPending,
		Type:          orderType,
		PaymentStatus: payment,
		PaymentMethod: r.PaymentMethod,
		Subtotal:      subtotal,
		Discount:      discount,
		Total:         total,
		AmountPaid:    r.AmountPaid,
		Change:        change,
		Items:         items,
		CustomerID:    r.CustomerID,
		CustomerEmail: r.CustomerEmail,
		TableNumber:   r.TableNumber,
		Notes:         r.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
