package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// itemContainerKeys are the keys legacy rows nest their line items under.
var itemContainerKeys = []string{"items", "line_items", "products"}

// rawItem accepts every field spelling found in stored orders.
type rawItem struct {
	ProductID    json.RawMessage `json:"product_id"`
	ProductIDAlt json.RawMessage `json:"productId"`
	ID           json.RawMessage `json:"id"`
	Name         string          `json:"name"`
	ProductName  string          `json:"product_name"`
	NameAlt      string          `json:"productName"`
	Quantity     json.RawMessage `json:"quantity"`
	Qty          json.RawMessage `json:"qty"`
	UnitPrice    json.RawMessage `json:"unit_price"`
	UnitAlt      json.RawMessage `json:"unitPrice"`
	Price        json.RawMessage `json:"price"`
	Subtotal     json.RawMessage `json:"subtotal"`
}

// DecodeItems normalises a stored line item payload into []Item. It accepts a
// JSON array, a JSON string holding an encoded array, or an object nesting the
// array under one of itemContainerKeys. Null or empty input yields no items.
func DecodeItems(data []byte) ([]Item, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []Item{}, nil
	}

	switch data[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
		return DecodeItems([]byte(inner))
	case '{':
		var container map[string]json.RawMessage
		if err := json.Unmarshal(data, &container); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
		for _, key := range itemContainerKeys {
			if nested, ok := container[key]; ok {
				return DecodeItems(nested)
			}
		}
		return nil, fmt.Errorf("%w: no item list in object", ErrInvalidItem)
	case '[':
	default:
		return nil, fmt.Errorf("%w: unexpected payload", ErrInvalidItem)
	}

	var raws []rawItem
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	items := make([]Item, 0, len(raws))
	for i, r := range raws {
		item, err := r.normalize()
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidItem, i+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// EncodeItems is the inverse of DecodeItems for the canonical shape.
func EncodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}

func (r rawItem) normalize() (Item, error) {
	item := Item{
		ProductID: scalarString(firstPresent(r.ProductID, r.ProductIDAlt, r.ID)),
		Name:      firstNonEmpty(r.Name, r.ProductName, r.NameAlt),
	}

	qty, err := parseQuantity(firstPresent(r.Quantity, r.Qty))
	if err != nil {
		return Item{}, err
	}
	item.Quantity = qty

	price, err := parseDecimal(firstPresent(r.UnitPrice, r.UnitAlt, r.Price))
	if err != nil {
		return Item{}, fmt.Errorf("price: %v", err)
	}
	item.UnitPrice = price

	subtotal, err := parseDecimal(r.Subtotal)
	if err != nil {
		return Item{}, fmt.Errorf("subtotal: %v", err)
	}
	if subtotal.IsZero() {
		subtotal = price.Mul(decimal.NewFromInt(int64(qty)))
	}
	item.Subtotal = subtotal
	return item, nil
}

func firstPresent(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func parseQuantity(raw json.RawMessage) (int, error) {
	if raw == nil {
		return 1, nil
	}
	s := scalarString(raw)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("quantity %q is not a number", s)
	}
	q := int(f)
	if float64(q) != f || q <= 0 {
		return 0, fmt.Errorf("quantity %q must be a positive integer", s)
	}
	return q, nil
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if raw == nil {
		return decimal.Zero, nil
	}
	s := strings.TrimSpace(scalarString(raw))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
