package order

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeItems_CanonicalArray(t *testing.T) {
	items, err := DecodeItems([]byte(`[{"product_id":"p1","name":"Latte","quantity":2,"unit_price":"3.50","subtotal":"7.00"}]`))

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p1", items[0].ProductID)
	assert.Equal(t, "Latte", items[0].Name)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, decimal.RequireFromString("3.50").Equal(items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("7").Equal(items[0].Subtotal))
}

func TestDecodeItems_StringEncodedArray(t *testing.T) {
	items, err := DecodeItems([]byte(`"[{\"name\":\"Mocha\",\"qty\":\"3\",\"price\":2}]"`))

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Mocha", items[0].Name)
	assert.Equal(t, 3, items[0].Quantity)
	assert.True(t, decimal.NewFromInt(6).Equal(items[0].Subtotal))
}

func TestDecodeItems_NestedContainers(t *testing.T) {
	for _, key := range []string{"items", "line_items", "products"} {
		t.Run(key, func(t *testing.T) {
			payload := `{"` + key + `":[{"productName":"Bagel","productId":17,"unitPrice":1.25}]}`
			items, err := DecodeItems([]byte(payload))

			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "Bagel", items[0].Name)
			assert.Equal(t, "17", items[0].ProductID)
			assert.Equal(t, 1, items[0].Quantity)
		})
	}
}

func TestDecodeItems_EmptyInputs(t *testing.T) {
	for _, in := range []string{"", "null", "[]", `"[]"`} {
		items, err := DecodeItems([]byte(in))
		require.NoError(t, err, in)
		assert.Empty(t, items, in)
	}
}

func TestDecodeItems_Rejects(t *testing.T) {
	tests := map[string]string{
		"scalar":           `42`,
		"object no list":   `{"foo":[]}`,
		"zero quantity":    `[{"name":"x","quantity":0}]`,
		"fractional qty":   `[{"name":"x","quantity":1.5}]`,
		"non-numeric qty":  `[{"name":"x","quantity":"two"}]`,
		"non-numeric cost": `[{"name":"x","price":"abc"}]`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeItems([]byte(in))
			assert.True(t, errors.Is(err, ErrInvalidItem))
		})
	}
}

func TestEncodeItems_DecodesBack(t *testing.T) {
	items := []Item{{
		ProductID: "p9",
		Name:      "Espresso",
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("2.10"),
		Subtotal:  decimal.RequireFromString("2.10"),
	}}
	data, err := EncodeItems(items)
	require.NoError(t, err)

	decoded, err := DecodeItems(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "Espresso", decoded[0].Name)
	assert.True(t, items[0].UnitPrice.Equal(decoded[0].UnitPrice))

	data, err = EncodeItems(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}
