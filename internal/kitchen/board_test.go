package kitchen

import (
	"testing"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/example/cafe-orders/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoard_ApplyAddsAndUpdates(t *testing.T) {
	b := NewBoard()
	o := makeOrder(1, order.StatusPending, base, 2)

	assert.Equal(t, Added, b.Apply(o))
	assert.Equal(t, Ignored, b.Apply(o), "duplicate delivery")

	next := o.Clone()
	next.Status = order.StatusPreparing
	next.UpdatedAt = base.Add(time.Minute)
	assert.Equal(t, Updated, b.Apply(next))

	got, ok := b.Get(1)
	require.True(t, ok)
	assert.Equal(t, order.StatusPreparing, got.Status)
}

func TestBoard_StaleSnapshotDoesNotRegress(t *testing.T) {
	b := NewBoard()
	old := makeOrder(1, order.StatusPending, base, 1)
	newer := old.Clone()
	newer.Status = order.StatusReady
	newer.UpdatedAt = base.Add(5 * time.Minute)

	b.Apply(newer)
	assert.Equal(t, Ignored, b.Apply(old))

	got, _ := b.Get(1)
	assert.Equal(t, order.StatusReady, got.Status)
}

func TestBoard_ApplyIsOrderIndependent(t *testing.T) {
	pending := makeOrder(1, order.StatusPending, base, 1)
	preparing := pending.Clone()
	preparing.Status = order.StatusPreparing
	preparing.UpdatedAt = base.Add(time.Minute)
	ready := pending.Clone()
	ready.Status = order.StatusReady
	ready.UpdatedAt = base.Add(2 * time.Minute)

	forward := NewBoard()
	for _, o := range []*order.Order{pending, preparing, ready} {
		forward.Apply(o)
	}
	backward := NewBoard()
	for _, o := range []*order.Order{ready, pending, preparing} {
		backward.Apply(o)
	}

	a, _ := forward.Get(1)
	b, _ := backward.Get(1)
	assert.Equal(t, a, b)
	assert.Equal(t, order.StatusReady, a.Status)
}

func TestBoard_ApplyStatus(t *testing.T) {
	b := NewBoard()
	b.Apply(makeOrder(1, order.StatusPending, base, 3))

	res := b.ApplyStatus(realtime.StatusChange{OrderID: 1, Status: order.StatusPreparing, UpdatedAt: base.Add(time.Minute)})
	assert.Equal(t, Updated, res)

	got, _ := b.Get(1)
	assert.Equal(t, order.StatusPreparing, got.Status)
	require.NotNil(t, got.TakenAt)
	assert.Len(t, got.Items, 3, "fields updated in place")

	stale := b.ApplyStatus(realtime.StatusChange{OrderID: 1, Status: order.StatusPending, UpdatedAt: base})
	assert.Equal(t, Ignored, stale)
}

func TestBoard_ApplyStatusUnknownOrderNeedsRefresh(t *testing.T) {
	b := NewBoard()

	res := b.ApplyStatus(realtime.StatusChange{OrderID: 42, Status: order.StatusReady, UpdatedAt: base})

	assert.Equal(t, NeedsRefresh, res)
	assert.Equal(t, 0, b.Len())
}

func TestBoard_Replace(t *testing.T) {
	b := NewBoard()
	asOf := base.Add(10 * time.Minute)

	gone := makeOrder(1, order.StatusReady, base, 1)
	b.Apply(gone)

	kept := makeOrder(2, order.StatusPending, base, 1)
	localNewer := kept.Clone()
	localNewer.Status = order.StatusPreparing
	localNewer.UpdatedAt = asOf.Add(time.Second)
	b.Apply(localNewer)

	justCreated := makeOrder(3, order.StatusPending, asOf.Add(2*time.Second), 1)
	b.Apply(justCreated)

	listed := makeOrder(4, order.StatusPending, base, 2)

	b.Replace([]*order.Order{kept, listed}, asOf)

	_, ok := b.Get(1)
	assert.False(t, ok, "orders absent from the list are removed")

	got, ok := b.Get(2)
	require.True(t, ok)
	assert.Equal(t, order.StatusPreparing, got.Status, "newer local snapshot wins")

	_, ok = b.Get(3)
	assert.True(t, ok, "order changed after the fetch started is kept")

	_, ok = b.Get(4)
	assert.True(t, ok)
	assert.Equal(t, 3, b.Len())
}

func TestBoard_MergeNeverRemoves(t *testing.T) {
	b := NewBoard()
	b.Apply(makeOrder(1, order.StatusPending, base, 1))
	newerOrder := makeOrder(2, order.StatusPreparing, base, 1)
	newerOrder.UpdatedAt = base.Add(time.Minute)
	b.Apply(newerOrder)

	stale := makeOrder(2, order.StatusPending, base, 1)
	b.Merge([]*order.Order{stale, makeOrder(3, order.StatusPending, base, 1), nil})

	assert.Equal(t, 3, b.Len())
	got, ok := b.Get(2)
	require.True(t, ok)
	assert.Equal(t, order.StatusPreparing, got.Status)
}
