package kitchen

import (
	"sync"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/example/cafe-orders/internal/realtime"
)

// Result reports what applying a change did to the board.
type Result int

const (
	// Ignored: the change was stale or a duplicate.
	Ignored Result = iota
	Updated
	Added
	// NeedsRefresh: the change referred to an order the board does not know
	// and did not carry enough to display it.
	NeedsRefresh
)

// Board is the kitchen's local copy of the order set. Push events and
// periodic refreshes both feed it; a per-order UpdatedAt guard makes every
// path idempotent and keeps stale snapshots from regressing an order.
type Board struct {
	mu     sync.Mutex
	orders map[int64]*order.Order
}

func NewBoard() *Board {
	return &Board{orders: make(map[int64]*order.Order)}
}

// newer reports whether next should replace cur.
func newer(next, cur *order.Order) bool {
	if next.UpdatedAt.After(cur.UpdatedAt) {
		return true
	}
	if next.UpdatedAt.Before(cur.UpdatedAt) {
		return false
	}
	return next.Status.Rank() > cur.Status.Rank()
}

// Apply merges a full order snapshot.
func (b *Board) Apply(o *order.Order) Result {
	if o == nil || o.ID == 0 {
		return Ignored
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.orders[o.ID]
	if !ok {
		b.orders[o.ID] = o.Clone()
		return Added
	}
	if !newer(o, cur) {
		return Ignored
	}
	b.orders[o.ID] = o.Clone()
	return Updated
}

// ApplyStatus updates the status of a displayed order in place.
func (b *Board) ApplyStatus(c realtime.StatusChange) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.orders[c.OrderID]
	if !ok {
		return NeedsRefresh
	}
	next := cur.Clone()
	next.Status = c.Status
	next.UpdatedAt = c.UpdatedAt
	switch c.Status {
	case order.StatusPreparing:
		if next.TakenAt == nil {
			t := c.UpdatedAt
			next.TakenAt = &t
		}
	case order.StatusReady:
		if next.PreparedAt == nil {
			t := c.UpdatedAt
			next.PreparedAt = &t
		}
	}
	if !newer(next, cur) {
		return Ignored
	}
	b.orders[c.OrderID] = next
	return Updated
}

// Replace reconciles the board with an authoritative list fetched at asOf.
// Listed orders are merged through the staleness guard. Orders missing from
// the list are dropped unless they changed after asOf, which means a push
// event overtook the fetch.
func (b *Board) Replace(orders []*order.Order, asOf time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listed := make(map[int64]bool, len(orders))
	for _, o := range orders {
		if o == nil || o.ID == 0 {
			continue
		}
		listed[o.ID] = true
		if cur, ok := b.orders[o.ID]; ok && !newer(o, cur) {
			continue
		}
		b.orders[o.ID] = o.Clone()
	}
	for id, o := range b.orders {
		if !listed[id] && !o.UpdatedAt.After(asOf) {
			delete(b.orders, id)
		}
	}
}

// Merge applies a partial list: newer orders are stored, nothing is removed.
func (b *Board) Merge(orders []*order.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		if o == nil || o.ID == 0 {
			continue
		}
		if cur, ok := b.orders[o.ID]; ok && !newer(o, cur) {
			continue
		}
		b.orders[o.ID] = o.Clone()
	}
}

func (b *Board) Get(id int64) (*order.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Snapshot returns copies of every order on the board, in no particular
// order.
func (b *Board) Snapshot() []*order.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := make([]*order.Order, 0, len(b.orders))
	for _, o := range b.orders {
		all = append(all, o.Clone())
	}
	return all
}

func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}
