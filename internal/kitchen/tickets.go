package kitchen

import (
	"fmt"
	"sort"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
)

// DefaultCapacity is the number of line items that fit on one ticket.
const DefaultCapacity = 10

type View string

const (
	// ViewActive shows orders still to be prepared.
	ViewActive View = "active"
	// ViewArchive shows orders waiting to be served.
	ViewArchive View = "archive"
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewActive, "":
		return ViewActive, nil
	case ViewArchive:
		return ViewArchive, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

func (v View) Includes(s order.Status) bool {
	switch v {
	case ViewArchive:
		return s == order.StatusReady
	default:
		return s == order.StatusPending || s == order.StatusPreparing
	}
}

// Ticket is one display segment of an order. An order with more items than
// the ticket capacity spans several tickets; concatenating their Items in
// Part order gives back the order's items.
type Ticket struct {
	OrderID     int64
	Number      string
	Status      order.Status
	Type        order.Type
	TableNumber int
	Notes       string
	Elapsed     time.Duration

	Part  int
	Parts int
	Items []order.Item

	IsContinuation bool
	IsLastPart     bool
}

// Tickets filters orders to view, sorts them longest-waiting first and
// splits each into tickets of at most capacity items. capacity <= 0 disables
// splitting. The output depends only on its arguments.
func Tickets(orders []*order.Order, view View, now time.Time, capacity int) []Ticket {
	visible := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		if o != nil && view.Includes(o.Status) {
			visible = append(visible, o)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Number < b.Number
	})

	tickets := make([]Ticket, 0, len(visible))
	for _, o := range visible {
		elapsed := now.Sub(o.CreatedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		parts := Split(o.Items, capacity)
		for i, items := range parts {
			tickets = append(tickets, Ticket{
				OrderID:        o.ID,
				Number:         o.Number,
				Status:         o.Status,
				Type:           o.Type,
				TableNumber:    o.TableNumber,
				Notes:          o.Notes,
				Elapsed:        elapsed,
				Part:           i + 1,
				Parts:          len(parts),
				Items:          items,
				IsContinuation: i > 0,
				IsLastPart:     i == len(parts)-1,
			})
		}
	}
	return tickets
}

// Split cuts items into consecutive chunks of at most capacity. It always
// returns at least one chunk so an order without items still gets a ticket.
func Split(items []order.Item, capacity int) [][]order.Item {
	if capacity <= 0 || len(items) <= capacity {
		return [][]order.Item{append([]order.Item(nil), items...)}
	}
	chunks := make([][]order.Item, 0, (len(items)+capacity-1)/capacity)
	for start := 0; start < len(items); start += capacity {
		end := start + capacity
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, append([]order.Item(nil), items[start:end]...))
	}
	return chunks
}
