package order

import (
	"context"
	"time"
)

// Filter selects orders for the full-list refresh. Offset skips that many
// matches in list order, for paging.
type Filter struct {
	Statuses []Status
	Since    time.Time
	Limit    int
	Offset   int
}

// StatusUpdate is a compare-and-swap on an order's status: it only applies
// while the stored status still equals From.
type StatusUpdate struct {
	ID         int64
	From       Status
	To         Status
	TakenAt    *time.Time
	PreparedAt *time.Time
	UpdatedAt  time.Time
}

// Repository is the persistent order store.
type Repository interface {
	// Insert assigns o.ID. It returns ErrDuplicateNumber when o.Number is
	// already taken for o.BusinessDay.
	Insert(ctx context.Context, o *Order) error

	// Get returns ErrOrderNotFound for unknown ids.
	Get(ctx context.Context, id int64) (*Order, error)

	// ListNumbersCreatedBetween returns the order numbers of orders created
	// in [start, end).
	ListNumbersCreatedBetween(ctx context.Context, start, end time.Time) ([]string, error)

	// UpdateStatus returns the number of rows the conditional update matched.
	UpdateStatus(ctx context.Context, u StatusUpdate) (int64, error)

	// List returns orders matching f, oldest first. Since applies to
	// created_at.
	List(ctx context.Context, f Filter) ([]*Order, error)
}
