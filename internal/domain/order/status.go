package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusServed    Status = "served"
	StatusCancelled Status = "cancelled"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("order must have at least one item")
	ErrInvalidItem       = errors.New("invalid order item")
	ErrInvalidOrderType  = errors.New("invalid order type")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrConflictingUpdate = errors.New("order status was changed by another writer")
	ErrSequenceExhausted = errors.New("order number sequence retries exhausted")
	ErrDuplicateNumber   = errors.New("order number already exists")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusServed},
	StatusServed:    {}, // terminal state
	StatusCancelled: {}, // terminal state
}

// rank orders statuses along the forward walk of the graph. Cancelled sits
// past every live status so a cancellation is never regressed by a stale
// snapshot.
var rank = map[Status]int{
	StatusPending:   0,
	StatusPreparing: 1,
	StatusReady:     2,
	StatusServed:    3,
	StatusCancelled: 4,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusServed || s == StatusCancelled
}

// Rank is the position of s on the forward walk; -1 for unknown statuses.
func (s Status) Rank() int {
	r, ok := rank[s]
	if !ok {
		return -1
	}
	return r
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply moves o to status to at time now.
//
// Requesting the current status is a no-op: changed is false and o, including
// UpdatedAt, is left untouched. Any edge missing from the graph returns
// ErrInvalidTransition and leaves o untouched. TakenAt and PreparedAt are only
// ever written while nil.
func Apply(o *Order, to Status, now time.Time) (changed bool, err error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if o.Status == to {
		return false, nil
	}
	if !CanTransition(o.Status, to) {
		return false, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.Status, to)
	}

	switch to {
	case StatusPreparing:
		if o.TakenAt == nil {
			o.TakenAt = timePtr(now)
		}
	case StatusReady:
		if o.PreparedAt == nil {
			o.PreparedAt = timePtr(now)
		}
	}
	o.Status = to
	o.UpdatedAt = now
	return true, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
