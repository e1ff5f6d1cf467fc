package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
)

// MockOrderStore is an in-memory order.Repository for testing. It enforces
// the same per-day order number uniqueness and compare-and-swap semantics as
// the Postgres store, and issues sequences from a per-day counter like the
// order_counters table.
type MockOrderStore struct {
	mu       sync.Mutex
	orders   map[int64]*order.Order
	nextID   int64
	counters map[string]int

	// Latency is slept, outside the lock, before each Insert, Next and
	// ListNumbersCreatedBetween call to widen race windows.
	Latency time.Duration

	// For tracking calls in tests
	InsertCalls       []InsertCall
	UpdateStatusCalls []order.StatusUpdate
	ListCalls         []order.Filter
	NextCalls         int

	InsertErr      error
	NextErr        error
	GetErr         error
	ListNumbersErr error
	UpdateErr      error
	ListErr        error

	// BeforeUpdate runs before a conditional update is evaluated, with the
	// lock released. Tests use it to simulate a concurrent writer.
	BeforeUpdate func(u order.StatusUpdate)
}

// InsertCall records parameters passed to Insert
type InsertCall struct {
	Number      string
	BusinessDay string
}

// NewMockOrderStore creates a new MockOrderStore
func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{
		orders:   make(map[int64]*order.Order),
		counters: make(map[string]int),
	}
}

func (m *MockOrderStore) delay() {
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}
}

// Next increments the counter for day, seeding it from the highest sequence
// stored for that business day on first use.
func (m *MockOrderStore) Next(ctx context.Context, day time.Time) (int, error) {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.NextCalls++
	if m.NextErr != nil {
		return 0, m.NextErr
	}
	key := day.Format(order.BusinessDayLayout)
	seq, ok := m.counters[key]
	if !ok {
		var numbers []string
		for _, o := range m.orders {
			if o.BusinessDay == key {
				numbers = append(numbers, o.Number)
			}
		}
		seq = order.NextSequence(numbers) - 1
	}
	seq++
	m.counters[key] = seq
	return seq, nil
}

func (m *MockOrderStore) Insert(ctx context.Context, o *order.Order) error {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertCalls = append(m.InsertCalls, InsertCall{Number: o.Number, BusinessDay: o.BusinessDay})

	if m.InsertErr != nil {
		return m.InsertErr
	}
	for _, existing := range m.orders {
		if existing.Number == o.Number && existing.BusinessDay == o.BusinessDay {
			return order.ErrDuplicateNumber
		}
	}

	m.nextID++
	o.ID = m.nextID
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MockOrderStore) Get(ctx context.Context, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *MockOrderStore) ListNumbersCreatedBetween(ctx context.Context, start, end time.Time) ([]string, error) {
	m.delay()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListNumbersErr != nil {
		return nil, m.ListNumbersErr
	}
	var numbers []string
	for _, o := range m.orders {
		if !o.CreatedAt.Before(start) && o.CreatedAt.Before(end) {
			numbers = append(numbers, o.Number)
		}
	}
	return numbers, nil
}

func (m *MockOrderStore) UpdateStatus(ctx context.Context, u order.StatusUpdate) (int64, error) {
	if m.BeforeUpdate != nil {
		m.BeforeUpdate(u)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateStatusCalls = append(m.UpdateStatusCalls, u)

	if m.UpdateErr != nil {
		return 0, m.UpdateErr
	}
	o, ok := m.orders[u.ID]
	if !ok || o.Status != u.From {
		return 0, nil
	}
	o.Status = u.To
	o.UpdatedAt = u.UpdatedAt
	if o.TakenAt == nil && u.TakenAt != nil {
		t := *u.TakenAt
		o.TakenAt = &t
	}
	if o.PreparedAt == nil && u.PreparedAt != nil {
		t := *u.PreparedAt
		o.PreparedAt = &t
	}
	return 1, nil
}

func (m *MockOrderStore) List(ctx context.Context, f order.Filter) ([]*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls = append(m.ListCalls, f)

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	wanted := make(map[order.Status]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		wanted[s] = true
	}

	result := make([]*order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if len(wanted) > 0 && !wanted[o.Status] {
			continue
		}
		if !f.Since.IsZero() && o.CreatedAt.Before(f.Since) {
			continue
		}
		result = append(result, o.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return result[:0], nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// SetOrder stores o directly for testing, keeping its ID.
func (m *MockOrderStore) SetOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		m.nextID++
		o.ID = m.nextID
	} else if o.ID > m.nextID {
		m.nextID = o.ID
	}
	m.orders[o.ID] = o.Clone()
}

// GetData gets an order directly for testing (without recording the call)
func (m *MockOrderStore) GetData(id int64) (*order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// All returns every stored order.
func (m *MockOrderStore) All() []*order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		all = append(all, o.Clone())
	}
	return all
}

var (
	_ order.Repository = (*MockOrderStore)(nil)
	_ order.Sequencer  = (*MockOrderStore)(nil)
)

// Reset clears all data and recorded calls
func (m *MockOrderStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[int64]*order.Order)
	m.nextID = 0
	m.counters = make(map[string]int)
	m.Latency = 0
	m.NextCalls = 0
	m.NextErr = nil
	m.InsertCalls = nil
	m.UpdateStatusCalls = nil
	m.ListCalls = nil
	m.InsertErr = nil
	m.GetErr = nil
	m.ListNumbersErr = nil
	m.UpdateErr = nil
	m.ListErr = nil
	m.BeforeUpdate = nil
}
