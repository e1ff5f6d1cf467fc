package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresOrderStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresOrderStore(db), mock
}

func sampleOrder() *order.Order {
	return &order.Order{
		Number:        "CMD-0001",
		BusinessDay:   "2024-03-01",
		Status:        order.StatusPending,
		Type:          order.TypeDineIn,
		PaymentStatus: order.PaymentUnpaid,
		Items: []order.Item{
			{ProductID: "latte", Name: "Latte", Quantity: 1, UnitPrice: decimal.NewFromInt(3)},
		},
		CreatedAt: storeNow,
		UpdatedAt: storeNow,
	}
}

func TestPostgresOrderStore_InsertSetsID(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO orders \(order_number, business_day, status`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	o := sampleOrder()
	require.NoError(t, s.Insert(context.Background(), o))

	assert.Equal(t, int64(42), o.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_InsertMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_day_number_key"})

	err := s.Insert(context.Background(), sampleOrder())

	assert.ErrorIs(t, err, order.ErrDuplicateNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_InsertPassesOtherErrors(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnError(&pq.Error{Code: "23502", Message: "null value in column"})

	err := s.Insert(context.Background(), sampleOrder())

	require.Error(t, err)
	assert.False(t, errors.Is(err, order.ErrDuplicateNumber))
}

func TestPostgresOrderStore_UpdateStatusKeepsStageTimestamps(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE orders\s+SET status = \$3,\s+updated_at = \$4,\s+` +
		`taken_at = COALESCE\(taken_at, \$5\),\s+prepared_at = COALESCE\(prepared_at, \$6\)\s+` +
		`WHERE id = \$1 AND status = \$2`).
		WithArgs(int64(7), order.StatusPending, order.StatusPreparing, storeNow, storeNow, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	taken := storeNow
	n, err := s.UpdateStatus(context.Background(), order.StatusUpdate{
		ID:        7,
		From:      order.StatusPending,
		To:        order.StatusPreparing,
		TakenAt:   &taken,
		UpdatedAt: storeNow,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_UpdateStatusLostRace(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE orders`).
		WithArgs(int64(7), order.StatusPending, order.StatusCancelled, storeNow, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.UpdateStatus(context.Background(), order.StatusUpdate{
		ID:        7,
		From:      order.StatusPending,
		To:        order.StatusCancelled,
		UpdatedAt: storeNow,
	})

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresOrderStore_NextUpsertsDailyCounter(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO order_counters (business_day, seq)") +
		`[\s\S]*ON CONFLICT \(business_day\) DO UPDATE SET seq = order_counters\.seq \+ 1\s+RETURNING seq`).
		WithArgs("2024-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seq, err := s.Next(context.Background(), day)

	require.NoError(t, err)
	assert.Equal(t, 3, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOrderStore_NextSeedsFromStoredNumbers(t *testing.T) {
	assert.Contains(t, nextSequenceQuery, "MAX(CAST(SUBSTRING(order_number FROM 5) AS INTEGER))")
	assert.Contains(t, nextSequenceQuery, "order_number ~ '^CMD-[0-9]{4,}$'")
}

func TestPostgresOrderStore_NextError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO order_counters`).WillReturnError(errors.New("connection refused"))

	_, err := s.Next(context.Background(), storeNow)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "next order sequence")
}

func TestPostgresOrderStore_GetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), 404)

	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresOrderStore_ListPages(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE status = ANY\(\$1\) ORDER BY created_at ASC, id ASC LIMIT \$2 OFFSET \$3`).
		WithArgs(sqlmock.AnyArg(), 500, 1000).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	orders, err := s.List(context.Background(), order.Filter{
		Statuses: []order.Status{order.StatusPending},
		Limit:    500,
		Offset:   1000,
	})

	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}
