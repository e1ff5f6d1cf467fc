package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE Postgres reports for a UNIQUE conflict.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id             BIGSERIAL PRIMARY KEY,
	order_number   TEXT        NOT NULL,
	business_day   DATE        NOT NULL,
	status         TEXT        NOT NULL,
	order_type     TEXT        NOT NULL,
	payment_status TEXT        NOT NULL,
	payment_method TEXT        NOT NULL DEFAULT '',
	subtotal       NUMERIC(12,2) NOT NULL DEFAULT 0,
	discount       NUMERIC(12,2) NOT NULL DEFAULT 0,
	total          NUMERIC(12,2) NOT NULL DEFAULT 0,
	amount_paid    NUMERIC(12,2) NOT NULL DEFAULT 0,
	change_due     NUMERIC(12,2) NOT NULL DEFAULT 0,
	items          JSONB       NOT NULL DEFAULT '[]',
	customer_id    TEXT        NOT NULL DEFAULT '',
	customer_email TEXT        NOT NULL DEFAULT '',
	table_number   INTEGER     NOT NULL DEFAULT 0,
	notes          TEXT        NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	taken_at       TIMESTAMPTZ,
	prepared_at    TIMESTAMPTZ,
	CONSTRAINT orders_day_number_key UNIQUE (business_day, order_number)
);
CREATE INDEX IF NOT EXISTS orders_status_created_idx ON orders (status, created_at);
CREATE INDEX IF NOT EXISTS orders_created_idx ON orders (created_at);
CREATE TABLE IF NOT EXISTS order_counters (
	business_day DATE    PRIMARY KEY,
	seq          INTEGER NOT NULL
);
`

// nextSequenceQuery bumps the day's counter in one statement. The first call
// for a day seeds it from the highest sequential number already stored, so
// rows written before the counter existed are never reissued.
const nextSequenceQuery = `
	INSERT INTO order_counters (business_day, seq)
	VALUES ($1::date, COALESCE((
		SELECT MAX(CAST(SUBSTRING(order_number FROM 5) AS INTEGER))
		FROM orders
		WHERE business_day = $1::date AND order_number ~ '^CMD-[0-9]{4,}$'
	), 0) + 1)
	ON CONFLICT (business_day) DO UPDATE SET seq = order_counters.seq + 1
	RETURNING seq`

const orderColumns = `id, order_number, business_day, status, order_type, payment_status, payment_method,
	subtotal, discount, total, amount_paid, change_due, items, customer_id, customer_email,
	table_number, notes, created_at, updated_at, taken_at, prepared_at`

// PostgresOrderStore implements order.Repository on PostgreSQL.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

// Migrate creates the orders and order_counters tables if they do not exist.
func (s *PostgresOrderStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate orders: %w", err)
	}
	return nil
}

// Insert stores o and sets its ID. A taken (business_day, order_number)
// pair is reported as order.ErrDuplicateNumber.
func (s *PostgresOrderStore) Insert(ctx context.Context, o *order.Order) error {
	items, err := order.EncodeItems(o.Items)
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO orders (order_number, business_day, status, order_type, payment_status, payment_method,
			subtotal, discount, total, amount_paid, change_due, items, customer_id, customer_email,
			table_number, notes, created_at, updated_at, taken_at, prepared_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id`,
		o.Number, o.BusinessDay, o.Status, o.Type, o.PaymentStatus, o.PaymentMethod,
		o.Subtotal, o.Discount, o.Total, o.AmountPaid, o.Change, items, o.CustomerID, o.CustomerEmail,
		o.TableNumber, o.Notes, o.CreatedAt, o.UpdatedAt, nullTime(o.TakenAt), nullTime(o.PreparedAt),
	).Scan(&o.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return order.ErrDuplicateNumber
		}
		return err
	}
	return nil
}

// Next issues the next sequence for the business day starting at day. The
// upsert is atomic, so concurrent callers never receive the same value.
func (s *PostgresOrderStore) Next(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, nextSequenceQuery, day.Format(order.BusinessDayLayout)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return seq, nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, id int64) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListNumbersCreatedBetween returns the sequential numbers created in
// [start, end). Fallback numbers are excluded by the pattern match.
func (s *PostgresOrderStore) ListNumbersCreatedBetween(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_number FROM orders
		WHERE created_at >= $1 AND created_at < $2 AND order_number ~ '^CMD-[0-9]{4,}$'`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// UpdateStatus applies u only while the row is still in u.From. Stage
// timestamps already recorded are preserved.
func (s *PostgresOrderStore) UpdateStatus(ctx context.Context, u order.StatusUpdate) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
			updated_at = $4,
			taken_at = COALESCE(taken_at, $5),
			prepared_at = COALESCE(prepared_at, $6)
		WHERE id = $1 AND status = $2`,
		u.ID, u.From, u.To, u.UpdatedAt, nullTime(u.TakenAt), nullTime(u.PreparedAt))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresOrderStore) List(ctx context.Context, f order.Filter) ([]*order.Order, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o                   order.Order
		businessDay         time.Time
		items               []byte
		takenAt, preparedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Number, &businessDay, &o.Status, &o.Type, &o.PaymentStatus, &o.PaymentMethod,
		&o.Subtotal, &o.Discount, &o.Total, &o.AmountPaid, &o.Change, &items, &o.CustomerID, &o.CustomerEmail,
		&o.TableNumber, &o.Notes, &o.CreatedAt, &o.UpdatedAt, &takenAt, &preparedAt)
	if err != nil {
		return nil, err
	}

	o.BusinessDay = businessDay.Format(order.BusinessDayLayout)
	o.Items, err = order.DecodeItems(items)
	if err != nil {
		return nil, fmt.Errorf("order %d: %w", o.ID, err)
	}
	if takenAt.Valid {
		t := takenAt.Time
		o.TakenAt = &t
	}
	if preparedAt.Valid {
		t := preparedAt.Time
		o.PreparedAt = &t
	}
	return &o, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

var (
	_ order.Repository = (*PostgresOrderStore)(nil)
	_ order.Sequencer  = (*PostgresOrderStore)(nil)
)
