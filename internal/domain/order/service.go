package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/example/cafe-orders/internal/monitoring"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts   = 5
	DefaultRetryInterval = 2 * time.Millisecond
	maxRetryInterval     = 50 * time.Millisecond
	lockStripes          = 64
)

type ChangeKind string

const (
	ChangeCreated       ChangeKind = "order_created"
	ChangeUpdated       ChangeKind = "order_updated"
	ChangeStatusChanged ChangeKind = "order_status_changed"
)

// Change describes one mutation. Order is a snapshot owned by the receiver.
type Change struct {
	Kind  ChangeKind
	Order *Order
}

// Notifier receives every mutation, in the order mutations happened for any
// single order.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Change) error { return nil }

type Service struct {
	repo        Repository
	sequencer   Sequencer
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
	loc         *time.Location
	maxAttempts int
	retryBase   time.Duration

	// stripes serialise update+notify per order so events for one order
	// leave this process in mutation order.
	stripes [lockStripes]sync.Mutex
}

type Option func(*Service)

func WithSequencer(seq Sequencer) Option {
	return func(s *Service) { s.sequencer = seq }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithMaxAttempts bounds the sequence retry loop. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the initial pause between numbering attempts. The
// pause grows exponentially with jitter. Zero disables waiting.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryBase = d
		}
	}
}

// NewService builds the order service. Without WithSequencer, a repository
// that can issue sequences itself (an atomic per-day counter) is used as the
// sequencer; otherwise numbers come from scanning the day's orders.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		notifier:    nopNotifier{},
		logger:      zap.NewNop(),
		now:         time.Now,
		loc:         time.Local,
		maxAttempts: DefaultMaxAttempts,
		retryBase:   DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sequencer == nil {
		if seq, ok := repo.(Sequencer); ok {
			s.sequencer = seq
		} else {
			s.sequencer = NewStoreSequencer(repo)
		}
	}
	s.logger = s.logger.Named("order")
	return s
}

// Create validates req, numbers the order and stores it as pending.
// Numbering problems never fail creation: once retries are exhausted a
// fallback number is used. Only storage failures are returned.
func (s *Service) Create(ctx context.Context, req NewOrderRequest) (*Order, error) {
	o, err := req.Build(s.now())
	if err != nil {
		return nil, err
	}

	fallback, err := s.insertNumbered(ctx, o)
	if err != nil {
		return nil, err
	}
	monitoring.RecordOrderCreated(fallback)

	s.logger.Info("order created",
		zap.Int64("id", o.ID),
		zap.String("number", o.Number),
		zap.String("type", string(o.Type)),
		zap.Int("items", len(o.Items)))

	s.notify(ctx, ChangeCreated, o)
	return o, nil
}

func (s *Service) insertNumbered(ctx context.Context, o *Order) (fallback bool, err error) {
	day, _ := DayBounds(o.CreatedAt, s.loc)
	o.BusinessDay = day.Format(BusinessDayLayout)
	retry := s.newRetryBackOff()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, retry.NextBackOff()); err != nil {
				return false, err
			}
		}

		seq, err := s.sequencer.Next(ctx, day)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.logger.Warn("order sequence unavailable", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		o.Number = FormatNumber(seq)
		err = s.repo.Insert(ctx, o)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return false, fmt.Errorf("insert order: %w", err)
		}
		monitoring.RecordNumberConflict()
		s.logger.Debug("order number taken, retrying",
			zap.String("number", o.Number),
			zap.Int("attempt", attempt))
	}

	s.logger.Warn("order numbering degraded, using fallback number",
		zap.Error(ErrSequenceExhausted),
		zap.Int("attempts", s.maxAttempts))

	// Fallback numbers carry random bits, so a collision is retried until the
	// insert lands or the caller gives up.
	for {
		o.Number = FallbackNumber(s.now())
		err := s.repo.Insert(ctx, o)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return true, fmt.Errorf("insert order: %w", err)
		}
		monitoring.RecordNumberConflict()
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
	}
}

func (s *Service) newRetryBackOff() backoff.BackOff {
	if s.retryBase <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBase
	b.MaxInterval = maxRetryInterval
	if b.MaxInterval < s.retryBase {
		b.MaxInterval = s.retryBase
	}
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ChangeStatus moves order id to status to.
//
// A request for the current status succeeds without writing. An edge missing
// from the graph returns ErrInvalidTransition together with the unchanged
// order. When another writer moved the order first, ErrConflictingUpdate is
// returned with the order as it is now.
func (s *Service) ChangeStatus(ctx context.Context, id int64, to Status) (*Order, error) {
	mu := &s.stripes[uint64(id)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := current.Status

	next := current.Clone()
	changed, err := Apply(next, to, s.now())
	if err != nil {
		monitoring.RecordTransition(string(from), string(to), monitoring.ResultInvalid)
		return current, err
	}
	if !changed {
		monitoring.RecordTransition(string(from), string(to), monitoring.ResultNoop)
		return current, nil
	}

	n, err := s.repo.UpdateStatus(ctx, StatusUpdate{
		ID:         id,
		From:       from,
		To:         to,
		TakenAt:    next.TakenAt,
		PreparedAt: next.PreparedAt,
		UpdatedAt:  next.UpdatedAt,
	})
	if err != nil {
		monitoring.RecordTransition(string(from), string(to), monitoring.ResultError)
		return nil, fmt.Errorf("update order %d status: %w", id, err)
	}
	if n == 0 {
		latest, gerr := s.repo.Get(ctx, id)
		if gerr != nil {
			latest = current
		}
		if latest.Status == to {
			monitoring.RecordTransition(string(from), string(to), monitoring.ResultNoop)
			return latest, nil
		}
		monitoring.RecordTransition(string(from), string(to), monitoring.ResultConflict)
		return latest, fmt.Errorf("%w: order %d is %s", ErrConflictingUpdate, id, latest.Status)
	}

	monitoring.RecordTransition(string(from), string(to), monitoring.ResultOK)
	s.observeStages(current, next)
	s.logger.Info("order status changed",
		zap.Int64("id", id),
		zap.String("number", next.Number),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	s.notify(ctx, ChangeStatusChanged, next)
	s.notify(ctx, ChangeUpdated, next)
	return next, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Order, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) observeStages(before, after *Order) {
	if before.TakenAt == nil {
		if d, ok := after.TimeToTake(); ok {
			monitoring.ObserveStage("waiting", d)
		}
	}
	if before.PreparedAt == nil {
		if d, ok := after.TimeToPrepare(); ok {
			monitoring.ObserveStage("preparing", d)
		}
	}
}

func (s *Service) notify(ctx context.Context, kind ChangeKind, o *Order) {
	if err := s.notifier.Notify(ctx, Change{Kind: kind, Order: o.Clone()}); err != nil {
		s.logger.Warn("failed to publish order change",
			zap.String("kind", string(kind)),
			zap.Int64("id", o.ID),
			zap.Error(err))
	}
}
