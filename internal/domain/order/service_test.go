package order_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/example/cafe-orders/internal/infrastructure/store/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []order.Change
	err     error
}

func (n *recordingNotifier) Notify(ctx context.Context, c order.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (n *recordingNotifier) kinds() []order.ChangeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]order.ChangeKind, len(n.changes))
	for i, c := range n.changes {
		kinds[i] = c.Kind
	}
	return kinds
}

type stubSequencer struct {
	next int
	err  error
}

func (s stubSequencer) Next(context.Context, time.Time) (int, error) {
	return s.next, s.err
}

func newTestService(opts ...order.Option) (*order.Service, *mocks.MockOrderStore, *recordingNotifier) {
	repo := mocks.NewMockOrderStore()
	notifier := &recordingNotifier{}
	base := []order.Option{
		order.WithNotifier(notifier),
		order.WithClock(func() time.Time { return testNow }),
		order.WithLocation(time.UTC),
	}
	return order.NewService(repo, append(base, opts...)...), repo, notifier
}

func latteRequest() order.NewOrderRequest {
	return order.NewOrderRequest{
		Items: []order.ItemRequest{{ProductID: "latte", Name: "Latte", Quantity: 1, UnitPrice: decimal.NewFromInt(3)}},
	}
}

func seedOrder(repo *mocks.MockOrderStore, number string, status order.Status, created time.Time) *order.Order {
	o := &order.Order{
		Number:      number,
		BusinessDay: created.Format(order.BusinessDayLayout),
		Status:      status,
		Type:        order.TypeDineIn,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	repo.SetOrder(o)
	return o
}

// ============================================
// Create Tests
// ============================================

func TestService_Create_NumbersSequentially(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)
	second, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	assert.Equal(t, "CMD-0001", first.Number)
	assert.Equal(t, "CMD-0002", second.Number)
	assert.Equal(t, "2024-03-01", first.BusinessDay)
	assert.Equal(t, order.StatusPending, first.Status)
	assert.NotZero(t, first.ID)
	assert.Len(t, repo.InsertCalls, 2)
}

func TestService_Create_AfterNineOrders(t *testing.T) {
	svc, repo, _ := newTestService()
	for i := 1; i <= 9; i++ {
		seedOrder(repo, order.FormatNumber(i), order.StatusPending, testNow.Add(-time.Duration(i)*time.Minute))
	}

	o, err := svc.Create(context.Background(), latteRequest())

	require.NoError(t, err)
	assert.Equal(t, "CMD-0010", o.Number)
}

func TestService_Create_ResetsEachDay(t *testing.T) {
	svc, repo, _ := newTestService()
	seedOrder(repo, "CMD-0050", order.StatusServed, testNow.AddDate(0, 0, -1))

	o, err := svc.Create(context.Background(), latteRequest())

	require.NoError(t, err)
	assert.Equal(t, "CMD-0001", o.Number)
}

func createConcurrently(t *testing.T, svc *order.Service, n int) []*order.Order {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	orders := make([]*order.Order, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orders[i], errs[i] = svc.Create(ctx, latteRequest())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	return orders
}

func TestService_Create_ConcurrentNumbersAreSequential(t *testing.T) {
	const n = 20
	svc, repo, _ := newTestService()
	repo.Latency = 2 * time.Millisecond

	createConcurrently(t, svc, n)

	seen := make(map[string]bool)
	for _, o := range repo.All() {
		assert.Regexp(t, `^CMD-\d{4}$`, o.Number)
		assert.False(t, seen[o.Number], "duplicate %s", o.Number)
		seen[o.Number] = true
	}
	assert.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[order.FormatNumber(i)], "missing %s", order.FormatNumber(i))
	}
	assert.Len(t, repo.InsertCalls, n)
}

func TestService_Create_ScanSequencerStaysUniqueUnderContention(t *testing.T) {
	const n = 20
	repo := mocks.NewMockOrderStore()
	repo.Latency = time.Millisecond
	svc := order.NewService(repo,
		order.WithSequencer(order.NewStoreSequencer(repo)),
		order.WithClock(func() time.Time { return testNow }),
		order.WithLocation(time.UTC),
	)

	createConcurrently(t, svc, n)

	seen := make(map[string]bool)
	for _, o := range repo.All() {
		assert.False(t, seen[o.Number], "duplicate %s", o.Number)
		seen[o.Number] = true
	}
	assert.Len(t, seen, n)
	assert.Zero(t, repo.NextCalls)
}

func TestService_Create_FallsBackWhenSequenceExhausted(t *testing.T) {
	svc, repo, _ := newTestService(
		order.WithSequencer(stubSequencer{next: 1}),
		order.WithMaxAttempts(3),
	)
	seedOrder(repo, "CMD-0001", order.StatusPending, testNow)

	o, err := svc.Create(context.Background(), latteRequest())

	require.NoError(t, err)
	assert.True(t, order.IsFallbackNumber(o.Number), o.Number)
	// 3 sequence attempts plus the fallback insert
	assert.Len(t, repo.InsertCalls, 4)
}

func TestService_Create_ConcurrentFallbacksNeverFail(t *testing.T) {
	const n = 20
	svc, repo, _ := newTestService(
		order.WithSequencer(stubSequencer{next: 1}),
		order.WithMaxAttempts(1),
	)
	seedOrder(repo, "CMD-0001", order.StatusPending, testNow)

	orders := createConcurrently(t, svc, n)

	seen := make(map[string]bool)
	for _, o := range orders {
		assert.True(t, order.IsFallbackNumber(o.Number), o.Number)
		assert.False(t, seen[o.Number], "duplicate %s", o.Number)
		seen[o.Number] = true
	}
	assert.Len(t, repo.All(), n+1)
}

func TestService_Create_RetryWaitHonoursContext(t *testing.T) {
	svc, repo, _ := newTestService(
		order.WithSequencer(stubSequencer{err: errors.New("redis down")}),
		order.WithRetryInterval(time.Hour),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := svc.Create(ctx, latteRequest())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, repo.InsertCalls)
}

func TestService_Create_UsesStoreCounterByDefault(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.Create(context.Background(), latteRequest())

	require.NoError(t, err)
	assert.Equal(t, 1, repo.NextCalls)
}

func TestService_Create_FallsBackWhenSequencerFails(t *testing.T) {
	svc, repo, _ := newTestService(order.WithSequencer(stubSequencer{err: errors.New("redis down")}))

	o, err := svc.Create(context.Background(), latteRequest())

	require.NoError(t, err)
	assert.True(t, order.IsFallbackNumber(o.Number))
	assert.Len(t, repo.InsertCalls, 1)
}

func TestService_Create_StorageErrorIsReturned(t *testing.T) {
	svc, repo, notifier := newTestService()
	repo.InsertErr = errors.New("connection reset")

	_, err := svc.Create(context.Background(), latteRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, notifier.kinds())
}

func TestService_Create_ValidationError(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.Create(context.Background(), order.NewOrderRequest{})

	assert.True(t, errors.Is(err, order.ErrEmptyOrder))
	assert.Empty(t, repo.InsertCalls)
}

func TestService_Create_NotifiesCreated(t *testing.T) {
	svc, _, notifier := newTestService()

	o, err := svc.Create(context.Background(), latteRequest())

	require.NoError(t, err)
	require.Equal(t, []order.ChangeKind{order.ChangeCreated}, notifier.kinds())
	assert.Equal(t, o.Number, notifier.changes[0].Order.Number)
}

func TestService_Create_NotifierErrorDoesNotFail(t *testing.T) {
	svc, _, notifier := newTestService()
	notifier.err = errors.New("broker unavailable")

	o, err := svc.Create(context.Background(), latteRequest())

	require.NoError(t, err)
	assert.Equal(t, "CMD-0001", o.Number)
}

// ============================================
// ChangeStatus Tests
// ============================================

func TestService_ChangeStatus_FullLifecycle(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	o, err = svc.ChangeStatus(ctx, o.ID, order.StatusPreparing)
	require.NoError(t, err)
	require.NotNil(t, o.TakenAt)

	o, err = svc.ChangeStatus(ctx, o.ID, order.StatusReady)
	require.NoError(t, err)
	require.NotNil(t, o.PreparedAt)

	o, err = svc.ChangeStatus(ctx, o.ID, order.StatusServed)
	require.NoError(t, err)
	assert.Equal(t, order.StatusServed, o.Status)

	assert.Equal(t, []order.ChangeKind{
		order.ChangeCreated,
		order.ChangeStatusChanged, order.ChangeUpdated,
		order.ChangeStatusChanged, order.ChangeUpdated,
		order.ChangeStatusChanged, order.ChangeUpdated,
	}, notifier.kinds())
}

func TestService_ChangeStatus_PendingToServedRejected(t *testing.T) {
	svc, repo, notifier := newTestService()
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	got, err := svc.ChangeStatus(ctx, o.ID, order.StatusServed)

	assert.True(t, errors.Is(err, order.ErrInvalidTransition))
	require.NotNil(t, got)
	assert.Equal(t, order.StatusPending, got.Status)

	stored, _ := repo.GetData(o.ID)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Empty(t, repo.UpdateStatusCalls)
	assert.Equal(t, []order.ChangeKind{order.ChangeCreated}, notifier.kinds())
}

func TestService_ChangeStatus_SameStatusIsNoop(t *testing.T) {
	clock := testNow
	svc, repo, notifier := newTestService(order.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	o, err = svc.ChangeStatus(ctx, o.ID, order.StatusPreparing)
	require.NoError(t, err)
	updatedAt := o.UpdatedAt

	clock = clock.Add(time.Minute)
	again, err := svc.ChangeStatus(ctx, o.ID, order.StatusPreparing)

	require.NoError(t, err)
	assert.Equal(t, updatedAt, again.UpdatedAt)
	assert.Len(t, repo.UpdateStatusCalls, 1)
	assert.Len(t, notifier.kinds(), 3)
}

func TestService_ChangeStatus_TimestampsSetOnce(t *testing.T) {
	clock := testNow
	svc, _, _ := newTestService(order.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	clock = testNow.Add(2 * time.Minute)
	o, err = svc.ChangeStatus(ctx, o.ID, order.StatusPreparing)
	require.NoError(t, err)
	takenAt := *o.TakenAt

	clock = testNow.Add(7 * time.Minute)
	o, err = svc.ChangeStatus(ctx, o.ID, order.StatusReady)
	require.NoError(t, err)

	assert.Equal(t, takenAt, *o.TakenAt)
	assert.Equal(t, testNow.Add(7*time.Minute), *o.PreparedAt)

	wait, ok := o.TimeToTake()
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, wait)
}

func TestService_ChangeStatus_NotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ChangeStatus(context.Background(), 404, order.StatusPreparing)

	assert.True(t, errors.Is(err, order.ErrOrderNotFound))
}

func TestService_ChangeStatus_ConflictingUpdate(t *testing.T) {
	svc, repo, notifier := newTestService()
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	repo.BeforeUpdate = func(u order.StatusUpdate) {
		cancelled, _ := repo.GetData(u.ID)
		cancelled.Status = order.StatusCancelled
		repo.SetOrder(cancelled)
	}

	latest, err := svc.ChangeStatus(ctx, o.ID, order.StatusPreparing)

	assert.True(t, errors.Is(err, order.ErrConflictingUpdate))
	require.NotNil(t, latest)
	assert.Equal(t, order.StatusCancelled, latest.Status)
	assert.Equal(t, []order.ChangeKind{order.ChangeCreated}, notifier.kinds())
}

func TestService_ChangeStatus_RacerReachedSameTarget(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	repo.BeforeUpdate = func(u order.StatusUpdate) {
		moved, _ := repo.GetData(u.ID)
		moved.Status = order.StatusPreparing
		repo.SetOrder(moved)
	}

	got, err := svc.ChangeStatus(ctx, o.ID, order.StatusPreparing)

	require.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, got.Status)
}

func TestService_ChangeStatus_StorageError(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)
	repo.UpdateErr = errors.New("deadlock detected")

	_, err = svc.ChangeStatus(ctx, o.ID, order.StatusPreparing)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
}

func TestService_ChangeStatus_ConcurrentWritersOnlyOneWins(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	o, err := svc.Create(ctx, latteRequest())
	require.NoError(t, err)

	targets := []order.Status{order.StatusPreparing, order.StatusCancelled}
	results := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to order.Status) {
			defer wg.Done()
			_, results[i] = svc.ChangeStatus(ctx, o.ID, to)
		}(i, to)
	}
	wg.Wait()

	stored, _ := repo.GetData(o.ID)
	// preparing -> cancelled is a legal follow-up, so either both apply
	// (preparing then cancelled) or cancel wins and preparing is rejected.
	switch stored.Status {
	case order.StatusCancelled:
		if results[0] != nil {
			assert.True(t, errors.Is(results[0], order.ErrInvalidTransition), fmt.Sprint(results[0]))
		}
		assert.NoError(t, results[1])
	default:
		t.Fatalf("unexpected final status %s", stored.Status)
	}
}

// ============================================
// Query Tests
// ============================================

func TestService_List_FiltersByStatus(t *testing.T) {
	svc, repo, _ := newTestService()
	seedOrder(repo, "CMD-0001", order.StatusPending, testNow)
	seedOrder(repo, "CMD-0002", order.StatusReady, testNow.Add(time.Minute))
	seedOrder(repo, "CMD-0003", order.StatusServed, testNow.Add(2*time.Minute))

	orders, err := svc.List(context.Background(), order.Filter{
		Statuses: []order.Status{order.StatusPending, order.StatusReady},
	})

	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "CMD-0001", orders[0].Number)
	assert.Equal(t, "CMD-0002", orders[1].Number)
}
