package kitchen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type statusCall struct {
	id int64
	to order.Status
}

type fakeStatusClient struct {
	mu         sync.Mutex
	calls      []statusCall
	refreshes  int
	reply      func(id int64, to order.Status) (*order.Order, error)
	refreshErr error
}

func (f *fakeStatusClient) ChangeStatus(ctx context.Context, id int64, to order.Status) (*order.Order, error) {
	f.mu.Lock()
	f.calls = append(f.calls, statusCall{id, to})
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		return reply(id, to)
	}
	o := makeOrder(id, to, base, 1)
	o.UpdatedAt = base.Add(time.Minute)
	return o, nil
}

func (f *fakeStatusClient) RequestRefresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeStatusClient) recorded() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall(nil), f.calls...)
}

func newTestConsole(orders ...*order.Order) (*Console, *fakeStatusClient, *Board, *bytes.Buffer) {
	board := NewBoard()
	for _, o := range orders {
		board.Apply(o)
	}
	client := &fakeStatusClient{}
	out := &bytes.Buffer{}
	return NewConsole(client, board, nil, out, zap.NewNop()), client, board, out
}

// ============================================
// Execute Tests
// ============================================

func TestConsole_CommandsMapToStatuses(t *testing.T) {
	tests := []struct {
		line string
		want order.Status
	}{
		{"take 12", order.StatusPreparing},
		{"start CMD-0012", order.StatusPreparing},
		{"ready 0012", order.StatusReady},
		{"serve #12", order.StatusServed},
		{"CANCEL cmd-0012", order.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			console, client, board, out := newTestConsole(makeOrder(12, order.StatusPending, base, 1))

			console.Execute(context.Background(), tt.line)

			require.Equal(t, []statusCall{{12, tt.want}}, client.recorded())
			got, ok := board.Get(12)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Status)
			assert.Contains(t, out.String(), "CMD-0012 is now "+string(tt.want))
		})
	}
}

func TestConsole_NextAdvancesOneStep(t *testing.T) {
	console, client, board, _ := newTestConsole(makeOrder(3, order.StatusPreparing, base, 1))

	console.Execute(context.Background(), "next 3")

	require.Equal(t, []statusCall{{3, order.StatusReady}}, client.recorded())
	got, _ := board.Get(3)
	assert.Equal(t, order.StatusReady, got.Status)
}

func TestConsole_NextOnTerminalOrder(t *testing.T) {
	console, client, _, out := newTestConsole(makeOrder(3, order.StatusServed, base, 1))

	console.Execute(context.Background(), "next 3")

	assert.Empty(t, client.recorded())
	assert.Contains(t, out.String(), "nothing follows")
}

func TestConsole_UnknownOrder(t *testing.T) {
	console, client, _, out := newTestConsole(makeOrder(1, order.StatusPending, base, 1))

	console.Execute(context.Background(), "ready 7")

	assert.Empty(t, client.recorded())
	assert.Contains(t, out.String(), "CMD-0007 is not on the board")
}

func TestConsole_BadInput(t *testing.T) {
	for _, line := range []string{"brew 1", "ready", "ready 1 2"} {
		console, client, _, out := newTestConsole(makeOrder(1, order.StatusPending, base, 1))

		console.Execute(context.Background(), line)

		assert.Empty(t, client.recorded(), line)
		assert.NotEmpty(t, out.String(), line)
	}
}

func TestConsole_BlankLineIsIgnored(t *testing.T) {
	console, client, _, out := newTestConsole()

	console.Execute(context.Background(), "   ")

	assert.Empty(t, client.recorded())
	assert.Empty(t, out.String())
}

func TestConsole_RejectedChangeShowsServerState(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		current order.Status
		message string
	}{
		{"invalid", order.ErrInvalidTransition, order.StatusPending, "CMD-0005 is pending and cannot become served"},
		{"conflict", order.ErrConflictingUpdate, order.StatusCancelled, "CMD-0005 was changed elsewhere, it is now cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console, client, board, out := newTestConsole(makeOrder(5, order.StatusPending, base, 1))
			client.reply = func(id int64, to order.Status) (*order.Order, error) {
				o := makeOrder(id, tt.current, base, 1)
				o.UpdatedAt = base.Add(time.Minute)
				return o, fmt.Errorf("api 409: %w", tt.err)
			}

			console.Execute(context.Background(), "serve 5")

			assert.Contains(t, out.String(), tt.message)
			got, _ := board.Get(5)
			assert.Equal(t, tt.current, got.Status)
		})
	}
}

func TestConsole_TransportFailure(t *testing.T) {
	console, client, board, out := newTestConsole(makeOrder(5, order.StatusPending, base, 1))
	client.reply = func(int64, order.Status) (*order.Order, error) {
		return nil, errors.New("connection refused")
	}

	console.Execute(context.Background(), "take 5")

	assert.Contains(t, out.String(), "could not update CMD-0005")
	got, _ := board.Get(5)
	assert.Equal(t, order.StatusPending, got.Status)
}

func TestConsole_Refresh(t *testing.T) {
	f := &fakeFetcher{}
	board := NewBoard()
	poller := NewPoller(f, board, time.Hour, zap.NewNop())
	client := &fakeStatusClient{}
	out := &bytes.Buffer{}
	console := NewConsole(client, board, poller, out, zap.NewNop())

	console.Execute(context.Background(), "refresh")

	assert.Equal(t, 1, client.refreshes)
	assert.Contains(t, out.String(), "refresh requested")
	select {
	case reason := <-poller.trigger:
		assert.Equal(t, TriggerManual, reason)
	default:
		t.Fatal("local refresh not triggered")
	}

	client.refreshErr = errors.New("503")
	console.Execute(context.Background(), "refresh")
	assert.Contains(t, out.String(), "refresh request failed")
}

// ============================================
// Run Tests
// ============================================

func TestConsole_RunReadsUntilEOF(t *testing.T) {
	console, client, _, _ := newTestConsole(
		makeOrder(1, order.StatusPending, base, 1),
		makeOrder(2, order.StatusPending, base, 1),
	)

	err := console.Run(context.Background(), strings.NewReader("take 1\n\nready 2\n"))

	require.NoError(t, err)
	assert.Equal(t, []statusCall{{1, order.StatusPreparing}, {2, order.StatusReady}}, client.recorded())
}

func TestConsole_RunStopsOnCancel(t *testing.T) {
	console, _, _, _ := newTestConsole()
	ctx, cancel := context.WithCancel(context.Background())
	in, w := io.Pipe()
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- console.Run(ctx, in) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}
