package kitchen

import (
	"context"
	"errors"
	"time"

	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/example/cafe-orders/internal/monitoring"
	"go.uber.org/zap"
)

// DefaultRefreshInterval bounds how stale the board may get when push
// events are lost.
const DefaultRefreshInterval = 4 * time.Second

type Fetcher interface {
	Fetch(ctx context.Context) ([]*order.Order, error)
}

// Refresh triggers.
const (
	TriggerTimer   = "timer"
	TriggerStartup = "startup"
	TriggerServer  = "refresh_requested"
	TriggerUnknown = "unknown_order"
)

// Refreshed is sent after every fetch attempt.
type Refreshed struct {
	At  time.Time
	Err error
}

// Poller reloads the board from the API on a fixed interval and whenever
// Trigger is called. Triggers arriving during a fetch collapse into one
// follow-up fetch.
type Poller struct {
	fetcher  Fetcher
	board    *Board
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	trigger chan string
	results chan Refreshed
}

func NewPoller(fetcher Fetcher, board *Board, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:  fetcher,
		board:    board,
		interval: interval,
		logger:   logger.Named("poller"),
		now:      time.Now,
		trigger:  make(chan string, 1),
		results:  make(chan Refreshed, 1),
	}
}

// Trigger requests a fetch as soon as possible. It never blocks.
func (p *Poller) Trigger(reason string) {
	select {
	case p.trigger <- reason:
	default:
	}
}

// Results reports fetch outcomes; a slow reader only sees the latest.
func (p *Poller) Results() <-chan Refreshed {
	return p.results
}

// Run fetches once immediately, then on every tick or trigger, until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx, TriggerStartup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.refresh(ctx, TriggerTimer)
		case reason := <-p.trigger:
			p.refresh(ctx, reason)
			ticker.Reset(p.interval)
		}
	}
}

func (p *Poller) refresh(ctx context.Context, trigger string) {
	asOf := p.now()
	orders, err := p.fetcher.Fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	monitoring.RecordRefresh(trigger, err)
	switch {
	case errors.Is(err, ErrListTruncated):
		// Orders missing from a partial list may still be active.
		p.board.Merge(orders)
		p.logger.Warn("refresh truncated, keeping unlisted orders",
			zap.String("trigger", trigger), zap.Int("orders", len(orders)))
	case err != nil:
		p.logger.Warn("refresh failed", zap.String("trigger", trigger), zap.Error(err))
	default:
		p.board.Replace(orders, asOf)
		p.logger.Debug("refreshed", zap.String("trigger", trigger), zap.Int("orders", len(orders)))
	}

	r := Refreshed{At: asOf, Err: err}
	select {
	case <-p.results:
	default:
	}
	select {
	case p.results <- r:
	default:
	}
}
