package kitchen

import (
	"context"
	"time"

	"github.com/example/cafe-orders/internal/realtime"
	"go.uber.org/zap"
)

// DefaultResortInterval keeps the oldest-first order accurate as orders age.
const DefaultResortInterval = time.Second

// Frame is everything a renderer needs to draw one screen.
type Frame struct {
	Now         time.Time
	View        View
	Tickets     []Ticket
	State       realtime.State
	LastRefresh time.Time
	RefreshErr  error
}

type Renderer interface {
	Render(f Frame) error
}

type DisplayConfig struct {
	View           View
	Capacity       int
	ResortInterval time.Duration
}

// Display merges push events and periodic refreshes into a Board and renders
// the ticket list at least once per ResortInterval.
type Display struct {
	board    *Board
	poller   *Poller
	renderer Renderer
	cfg      DisplayConfig
	logger   *zap.Logger
	now      func() time.Time

	state       realtime.State
	lastRefresh Refreshed
}

func NewDisplay(board *Board, poller *Poller, renderer Renderer, cfg DisplayConfig, logger *zap.Logger) *Display {
	if cfg.ResortInterval <= 0 {
		cfg.ResortInterval = DefaultResortInterval
	}
	if cfg.View == "" {
		cfg.View = ViewActive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Display{
		board:    board,
		poller:   poller,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger.Named("display"),
		now:      time.Now,
		state:    realtime.StateConnecting,
	}
}

// Run consumes events and connectivity states until ctx is cancelled. A nil
// or closed events channel just leaves the display on polling alone.
func (d *Display) Run(ctx context.Context, events <-chan realtime.Event, states <-chan realtime.State) error {
	ticker := time.NewTicker(d.cfg.ResortInterval)
	defer ticker.Stop()

	d.render()
	for {
		select {
		case <-ctx.Done():
			return nil

		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if d.handle(e) {
				d.render()
			}

		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if st != d.state {
				d.logger.Info("push channel state", zap.String("state", string(st)))
				d.state = st
				d.render()
			}

		case r := <-d.poller.Results():
			d.lastRefresh = r
			d.render()

		case <-ticker.C:
			d.render()
		}
	}
}

// handle applies one event and reports whether the board changed.
func (d *Display) handle(e realtime.Event) bool {
	switch e.Type {
	case realtime.EventRefreshRequested:
		d.poller.Trigger(TriggerServer)
		return false

	case realtime.EventOrderStatusChanged:
		switch d.board.ApplyStatus(*e.Status) {
		case NeedsRefresh:
			d.poller.Trigger(TriggerUnknown)
			return false
		case Updated:
			return true
		}
		return false

	case realtime.EventOrderCreated, realtime.EventOrderUpdated:
		switch d.board.Apply(e.Order) {
		case Added:
			// A created event carries the whole order. Anything else
			// about an order we never saw means we are behind.
			if e.Type != realtime.EventOrderCreated {
				d.poller.Trigger(TriggerUnknown)
			}
			return true
		case Updated:
			return true
		}
	}
	return false
}

// Tickets computes the current ticket list.
func (d *Display) Tickets() []Ticket {
	return Tickets(d.board.Snapshot(), d.cfg.View, d.now(), d.cfg.Capacity)
}

func (d *Display) render() {
	f := Frame{
		Now:         d.now(),
		View:        d.cfg.View,
		State:       d.state,
		LastRefresh: d.lastRefresh.At,
		RefreshErr:  d.lastRefresh.Err,
	}
	f.Tickets = Tickets(d.board.Snapshot(), f.View, f.Now, d.cfg.Capacity)
	if err := d.renderer.Render(f); err != nil {
		d.logger.Warn("render failed", zap.Error(err))
	}
}
