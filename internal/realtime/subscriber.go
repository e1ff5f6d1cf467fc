package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/example/cafe-orders/internal/monitoring"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the push channel connectivity shown to kitchen operators.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

const (
	DefaultMaxAttempts     = 6
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
	DefaultRetryInterval   = 30 * time.Second
)

type SubscriberConfig struct {
	// URL of the /ws endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string

	// MaxAttempts bounds the exponential phase. Afterwards the subscriber
	// reports StateDisconnected and keeps dialing every RetryInterval.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryInterval   time.Duration

	Dialer *websocket.Dialer
}

func (c *SubscriberConfig) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
}

// Subscriber keeps a WebSocket connection to the API open and emits decoded
// events. Delivery is at most once; missed events are recovered by the
// consumer's periodic refresh.
type Subscriber struct {
	cfg    SubscriberConfig
	logger *zap.Logger

	events chan Event
	states chan State
	state  atomic.Value
}

func NewSubscriber(cfg SubscriberConfig, logger *zap.Logger) *Subscriber {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Subscriber{
		cfg:    cfg,
		logger: logger.Named("subscriber"),
		events: make(chan Event, 64),
		states: make(chan State, 1),
	}
	s.state.Store(StateDisconnected)
	return s
}

// Events is closed when Run returns.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// States carries the latest connectivity state; intermediate states may be
// skipped by a slow reader. It is closed when Run returns.
func (s *Subscriber) States() <-chan State {
	return s.states
}

func (s *Subscriber) State() State {
	return s.state.Load().(State)
}

// Run connects and reconnects until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.states)
	defer close(s.events)

	for {
		conn, err := s.connect(ctx)
		if err != nil {
			return nil
		}
		s.setState(StateConnected)
		s.logger.Info("connected", zap.String("url", s.cfg.URL))

		err = s.read(ctx, conn)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}
		s.logger.Warn("connection lost", zap.Error(fmt.Errorf("%w: %v", ErrTransportDisconnected, err)))
	}
}

func (s *Subscriber) connect(ctx context.Context) (*websocket.Conn, error) {
	s.setState(StateConnecting)

	var conn *websocket.Conn
	dial := func() error {
		c, err := s.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Debug("dial failed", zap.Duration("retry_in", next), zap.Error(err))
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.InitialInterval
	eb.MaxInterval = s.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	bounded := backoff.WithMaxRetries(eb, uint64(s.cfg.MaxAttempts-1))

	err := backoff.RetryNotify(dial, backoff.WithContext(bounded, ctx), notify)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.setState(StateDisconnected)
	s.logger.Warn("reconnect attempts exhausted, retrying at fixed interval",
		zap.Int("attempts", s.cfg.MaxAttempts),
		zap.Duration("interval", s.cfg.RetryInterval),
		zap.Error(fmt.Errorf("%w: %v", ErrTransportDisconnected, err)))

	fixed := backoff.NewConstantBackOff(s.cfg.RetryInterval)
	if err := backoff.RetryNotify(dial, backoff.WithContext(fixed, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", s.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

func (s *Subscriber) read(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		e, err := Decode(data)
		if err != nil {
			monitoring.RecordMalformedEvent("websocket")
			s.logger.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		select {
		case s.events <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// setState publishes st, replacing any state the reader has not taken yet.
func (s *Subscriber) setState(st State) {
	s.state.Store(st)
	select {
	case <-s.states:
	default:
	}
	s.states <- st
}
