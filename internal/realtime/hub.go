package realtime

import (
	"context"
	"sync/atomic"

	"github.com/example/cafe-orders/internal/monitoring"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultQueueSize = 64
	broadcastBuffer  = 256
)

// Client is one subscriber's outbound queue. The hub closes Messages when the
// client is unregistered or dropped.
type Client struct {
	ID   string
	send chan []byte
}

func (c *Client) Messages() <-chan []byte {
	return c.send
}

type outbound struct {
	eventType EventType
	data      []byte
}

// Hub fans events out to every registered client. A single goroutine (Run)
// owns the client set; a client whose queue is full is disconnected so it
// never holds up the others.
type Hub struct {
	logger    *zap.Logger
	queueSize int

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}

	clients map[*Client]struct{}
	count   atomic.Int64
	hello   []byte
}

type HubOption func(*Hub)

// WithQueueSize bounds each client's pending event queue.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		logger:     logger.Named("hub"),
		queueSize:  DefaultQueueSize,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, broadcastBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) NewClient() *Client {
	return &Client{ID: uuid.NewString(), send: make(chan []byte, h.queueSize)}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client queue.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	h.logger.Info("hub started", zap.Int("queue_size", h.queueSize))

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			h.logger.Info("hub stopped")
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			monitoring.ClientConnected()
			// A new subscriber has missed everything so far.
			if hello, err := h.helloMessage(); err == nil {
				c.send <- hello
			}
			h.logger.Debug("client registered", zap.String("client", c.ID), zap.Int64("clients", h.count.Load()))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Debug("client unregistered", zap.String("client", c.ID))
			}

		case msg := <-h.broadcast:
			monitoring.RecordEventBroadcast(string(msg.eventType))
			for c := range h.clients {
				select {
				case c.send <- msg.data:
				default:
					h.remove(c)
					monitoring.RecordDroppedClient()
					h.logger.Warn("dropping slow client", zap.String("client", c.ID))
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	h.count.Add(-1)
	monitoring.ClientDisconnected()
	close(c.send)
}

func (h *Hub) helloMessage() ([]byte, error) {
	if h.hello == nil {
		data, err := Encode(RefreshRequested())
		if err != nil {
			return nil, err
		}
		h.hello = data
	}
	return h.hello, nil
}

// Register adds c to the fan-out. If the hub has stopped, c's queue is
// closed instead.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues e for every connected client.
func (h *Hub) Broadcast(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- outbound{eventType: e.Type, data: data}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}
