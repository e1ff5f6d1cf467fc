package realtime

import (
	"context"
	"fmt"

	"github.com/example/cafe-orders/internal/domain/order"
)

// Publisher delivers an event towards connected clients.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaPublisher writes events to the change topic. Every API instance relays
// the topic into its own hub through a Bridge.
type KafkaPublisher struct {
	producer producer
}

func NewKafkaPublisher(p producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, e.Key(), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// HubPublisher broadcasts straight into a local hub, for single instance
// deployments without a broker.
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, e Event) error {
	return p.hub.Broadcast(ctx, e)
}

// Notifier adapts a Publisher to order.Notifier.
type Notifier struct {
	publisher Publisher
}

func NewNotifier(p Publisher) *Notifier {
	return &Notifier{publisher: p}
}

func (n *Notifier) Notify(ctx context.Context, c order.Change) error {
	return n.publisher.Publish(ctx, FromChange(c))
}

var _ order.Notifier = (*Notifier)(nil)
