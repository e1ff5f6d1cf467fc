package realtime

import (
	"context"

	"github.com/example/cafe-orders/internal/monitoring"
	"go.uber.org/zap"
)

// Bridge relays change-topic messages into a hub.
type Bridge struct {
	hub    *Hub
	logger *zap.Logger
}

func NewBridge(hub *Hub, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{hub: hub, logger: logger.Named("bridge")}
}

// Handle has the kafka.MessageHandler signature. Malformed messages are
// logged and dropped; the next full refresh covers for them.
func (b *Bridge) Handle(ctx context.Context, key, value []byte) error {
	e, err := Decode(value)
	if err != nil {
		monitoring.RecordMalformedEvent("kafka")
		b.logger.Warn("dropping malformed event", zap.String("key", string(key)), zap.Error(err))
		return nil
	}
	return b.hub.Broadcast(ctx, e)
}
