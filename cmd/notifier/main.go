package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/cafe-orders/internal/config"
	"github.com/example/cafe-orders/internal/email"
	"github.com/example/cafe-orders/internal/infrastructure/kafka"
	"github.com/example/cafe-orders/internal/logging"
	"github.com/example/cafe-orders/internal/notification"
	"go.uber.org/zap"
)

// consumerGroup is shared by all notifier replicas so each event is
// mailed by one of them.
const consumerGroup = "order-ready-notifier"

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[Notifier] %v", err)
	}
	if !cfg.KafkaEnabled() {
		log.Fatal("[Notifier] KAFKA_BROKERS is required")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		log.Fatalf("[Notifier] %v", err)
	}
	defer logger.Sync()
	logger = logger.Named("notifier")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)
	handler := notification.NewHandler(emailSvc, logger)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, consumerGroup, logger)
	defer consumer.Close()

	logger.Info("starting event consumer",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", consumerGroup),
		zap.String("smtp", cfg.SMTP.Host+":"+cfg.SMTP.Port))

	if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
	}
	logger.Info("shutting down")
}
