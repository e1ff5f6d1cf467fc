package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/cafe-orders/internal/api"
	"github.com/example/cafe-orders/internal/auth"
	"github.com/example/cafe-orders/internal/config"
	"github.com/example/cafe-orders/internal/domain/order"
	"github.com/example/cafe-orders/internal/infrastructure/kafka"
	"github.com/example/cafe-orders/internal/infrastructure/sequence"
	"github.com/example/cafe-orders/internal/infrastructure/store"
	"github.com/example/cafe-orders/internal/logging"
	"github.com/example/cafe-orders/internal/realtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("[API] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[API] %v", err)
	}
	if err := cfg.ValidateJWT(); err != nil {
		log.Fatalf("[API] %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		log.Fatalf("[API] %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger.Named("api")); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := store.ConnectPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	orderStore := store.NewPostgresOrderStore(db)
	if err := orderStore.Migrate(ctx); err != nil {
		return err
	}

	opts := []order.Option{
		order.WithLogger(logger),
		order.WithLocation(loc),
		order.WithMaxAttempts(cfg.Order.NumberMaxAttempts),
	}

	switch cfg.Sequencer {
	case config.SequencerScan:
		opts = append(opts, order.WithSequencer(order.NewStoreSequencer(orderStore)))
	case config.SequencerRedis:
		client, err := sequence.Connect(ctx, sequence.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, order.WithSequencer(sequence.NewRedisSequencer(client, order.NewStoreSequencer(orderStore))))
		logger.Info("order numbers from Redis", zap.String("addr", cfg.Redis.Addr))
	}
	// The default counter sequencer is the store itself.

	hub := realtime.NewHub(logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })

	var publisher realtime.Publisher = realtime.NewHubPublisher(hub)
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		publisher = realtime.NewKafkaPublisher(producer)

		// Every instance needs every event, so each gets its own group.
		group := cfg.Kafka.Group
		if group == "" {
			group = "api-relay-" + uuid.NewString()
		}
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, group, logger, kafka.FromLatest())
		defer consumer.Close()
		bridge := realtime.NewBridge(hub, logger)
		g.Go(func() error {
			err := consumer.Consume(ctx, bridge.Handle)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
		logger.Info("relaying change events through Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
			zap.String("group", group))
	} else {
		logger.Info("Kafka disabled, running in single instance mode")
	}

	svc := order.NewService(orderStore, append(opts, order.WithNotifier(realtime.NewNotifier(publisher)))...)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry)
	router := api.NewRouter(api.NewHandlers(svc, publisher, logger), api.RouterConfig{
		JWT:      jwtService,
		Hub:      hub,
		Upgrader: realtime.NewUpgrader(cfg.HTTP.AllowedOrigins),
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("server started", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
