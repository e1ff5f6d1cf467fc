package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/cafe-orders/internal/config"
	"github.com/example/cafe-orders/internal/kitchen"
	"github.com/example/cafe-orders/internal/logging"
	"github.com/example/cafe-orders/internal/realtime"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := pflag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	view := pflag.String("view", "", "ticket view: active or archive (overrides KITCHEN_VIEW)")
	logFile := pflag.String("log-file", "", "write logs to this file instead of stderr")
	noClear := pflag.Bool("no-clear", false, "append frames instead of redrawing the screen")
	noConsole := pflag.Bool("no-console", false, "do not read operator commands from stdin")
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("[Kitchen] %v", err)
	}
	if *view != "" {
		cfg.Kitchen.View = *view
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Kitchen] %v", err)
	}

	// The screen owns stdout, so logs go to stderr or a file.
	var paths []string
	if *logFile != "" {
		paths = append(paths, *logFile)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding, paths...)
	if err != nil {
		log.Fatalf("[Kitchen] %v", err)
	}
	defer logger.Sync()

	renderer := kitchen.NewTextRenderer(os.Stdout)
	renderer.Clear = !*noClear

	var commands io.Reader = os.Stdin
	if *noConsole {
		commands = nil
	}

	if err := run(cfg, renderer, commands, logger.Named("kitchen")); err != nil {
		logger.Fatal("kitchen display stopped", zap.Error(err))
	}
}

// run drives the display. Operator commands are read from commands when it
// is non-nil; their feedback goes to stderr since the screen owns stdout.
func run(cfg *config.Config, renderer kitchen.Renderer, commands io.Reader, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	view, err := kitchen.ParseView(cfg.Kitchen.View)
	if err != nil {
		return err
	}

	client := kitchen.NewAPIClient(cfg.Kitchen.APIURL, cfg.Kitchen.Token, &http.Client{Timeout: 10 * time.Second})
	board := kitchen.NewBoard()
	poller := kitchen.NewPoller(client, board, cfg.Kitchen.RefreshInterval, logger)
	subscriber := realtime.NewSubscriber(realtime.SubscriberConfig{
		URL:   cfg.WebSocketURL(),
		Token: cfg.Kitchen.Token,
	}, logger)
	display := kitchen.NewDisplay(board, poller, renderer, kitchen.DisplayConfig{
		View:           view,
		Capacity:       cfg.Kitchen.TicketCapacity,
		ResortInterval: cfg.Kitchen.ResortInterval,
	}, logger)

	logger.Info("kitchen display starting",
		zap.String("api", cfg.Kitchen.APIURL),
		zap.String("ws", cfg.WebSocketURL()),
		zap.String("view", string(view)),
		zap.Duration("refresh_interval", cfg.Kitchen.RefreshInterval))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return subscriber.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return display.Run(ctx, subscriber.Events(), subscriber.States()) })
	if commands != nil {
		console := kitchen.NewConsole(client, board, poller, os.Stderr, logger)
		g.Go(func() error { return console.Run(ctx, commands) })
	}
	return g.Wait()
}
