package main

import (
	"context"
	"fmt"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat-fanout/internal/auth"
	"github.com/Tyrowin/gochat-fanout/internal/config"
	"github.com/Tyrowin/gochat-fanout/internal/dispatch"
	"github.com/Tyrowin/gochat-fanout/internal/forward"
	"github.com/Tyrowin/gochat-fanout/internal/hub"
	"github.com/Tyrowin/gochat-fanout/internal/logging"
	"github.com/Tyrowin/gochat-fanout/internal/notify"
	"github.com/Tyrowin/gochat-fanout/internal/relay"
	"github.com/Tyrowin/gochat-fanout/internal/server"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.FromEnv()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	code := run(cfg, logger)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg config.Config, logger *zap.Logger) int {
	logger.Info("starting fan-out server",
		zap.String("port", cfg.Port),
		zap.String("relay", cfg.Relay.Driver),
		zap.Bool("forwarding", cfg.PeerURL != ""))

	rel, closeRelay := newRelay(cfg, logger.Named("relay"))
	h := hub.New(logger.Named("hub"))
	disp := dispatch.New(rel, h, logger.Named("dispatch"))
	fwd := forward.New(cfg.PeerURL, cfg.Relay.QueueSize, logger.Named("forward"))

	srv := server.New(cfg, server.Deps{
		Hub:        h,
		Notifier:   notify.New(rel, fwd, logger.Named("notify")),
		Verifier:   auth.NewVerifier(cfg.JWTSecret),
		Relay:      rel,
		Dispatcher: disp,
		Forwarder:  fwd,
	}, logger.Named("server"))
	httpServer := server.CreateServer(cfg.Port, srv.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rel.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return fwd.Run(gctx) })
	g.Go(func() error { return server.StartServer(httpServer, logger) })

	ops := map[string]gfshutdown.Operation{
		"http": func(context.Context) error {
			return server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)
		},
		"connections": func(context.Context) error {
			srv.CloseAll()
			return nil
		},
		"components": func(context.Context) error {
			cancel()
			return g.Wait()
		},
		"relay": func(context.Context) error {
			return closeRelay()
		},
	}
	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)

	select {
	case code := <-wait:
		return code
	case <-gctx.Done():
	}

	// ctx is only cancelled by the shutdown operations.
	if ctx.Err() != nil {
		return <-wait
	}
	logger.Error("component stopped unexpectedly, shutting down", zap.Error(context.Cause(gctx)))
	shutdown(ops, cfg.ShutdownTimeout, logger)
	return 1
}

// newRelay builds the configured relay and a function releasing its client.
func newRelay(cfg config.Config, log *zap.Logger) (relay.Relay, func() error) {
	if cfg.Relay.Driver == config.DriverMemory {
		log.Info("using in-process relay")
		return relay.NewMemory(cfg.Relay.QueueSize), func() error { return nil }
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Relay.RedisAddr,
		Password: cfg.Relay.RedisPassword,
		DB:       cfg.Relay.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis not reachable yet, relay will keep retrying",
			zap.String("addr", cfg.Relay.RedisAddr), zap.Error(err))
	}

	return relay.NewRedis(client, cfg.Relay.Channel, cfg.Relay.QueueSize, log), client.Close
}

// shutdown runs ops in order when a component fails outside a signal.
func shutdown(ops map[string]gfshutdown.Operation, timeout time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, name := range []string{"http", "connections", "components", "relay"} {
		if err := ops[name](ctx); err != nil {
			log.Warn("shutdown step failed", zap.String("step", name), zap.Error(err))
		}
	}
}
