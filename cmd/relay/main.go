// Package main runs the Outbox Relay process: a single-writer claim loop
// that publishes outbox rows to the message bus. Running more than one
// instance of this process against the same database breaks the
// per-(topic,key) ordering guarantee the relay exists to provide.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ftgo/backbone/internal/adapter/observability"
	pgrepo "github.com/ftgo/backbone/internal/adapter/repo/postgres"
	"github.com/ftgo/backbone/internal/app"
	"github.com/ftgo/backbone/internal/bus"
	"github.com/ftgo/backbone/internal/config"
	"github.com/ftgo/backbone/internal/outbox/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := pgrepo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pgrepo.Migrate(ctx, pool); err != nil {
		slog.Error("database migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	publisher, err := bus.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("bus producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("failed to close bus producer", slog.Any("error", err))
		}
	}()

	dbCheck, busCheck := app.BuildReadinessChecks(pool, publisher)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/readyz", app.ReadyzHandler(dbCheck, busCheck))
		if err := http.ListenAndServe(":"+strconv.Itoa(cfg.MetricsPort), mux); err != nil {
			slog.Error("relay metrics server error", slog.Any("error", err))
		}
	}()

	busRetry := cfg.GetBusRetryConfig()
	r := relay.New(pool, publisher, relay.Config{
		PollInterval:  cfg.RelayPollInterval,
		PublishBudget: cfg.RelayPublishTimeout,
		RetryInitial:  busRetry.InitialInterval,
		RetryMax:      busRetry.MaxInterval,
		RetryElapsed:  busRetry.MaxElapsedTime,
		RetryMultiple: busRetry.Multiplier,
	})

	slog.Info("starting outbox relay", slog.String("env", cfg.AppEnv))
	go func() {
		if err := r.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("relay loop exited", slog.Any("error", err))
		}
	}()

	slog.Info("outbox relay started, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("outbox relay stopped")
}
