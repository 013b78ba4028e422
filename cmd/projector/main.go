// Package main runs the Projection Runtime process: one goroutine per
// registered read-model projection, each polling its own checkpointed
// backlog independently.
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

	accountprojection "github.com/ftgo/backbone/internal/accounting/projection"
	"github.com/ftgo/backbone/internal/adapter/observability"
	pgrepo "github.com/ftgo/backbone/internal/adapter/repo/postgres"
	"github.com/ftgo/backbone/internal/app"
	ckpg "github.com/ftgo/backbone/internal/checkpoint/postgres"
	"github.com/ftgo/backbone/internal/config"
	"github.com/ftgo/backbone/internal/projection"
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

	dbCheck, busCheck := app.BuildReadinessChecks(pool, nil)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/readyz", app.ReadyzHandler(dbCheck, busCheck))
		if err := http.ListenAndServe(":"+strconv.Itoa(cfg.MetricsPort), mux); err != nil {
			slog.Error("projector metrics server error", slog.Any("error", err))
		}
	}()

	checkpoints := ckpg.New(pool)

	runtimes := []*projection.Runtime{
		projection.New(pool, checkpoints, accountprojection.DetailsSubscriptionID, "Account",
			accountprojection.ApplyAccountDetails, cfg.ProjectorPollInterval),
		projection.New(pool, checkpoints, accountprojection.InfosSubscriptionID, "Account",
			accountprojection.ApplyAccountInfos, cfg.ProjectorPollInterval),
	}

	slog.Info("starting projection runtime", slog.String("env", cfg.AppEnv), slog.Int("projections", len(runtimes)))
	for _, r := range runtimes {
		r := r
		go func() {
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("projection runtime exited", slog.Any("error", err))
			}
		}()
	}

	slog.Info("projection runtime started, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("projection runtime stopped")
}
