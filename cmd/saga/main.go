// Package main runs the Saga Coordinator process: the Create-Order saga
// orchestrator plus the in-process participant handlers (order, consumer,
// accounting, kitchen) that back it for this system's worked example.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ftgo/backbone/internal/accounting"
	"github.com/ftgo/backbone/internal/adapter/observability"
	pgrepo "github.com/ftgo/backbone/internal/adapter/repo/postgres"
	"github.com/ftgo/backbone/internal/app"
	"github.com/ftgo/backbone/internal/bus"
	"github.com/ftgo/backbone/internal/config"
	"github.com/ftgo/backbone/internal/consumer"
	"github.com/ftgo/backbone/internal/domain"
	"github.com/ftgo/backbone/internal/kitchen"
	"github.com/ftgo/backbone/internal/orderservice"
	orderedsaga "github.com/ftgo/backbone/internal/orderservice/saga"
	obpg "github.com/ftgo/backbone/internal/outbox/postgres"
	backbonesaga "github.com/ftgo/backbone/internal/saga"
	sagapg "github.com/ftgo/backbone/internal/saga/postgres"
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

	sagaRepo := sagapg.New(pool)
	outbox := obpg.New(pool)

	sweeper := app.NewStuckSagaSweeper(sagaRepo, cfg.SagaStuckMaxAge, cfg.SagaSweepInterval)
	go sweeper.Run(ctx)

	coordinator := backbonesaga.New(orderedsaga.Definition(), sagaRepo, outbox, orderedsaga.ReplyTopic, orderedsaga.Decode, orderedsaga.Encode)

	orderHandler := orderservice.NewHandler(pool)
	consumerHandler := consumer.NewHandler(pool)
	accountingHandler := accounting.NewHandler(pool)
	kitchenHandler := kitchen.NewHandler(pool)

	slog.Info("starting saga coordinator", slog.String("env", cfg.AppEnv))

	topics := []struct {
		topic   string
		groupID string
		handle  bus.Handler
	}{
		{orderedsaga.RequestTopic, "saga-requests", requestHandler(coordinator)},
		{orderedsaga.ReplyTopic, "saga-replies", replyHandler(coordinator)},
		{orderservice.LocalTopic, "order-local-steps", envelopeHandler(orderHandler.Handle)},
		{"consumer-commands", "consumer-steps", envelopeHandler(consumerHandler.HandleVerify)},
		{"accounting-commands", "accounting-steps", envelopeHandler(accountingHandler.Handle)},
	}

	consumers := make([]*bus.Consumer, 0, len(topics))
	for _, t := range topics {
		c, err := bus.NewConsumer(cfg.KafkaBrokers, t.groupID, t.topic)
		if err != nil {
			slog.Error("consumer init failed", slog.String("topic", t.topic), slog.Any("error", err))
			os.Exit(1)
		}
		consumers = append(consumers, c)
	}

	kitchenConsumer, err := bus.NewConsumer(cfg.KafkaBrokers, "kitchen-steps", "kitchen-commands")
	if err != nil {
		slog.Error("kitchen consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}

	dbCheck, busCheck := app.BuildReadinessChecks(pool, kitchenConsumer)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/readyz", app.ReadyzHandler(dbCheck, busCheck))
		if err := http.ListenAndServe(":"+strconv.Itoa(cfg.MetricsPort), mux); err != nil {
			slog.Error("saga metrics server error", slog.Any("error", err))
		}
	}()

	for i, t := range topics {
		go runConsumer(ctx, consumers[i], t.handle, t.topic)
	}
	go runConsumer(ctx, kitchenConsumer, kitchenDispatch(kitchenHandler), "kitchen-commands")

	slog.Info("saga coordinator started, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("saga coordinator stopped")
}

func requestHandler(c *backbonesaga.Coordinator[orderedsaga.CreateOrderData]) bus.Handler {
	return func(ctx context.Context, key, value []byte, _ []kgo.RecordHeader) error {
		var d orderedsaga.CreateOrderData
		if err := json.Unmarshal(value, &d); err != nil {
			return err
		}
		return c.Start(ctx, d.OrderID, d)
	}
}

func replyHandler(c *backbonesaga.Coordinator[orderedsaga.CreateOrderData]) bus.Handler {
	return func(ctx context.Context, key, value []byte, _ []kgo.RecordHeader) error {
		var reply domain.ReplyEnvelope
		if err := json.Unmarshal(value, &reply); err != nil {
			return err
		}
		return c.HandleReply(ctx, reply)
	}
}

func envelopeHandler(handle func(context.Context, domain.CommandEnvelope) error) bus.Handler {
	return func(ctx context.Context, key, value []byte, _ []kgo.RecordHeader) error {
		var envelope domain.CommandEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		return handle(ctx, envelope)
	}
}

// kitchenDispatch routes a kitchen command envelope by its Type since
// create/confirm/cancel are three different methods on *kitchen.Handler.
func kitchenDispatch(h *kitchen.Handler) bus.Handler {
	return func(ctx context.Context, key, value []byte, _ []kgo.RecordHeader) error {
		var envelope domain.CommandEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		switch envelope.Type {
		case "CreateTicketCommand":
			return h.HandleCreateTicket(ctx, envelope)
		case "ConfirmCreateTicketCommand":
			return h.HandleConfirmTicket(ctx, envelope)
		case "CancelTicketCommand":
			return h.HandleCancelTicket(ctx, envelope)
		default:
			slog.Warn("unknown kitchen command type", slog.String("type", envelope.Type))
			return nil
		}
	}
}

func runConsumer(ctx context.Context, c *bus.Consumer, handle bus.Handler, topic string) {
	defer func() { _ = c.Close() }()
	if err := c.Run(ctx, handle); err != nil && ctx.Err() == nil {
		slog.Error("consumer loop exited", slog.String("topic", topic), slog.Any("error", err))
	}
}
