package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	claimshandler "claimreg/internal/claims/handler"
	claimsmetrics "claimreg/internal/claims/metrics"
	"claimreg/internal/claims/service"
	"claimreg/internal/claims/store"
	"claimreg/internal/clock"
	"claimreg/internal/events"
	"claimreg/internal/events/kafka"
	"claimreg/internal/events/outbox"
	"claimreg/internal/host"
	httpapi "claimreg/internal/http"
	"claimreg/internal/platform/auth"
	"claimreg/internal/platform/config"
	"claimreg/internal/platform/httpserver"
	"claimreg/internal/platform/logger"
	"claimreg/internal/platform/metrics"
	"claimreg/internal/platform/postgres"
	"claimreg/internal/platform/redis"
	"claimreg/internal/platform/tracing"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies and keeps the process lifecycle small.
// Business logic lives in the internal claims packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("claimreg stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("claimreg stopped")
}

// outboxStore records events in the backend's own transaction and hands them
// to the relay later.
type outboxStore interface {
	events.Sink
	outbox.Source
}

// backend is the storage selected by CLAIMREG_STORE plus what it needs to
// shut down and report health. Durable backends carry an outbox so events
// commit with the claim writes they describe.
type backend struct {
	store  service.Store
	clock  clock.Sequencer
	outbox outboxStore
	checks map[string]httpapi.HealthCheck
	close  func()
}

func openBackend(ctx context.Context, cfg config.Server) (*backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &backend{
			store:  store.NewPostgres(db),
			clock:  clock.NewPostgres(db),
			outbox: outbox.New(db),
			checks: map[string]httpapi.HealthCheck{"postgres": db.PingContext},
			close:  func() { _ = db.Close() },
		}, nil
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  store.NewRedis(client.Client),
			clock:  clock.NewRedis(client.Client, ""),
			outbox: outbox.NewRedis(client.Client, ""),
			checks: map[string]httpapi.HealthCheck{"redis": client.Health},
			close:  func() { _ = client.Close() },
		}, nil
	default:
		return &backend{
			store:  store.NewInMemory(),
			clock:  clock.NewMemory(0),
			checks: map[string]httpapi.HealthCheck{},
			close:  func() {},
		}, nil
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, "claimreg")
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer be.close()

	var (
		sink      events.Sink
		publisher *kafka.Publisher
	)
	if cfg.Kafka.Enabled() {
		publisher, err = kafka.New(cfg.Kafka, []kafka.Option{kafka.WithLogger(log)})
		if err != nil {
			return err
		}
		defer publisher.Close()
		if err := publisher.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return err
		}
		be.checks["kafka"] = publisher.Ping
	}
	switch {
	case be.outbox != nil:
		sink = be.outbox
	case publisher != nil:
		sink = publisher
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(claimsmetrics.New(reg)),
	}
	if sink != nil {
		opts = append(opts, service.WithEventSink(sink))
	}
	svc, err := service.New(be.store, be.clock, cfg.MaxKeyLength, opts...)
	if err != nil {
		return err
	}
	ledger := host.NewLedger(be.clock, svc, host.WithLogger(log))

	jwt := auth.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	router := httpapi.NewRouter(httpapi.Config{
		Logger:   log,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Checks:   be.checks,
	}, claimshandler.New(ledger, svc, jwt, log))

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting claimreg",
			"addr", ln.Addr().String(),
			"store", cfg.Store,
			"max_key_length", cfg.MaxKeyLength,
			"kafka", cfg.Kafka.Enabled(),
		)
		return httpserver.Run(gctx, httpserver.New(cfg.Addr, router), ln, shutdownTimeout)
	})
	if be.outbox != nil && publisher != nil {
		relay := outbox.NewRelay(be.outbox, publisher, cfg.Kafka.RelayInterval, cfg.Kafka.RelayBatchSize,
			outbox.WithRelayLogger(log),
			outbox.WithRelayMetrics(reg),
		)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}
	return g.Wait()
}
