package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"gar"
	cbmem "gar/circuit/memory"
	"gar/event"
	"gar/idempotency"
	idemmem "gar/idempotency/memory"
	idemredis "gar/idempotency/redis"
	"gar/lock"
	lockmem "gar/lock/memory"
	lockredis "gar/lock/redis"
	"gar/metrics"
	prommetrics "gar/metrics/prometheus"
	"gar/notify"
	"gar/store/bolt"
	"gar/store/memory"
	"gar/store/mysql"
	"gar/store/postgres"
	"gar/sweeper"
	"gar/tracing"
)

// app holds the wired components of one gard process.
type app struct {
	cfg        *Config
	engine     *gar.Engine
	sweeper    *sweeper.Worker
	dispatcher *notify.Dispatcher
	outbox     *notify.MemoryOutbox
	breaker    *cbmem.MemoryBreaker
	bus        *event.MemoryEventBus
	registry   *prometheus.Registry
	closers    []func(context.Context) error
}

// buildApp wires store, engine and workers from cfg.
func buildApp(ctx context.Context, cfg *Config) (*app, error) {
	a := &app{cfg: cfg}
	engineCfg := cfg.engineConfig()

	store, err := a.openStore(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var (
		locker lock.Locker
		dedup  idempotency.Checker
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		locker = lockredis.NewRedisLocker(client)
		dedup = idemredis.New(client)
	} else {
		locker = lockmem.NewMemoryLocker()
		dedup = idemmem.New()
	}

	var m metrics.Metrics = &metrics.NoopMetrics{}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		pc := prommetrics.DefaultConfig()
		pc.Registry = a.registry
		m = prommetrics.New(pc)
	}

	var tracer tracing.Tracer = &tracing.NoopTracer{}
	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		a.closers = append(a.closers, tp.Shutdown)
		tracer = tracing.NewOTelTracer(tracing.Config{ServiceName: cfg.Tracing.ServiceName, TracerProvider: tp})
	}

	a.bus = event.NewMemoryEventBus()
	a.outbox = notify.NewMemoryOutbox(cfg.Notify.OutboxSize)
	a.breaker = cbmem.NewMemoryBreaker()

	a.engine = gar.NewEngine(
		gar.WithEngineStore(store),
		gar.WithEngineConfig(engineCfg),
		gar.WithEngineOutbox(a.outbox),
		gar.WithEngineEventBus(a.bus),
		gar.WithEngineMetrics(m),
		gar.WithEngineTracer(tracer),
	)

	a.sweeper = sweeper.NewWorker(
		sweeper.WithEngine(a.engine),
		sweeper.WithLocker(locker),
		sweeper.WithEventBus(a.bus),
		sweeper.WithMetrics(m),
		sweeper.WithTracer(tracer),
		sweeper.WithConfig(sweeper.ConfigFrom(engineCfg)),
	)

	a.dispatcher = notify.NewDispatcher(
		notify.WithEngine(a.engine),
		notify.WithNotifier(a.notifier()),
		notify.WithOutbox(a.outbox),
		notify.WithBreaker(a.breaker),
		notify.WithBreakerConfig(engineCfg.ToBreakerConfig()),
		notify.WithChecker(dedup),
		notify.WithEventBus(a.bus),
		notify.WithMetrics(m),
		notify.WithTracer(tracer),
		notify.WithConfig(notify.ConfigFrom(engineCfg)),
	)
	return a, nil
}

// openStore opens the configured backend and registers its closer.
func (a *app) openStore(ctx context.Context) (gar.TxStore, error) {
	sc := a.cfg.Store
	switch sc.Driver {
	case "", "memory":
		return memory.New(), nil

	case "mysql":
		s, err := mysql.Open(sc.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		if sc.Migrate {
			if err := s.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil

	case "postgres":
		s, pool, err := postgres.Connect(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		if sc.Migrate {
			if err := s.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil

	case "bolt":
		s, err := bolt.Open(sc.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil

	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", gar.ErrInvalidConfig, sc.Driver)
	}
}

// notifier returns the webhook notifier, or a log-only notifier when no
// webhook is configured.
func (a *app) notifier() gar.Notifier {
	nc := a.cfg.Notify
	if nc.WebhookURL == "" {
		return gar.NotifierFunc(func(ctx context.Context, change gar.StatusChange) error {
			log.Printf("[Notifier] %s: %s -> %s (%s)", change.Transaction.Reference,
				change.PreviousStatus, change.NewStatus, change.Transaction.Client.Email)
			return nil
		})
	}

	var opts []notify.WebhookOption
	if nc.Token != "" {
		opts = append(opts, notify.WithHeader("Authorization", "Bearer "+nc.Token))
	}
	return notify.NewWebhookNotifier(nc.WebhookURL, opts...)
}

// metricsHandler serves the private registry.
func (a *app) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// close releases resources in reverse order.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Printf("close: %v", err)
		}
	}
	a.closers = nil
}
