package infrastructure

import (
	"context"
	"fmt"
	"time"

	"chargeline/internal/charge"
	"chargeline/internal/config"
	"chargeline/internal/repository"
	"chargeline/internal/service"
	"chargeline/internal/storage/memcachestore"
	"chargeline/internal/storage/redisstore"
	transportGRPC "chargeline/internal/transport/grpc"
	transportHTTP "chargeline/internal/transport/http"
	transportKafka "chargeline/internal/transport/kafka"
	transportNATS "chargeline/internal/transport/nats"
	"chargeline/internal/worker"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	logger, err := NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() { _ = logger.Sync() })

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(reg)

	// ── Audit log ──────────────────────────────────────────────────────────────
	var recorder service.ChargeRecorder
	if cfg.AuditEnabled() {
		db, err := connectPostgres(ctx, cfg.DSN())
		if err != nil {
			return nil, runCleanup(cleanupFns), fmt.Errorf("postgres: %w", err)
		}
		cleanupFns = append(cleanupFns, db.Close)
		recorder = repository.NewChargeLog(db)
		logger.Info("charge audit log enabled", zap.String("db_host", cfg.DBHost))
	}

	// ── Bus ────────────────────────────────────────────────────────────────────
	var bus repository.MessageBus = repository.NopBus{}
	var nc *nats.Conn

	switch cfg.BusProvider {
	case config.BusNats:
		nc, err = connectNats(cfg.NatsAddr(), logger)
		if err != nil {
			return nil, runCleanup(cleanupFns), fmt.Errorf("nats: %w", err)
		}
		cleanupFns = append(cleanupFns, nc.Close)
		bus = transportNATS.NewBus(nc)

	case config.BusGRPC:
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), fmt.Errorf("grpc bus: %w", err)
		}
		cleanupFns = append(cleanupFns, cleanup)
		bus = grpcBus

	case config.BusKafka:
		kafkaBus := transportKafka.NewBus(cfg.KafkaBrokers)
		cleanupFns = append(cleanupFns, func() { _ = kafkaBus.Close() })
		bus = kafkaBus
	}

	// ── Engines, one per backend ──────────────────────────────────────────────
	hook := charge.PreCommitHook(charge.NoDelay)
	var maxDelay time.Duration
	if cfg.DelayHookEnabled {
		maxDelay = cfg.Delay
		hook = charge.SentinelDelay(cfg.DelaySentinel, cfg.Delay, logger)
		logger.Warn("pre-commit delay hook enabled", zap.String("sentinel", cfg.DelaySentinel), zap.Duration("delay", cfg.Delay))
	}

	services := make(map[string]service.ChargeService, len(cfg.Backends))
	for _, backend := range cfg.Backends {
		opts := []charge.Option{
			charge.WithKey(cfg.AccountKey),
			charge.WithDefaultBalance(cfg.DefaultBalance),
			charge.WithPreCommitHook(hook),
			charge.WithObserver(metrics.Observer(backend)),
			charge.WithLogger(logger.With(zap.String("backend", backend))),
		}

		var engine *charge.Engine
		switch backend {
		case config.BackendRedis:
			handle := newRedisHandle(cfg.RedisAddr(), logger)
			cleanupFns = append(cleanupFns, func() { _ = handle.Close() })
			engine = charge.NewTxEngine(redisstore.New(handle), opts...)
		case config.BackendMemcached:
			handle := newMemcachedHandle(cfg.MemcachedAddr(), logger)
			cleanupFns = append(cleanupFns, func() { _ = handle.Close() })
			engine = charge.NewCASEngine(memcachestore.New(handle), append(opts, charge.WithCASTTL(cfg.CASTTL))...)
		}

		services[backend] = service.NewCharges(backend, engine, bus, metrics, logger)
	}

	// ── Servers ────────────────────────────────────────────────────────────────
	var servers []Server

	servers = append(servers, transportGRPC.NewServer(cfg.GRPCListenAddr(), services, recorder, logger))

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, services, reg, maxDelay, logger))
	} else {
		logger.Info("http api not started", zap.String("reason", apiErr.Error()))
	}

	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(services, nc, logger))
		if recorder != nil {
			servers = append(servers, worker.NewChargeWorker(recorder, nc, logger))
		}
	}
	if cfg.BusProvider == config.BusKafka && recorder != nil {
		servers = append(servers, worker.NewKafkaChargeWorker(recorder, cfg.KafkaBrokers, logger))
	}

	logger.Info("chargeline bootstrapped",
		zap.Strings("backends", cfg.Backends),
		zap.String("account_key", cfg.AccountKey),
		zap.String("bus", cfg.BusProvider),
	)

	return NewApp(servers, logger), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
