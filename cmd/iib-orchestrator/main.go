// IIB Orchestrator — ведёт запросы на сборку multi-arch index image.
//
// Orchestrator:
//   - Получает задания request.add из RabbitMQ
//   - Резолвит образы и вычисляет архитектуры
//   - Раздаёт задания build.arch воркерам архитектур
//   - Собирает manifest list, когда все архитектуры готовы
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/iib/internal/command"
	"github.com/shaiso/iib/internal/config"
	"github.com/shaiso/iib/internal/image"
	"github.com/shaiso/iib/internal/manifest"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/orchestrator"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting iib-orchestrator")

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer := telemetry.InitTracer(ctx, "iib-orchestrator", cfg.Tracing)
	defer shutdownTracer(context.Background())

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	store := repo.NewRequestRepo(pool)

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	topology := mq.Topology{Prefix: cfg.QueuePrefix, Arches: cfg.Arches}
	if err := mq.SetupTopology(ctx, mqConn, topology); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	logger.Info("RabbitMQ connected", "topology", topology.TopologyInfo())

	callbacks := mq.NewCallbacks()
	callbacks.Register(mq.CallbackFailRequest, mq.FailRequestFunc(store, logger))

	runner := command.NewExecutor(cfg.Secrets(), logger)

	orch := orchestrator.New(orchestrator.Config{
		Store:           store,
		Resolver:        image.NewResolver(runner, logger),
		Dispatcher:      mq.NewDispatcher(mq.NewPublisher(mqConn, logger), logger),
		Manifests:       manifest.NewBuilder(cfg, runner, logger),
		Conn:            mqConn,
		Callbacks:       callbacks,
		SupportedArches: cfg.Arches,
		QueuePrefix:     cfg.QueuePrefix,
		PollInterval:    cfg.PollInterval,
		PollTimeout:     cfg.PollTimeout,
		Logger:          logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("amqp disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	orch.Stop()
	logger.Info("iib-orchestrator stopped")
}
