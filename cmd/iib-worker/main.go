// IIB Worker — собирает index image для архитектуры хоста.
//
// Worker потребляет очередь <queue_prefix>_<arch> и для каждого
// задания запускает opm и podman, пушит образ и отмечает архитектуру
// в запросе. Запускается по одному экземпляру на хост сборки.
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
	"github.com/shaiso/iib/internal/indexbuild"
	"github.com/shaiso/iib/internal/lock"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
	"github.com/shaiso/iib/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = telemetry.WithArch(logger, cfg.Arch)
	logger.Info("starting iib-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer := telemetry.InitTracer(ctx, "iib-worker", cfg.Tracing)
	defer shutdownTracer(context.Background())

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	store := repo.NewRequestRepo(pool)

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	callbacks := mq.NewCallbacks()
	callbacks.Register(mq.CallbackFailRequest, mq.FailRequestFunc(store, logger))

	// Redis — опционально, отсекает повторные доставки одного задания
	var locker worker.ArchLocker
	if cfg.RedisURL != "" {
		client, err := lock.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		locker = lock.New(client, cfg.ArchLockTTL, logger)
		logger.Info("Redis connected, arch locks enabled", "ttl", cfg.ArchLockTTL)
	}

	runner := command.NewExecutor(cfg.Secrets(), logger)

	w := worker.New(worker.Config{
		Store:       store,
		Builder:     indexbuild.NewBuilder(cfg, runner, logger),
		Locker:      locker,
		Conn:        mqConn,
		Callbacks:   callbacks,
		Arch:        cfg.Arch,
		QueuePrefix: cfg.QueuePrefix,
		Logger:      logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
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

	w.Stop()
	logger.Info("iib-worker stopped")
}
