// IIB Reaper — переводит в failed запросы, брошенные оркестратором.
//
// Запускается по cron-расписанию reaper_schedule. Из нескольких
// экземпляров работает только лидер (pg_try_advisory_lock).
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

	"github.com/shaiso/iib/internal/config"
	"github.com/shaiso/iib/internal/reaper"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
)

const reaperLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting iib-reaper")

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateReaper()
	}
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	schedule, err := reaper.ParseSchedule(cfg.ReaperSchedule)
	if err != nil {
		logger.Error("invalid reaper schedule", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	r := reaper.New(reaper.Config{
		Store:  repo.NewRequestRepo(pool),
		MaxAge: cfg.ReaperMaxAge,
		Logger: logger,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.Run(ctx, schedule, repo.NewAdvisoryLock(pool, reaperLockKey)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reaper stopped", "error", err)
		}
	}()

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
			logger.Error("http error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	<-done
	logger.Info("iib-reaper stopped")
}
