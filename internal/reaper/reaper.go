package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
)

const (
	defaultMaxAge    = 3 * time.Hour
	defaultBatchSize = 100
)

// Reaper — переводит в failed запросы, брошенные оркестратором.
type Reaper struct {
	store     repo.RequestStore
	logger    *slog.Logger
	maxAge    time.Duration
	batchSize int
	now       func() time.Time
}

// Config — конфигурация Reaper.
type Config struct {
	Store     repo.RequestStore
	Logger    *slog.Logger
	MaxAge    time.Duration // запрос без обновлений дольше считается брошенным (default: 3h)
	BatchSize int           // количество запросов за один тик (default: 100)
}

// New создаёт новый Reaper.
func New(cfg Config) *Reaper {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		store:     cfg.Store,
		logger:    telemetry.WithComponent(logger, "reaper"),
		maxAge:    maxAge,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Tick выполняет один проход.
//
// 1. Находит queued/in_progress запросы без обновлений дольше MaxAge
// 2. Переводит каждый в failed, если состояние не изменилось с момента выборки
//
// Ошибки одного запроса не блокируют обработку остальных.
// Возвращает число переведённых в failed запросов.
func (r *Reaper) Tick(ctx context.Context) (int, error) {
	before := r.now().Add(-r.maxAge)

	stale, err := r.store.ListStale(ctx, before, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale requests: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	r.logger.Debug("found stale requests", "count", len(stale))

	var reaped int
	for i := range stale {
		req := &stale[i]

		ok, err := r.reap(ctx, req)
		if err != nil {
			r.logger.Error("failed to reap request", "request_id", req.ID, "error", err)
			continue
		}
		if ok {
			reaped++
		}
	}

	telemetry.ReapedRequestsTotal.Add(float64(reaped))
	r.logger.Info("reaper tick completed", "stale", len(stale), "reaped", reaped)

	return reaped, nil
}

// reap переводит один запрос в failed.
// Возвращает false, если запрос успел сдвинуться.
func (r *Reaper) reap(ctx context.Context, req *domain.Request) (bool, error) {
	reason := fmt.Sprintf("The request was abandoned after no progress for %s while %s", r.maxAge, req.State)

	_, err := r.store.Update(ctx, req.ID, domain.RequestUpdate{
		ExpectState: domain.Ptr(req.State),
		State:       domain.Ptr(domain.RequestStateFailed),
		StateReason: domain.Ptr(reason),
	})
	if errors.Is(err, repo.ErrInvalidState) {
		r.logger.Debug("request moved on, skipping", "request_id", req.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	telemetry.WithRequestID(r.logger, req.ID).Warn("request reaped", "state", req.State, "updated_at", req.UpdatedAt)
	return true, nil
}
