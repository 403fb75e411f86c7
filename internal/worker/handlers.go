package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/lock"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/telemetry"
)

// handleBuildArch обрабатывает задание build.arch из очереди архитектуры.
func (w *Worker) handleBuildArch(ctx context.Context, delivery *mq.Delivery) error {
	job, err := mq.ParsePayload[domain.BuildJob](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse build.arch payload", "error", err)
		return err
	}

	err = w.Build(ctx, job)

	// Ожидаемые ситуации — ack без callback
	if errors.Is(err, ErrRequestAlreadyFailed) || errors.Is(err, lock.ErrLocked) {
		w.logger.Debug("build skipped", "request_id", job.RequestID, "reason", err)
		return nil
	}
	return err
}

// Build собирает и пушит index image запроса для архитектуры воркера.
//
// Ошибка означает, что архитектура не собрана; запрос в failed переводит
// callback задания.
func (w *Worker) Build(ctx context.Context, job domain.BuildJob) (err error) {
	logger := telemetry.WithRequestID(w.logger, job.RequestID)
	startedAt := time.Now()

	defer func() {
		switch {
		case err == nil:
			telemetry.ArchBuildsTotal.WithLabelValues(w.arch, telemetry.ResultSuccess).Inc()
			telemetry.ArchBuildDuration.WithLabelValues(w.arch).Observe(time.Since(startedAt).Seconds())
		case errors.Is(err, ErrRequestAlreadyFailed), errors.Is(err, lock.ErrLocked):
			telemetry.ArchBuildsTotal.WithLabelValues(w.arch, telemetry.ResultSkipped).Inc()
		default:
			telemetry.ArchBuildsTotal.WithLabelValues(w.arch, telemetry.ResultFailure).Inc()
		}
	}()

	if err := w.checkRequest(ctx, job.RequestID); err != nil {
		return err
	}

	if w.locker != nil {
		release, err := w.locker.Acquire(ctx, job.RequestID, w.arch)
		if err != nil {
			return err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release the arch lock", "error", err)
			}
		}()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "worker.Build")
	defer span.End()

	if err := w.builder.Cleanup(ctx); err != nil {
		return err
	}

	dir, err := os.MkdirTemp(w.tempDir, fmt.Sprintf("iib-%d-", job.RequestID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWorkspace, err)
	}
	defer os.RemoveAll(dir)

	logger.Info("building the index image", "bundles", job.Bundles, "from_index", job.FromIndexResolved)

	if err := w.builder.Generate(ctx, dir, job); err != nil {
		return err
	}
	if err := w.builder.PatchRecipe(dir); err != nil {
		return err
	}
	if err := w.builder.BuildImage(ctx, dir, job.RequestID); err != nil {
		return err
	}

	pushed, err := w.builder.PushImage(ctx, job.RequestID)
	if err != nil {
		return err
	}
	logger.Info("index image pushed", "pull_spec", pushed)

	return w.report(ctx, job.RequestID)
}

// checkRequest не даёт строить для запроса, который уже упал.
func (w *Worker) checkRequest(ctx context.Context, requestID int64) error {
	req, err := w.store.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if req.State != domain.RequestStateFailed {
		return nil
	}

	reason := fmt.Sprintf("Not building for the arch %s since the request has already failed", w.arch)
	telemetry.WithRequestID(w.logger, requestID).Error(reason)

	if _, err := w.store.SetState(ctx, requestID, domain.RequestStateFailed, reason); err != nil {
		return fmt.Errorf("set failed reason: %w", err)
	}
	return ErrRequestAlreadyFailed
}

// report дописывает архитектуру воркера в ArchesDone.
func (w *Worker) report(ctx context.Context, requestID int64) error {
	_, err := w.store.Update(ctx, requestID, domain.RequestUpdate{Arches: []string{w.arch}})
	if err != nil {
		telemetry.WithRequestID(w.logger, requestID).Error("failed to report the arch", "error", err)
		return domain.NewFailure(ErrReportFailed, fmt.Sprintf("Failed adding the arch %s", w.arch))
	}

	telemetry.WithRequestID(w.logger, requestID).Info("arch reported")
	return nil
}
