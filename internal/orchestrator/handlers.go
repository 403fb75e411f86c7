package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
	"github.com/shaiso/iib/internal/telemetry"
)

// PreparedBuild — результат подготовки запроса к сборкам по архитектурам.
type PreparedBuild struct {
	Arches              domain.ArchSet
	Bundles             []string
	BinaryImageResolved string
	FromIndexResolved   string
}

// handleAddRequest обрабатывает задание request.add из очереди.
func (o *Orchestrator) handleAddRequest(ctx context.Context, delivery *mq.Delivery) error {
	job, err := mq.ParsePayload[domain.AddRequestJob](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse request.add payload", "error", err)
		return err
	}

	err = o.HandleAddRequest(ctx, job)
	if errors.Is(err, ErrRequestAlreadyActive) {
		o.logger.Debug("request already active, skipping", "request_id", job.RequestID)
		return nil
	}
	return err
}

// HandleAddRequest проводит запрос через prepare → dispatch → poll → finish.
//
// Ошибка означает, что запрос нужно перевести в failed (это делает
// callback fail_request). Повторная доставка, отмена сборки воркером
// и потеря in_progress к моменту сборки manifest list ошибкой не считаются.
// При отмене ctx возвращается ctx.Err(), запрос остаётся in_progress.
func (o *Orchestrator) HandleAddRequest(ctx context.Context, job domain.AddRequestJob) (err error) {
	logger := telemetry.WithRequestID(o.logger, job.RequestID)

	progress := NewBuildProgress(job.RequestID, o.now())
	if err := o.addActiveRequest(progress); err != nil {
		return err
	}
	defer o.removeActiveRequest(job.RequestID)

	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.HandleAddRequest")
	span.SetAttributes(attribute.Int64("iib.request_id", job.RequestID))
	defer span.End()

	startedAt := o.now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domain.ReasonOf(err))
			// Остановка процесса не завершает запрос
			if ctx.Err() == nil {
				telemetry.RequestsTotal.WithLabelValues(string(domain.RequestStateFailed)).Inc()
			}
		}
	}()

	prepared, err := o.Prepare(ctx, job)
	if errors.Is(err, ErrRequestNotQueued) || errors.Is(err, ErrRequestNotInProgress) {
		logger.Info("request is not ours to build, skipping", "reason", err)
		return nil
	}
	if err != nil {
		return err
	}

	if err := o.Dispatch(ctx, job.RequestID, prepared); err != nil {
		return err
	}

	done, err := o.PollUntilDone(ctx, job.RequestID, prepared.Arches)
	if err != nil {
		return err
	}
	if !done {
		progress.SetStage(StageAborted)
		logger.Error("Not finishing the request since one of the underlying builds failed")
		telemetry.RequestsTotal.WithLabelValues(string(domain.RequestStateFailed)).Inc()
		return nil
	}

	if _, err := o.Finish(ctx, job.RequestID, prepared.Arches); err != nil {
		if errors.Is(err, ErrRequestNotInProgress) {
			progress.SetStage(StageAborted)
			logger.Warn("request left in_progress before completion", "reason", err)
			return nil
		}
		return err
	}

	telemetry.RequestsTotal.WithLabelValues(string(domain.RequestStateComplete)).Inc()
	telemetry.RequestDuration.Observe(o.now().Sub(startedAt).Seconds())
	return nil
}

// Prepare захватывает запрос, резолвит образы и вычисляет целевые архитектуры.
func (o *Orchestrator) Prepare(ctx context.Context, job domain.AddRequestJob) (*PreparedBuild, error) {
	logger := telemetry.WithRequestID(o.logger, job.RequestID)

	_, err := o.store.Update(ctx, job.RequestID, domain.RequestUpdate{
		ExpectState: domain.Ptr(domain.RequestStateQueued),
		State:       domain.Ptr(domain.RequestStateInProgress),
		StateReason: domain.Ptr("Resolving the images"),
	})
	if errors.Is(err, repo.ErrInvalidState) {
		return nil, fmt.Errorf("%w: %v", ErrRequestNotQueued, err)
	}
	if err != nil {
		return nil, fmt.Errorf("claim request: %w", err)
	}

	arches := domain.NewArchSet(job.AddArches...)

	binaryResolved, err := o.resolver.Resolve(ctx, job.BinaryImage)
	if err != nil {
		return nil, err
	}
	binaryArches, err := o.resolver.Arches(ctx, binaryResolved)
	if err != nil {
		return nil, err
	}

	var fromIndexResolved string
	if job.FromIndex != "" {
		fromIndexResolved, err = o.resolver.Resolve(ctx, job.FromIndex)
		if err != nil {
			return nil, err
		}
		fromIndexArches, err := o.resolver.Arches(ctx, fromIndexResolved)
		if err != nil {
			return nil, err
		}
		arches = arches.Union(fromIndexArches)
	}

	if arches.Len() == 0 {
		return nil, domain.NewFailure(ErrNoArches, "No arches were provided to build the index image")
	}

	logger.Debug("set to build the index image", "arches", arches.String())

	if missing := arches.Minus(binaryArches); missing.Len() > 0 {
		return nil, domain.NewFailure(ErrUnsupportedBinaryArch,
			"The binary image is not available for the following arches: "+missing.String())
	}

	if unsupported := arches.Minus(o.supportedArches); unsupported.Len() > 0 {
		return nil, domain.NewFailure(ErrUnsupportedGlobalArch,
			"Building for the following requested arches is not supported: "+strings.Join(unsupported.Sorted(), ","))
	}

	upd := domain.RequestUpdate{
		ExpectState:         domain.Ptr(domain.RequestStateInProgress),
		State:               domain.Ptr(domain.RequestStateInProgress),
		StateReason:         domain.Ptr("Scheduling index image builds for the following arches: " + arches.String()),
		BinaryImageResolved: domain.Ptr(binaryResolved),
	}
	if fromIndexResolved != "" {
		upd.FromIndexResolved = domain.Ptr(fromIndexResolved)
	}
	if _, err := o.store.Update(ctx, job.RequestID, upd); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return nil, fmt.Errorf("%w: %v", ErrRequestNotInProgress, err)
		}
		return nil, fmt.Errorf("set resolved images: %w", err)
	}

	if progress := o.getActiveRequest(job.RequestID); progress != nil {
		progress.SetArches(arches)
	}

	return &PreparedBuild{
		Arches:              arches,
		Bundles:             job.Bundles,
		BinaryImageResolved: binaryResolved,
		FromIndexResolved:   fromIndexResolved,
	}, nil
}

// Dispatch ставит по одному заданию build.arch в очередь каждой архитектуры.
// Архитектуры обходятся в отсортированном порядке.
func (o *Orchestrator) Dispatch(ctx context.Context, requestID int64, prepared *PreparedBuild) error {
	logger := telemetry.WithRequestID(o.logger, requestID)

	// Bundles передаются по тегу: opm не принимает bundle по digest
	job := domain.BuildJob{
		Bundles:             prepared.Bundles,
		BinaryImageResolved: prepared.BinaryImageResolved,
		FromIndexResolved:   prepared.FromIndexResolved,
		RequestID:           requestID,
	}

	for _, arch := range prepared.Arches.Sorted() {
		route := mq.ArchRoute(o.queuePrefix, arch)
		if err := o.dispatcher.Submit(ctx, job, route, mq.FailRequest(requestID)); err != nil {
			return fmt.Errorf("dispatch build for %s: %w", arch, err)
		}
		logger.Info("build scheduled", "arch", arch, "route", route)
	}

	if progress := o.getActiveRequest(requestID); progress != nil {
		progress.SetStage(StageDispatched)
	}
	return nil
}

// PollUntilDone ждёт, пока воркеры отчитаются по всем arches.
//
// Возвращает true, когда все архитектуры в ArchesDone, и false, если запрос
// покинул in_progress. Ожидание прерывается отменой ctx и PollTimeout.
func (o *Orchestrator) PollUntilDone(ctx context.Context, requestID int64, arches domain.ArchSet) (bool, error) {
	logger := telemetry.WithRequestID(o.logger, requestID)
	remaining := arches.Clone()

	progress := o.getActiveRequest(requestID)
	if progress != nil {
		progress.SetStage(StagePolling)
	}

	var timeout <-chan time.Time
	if o.pollTimeout > 0 {
		timer := time.NewTimer(o.pollTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-timeout:
			return false, domain.NewFailure(ErrPollTimeout, fmt.Sprintf(
				"Timed out after %s waiting for the builds of the following arches: %s",
				o.pollTimeout, remaining.String()))

		case <-ticker.C:
		}

		logger.Info("polling to see if the image builds have completed", "arches", remaining.String())

		req, err := o.store.Get(ctx, requestID)
		if err != nil {
			return false, fmt.Errorf("get request: %w", err)
		}

		// failed: архитектуры уже не появятся. complete: manifest list уже запушен.
		if req.State != domain.RequestStateInProgress {
			return false, nil
		}

		remaining = remaining.Minus(req.ArchesDoneSet())
		if progress != nil {
			progress.MarkDone(req.ArchesDoneSet())
		}
		if remaining.Len() == 0 {
			logger.Info("all the underlying builds have completed")
			return true, nil
		}
	}
}

// Finish собирает manifest list и завершает запрос.
// Возвращает pull spec manifest list.
func (o *Orchestrator) Finish(ctx context.Context, requestID int64, arches domain.ArchSet) (string, error) {
	if progress := o.getActiveRequest(requestID); progress != nil {
		progress.SetStage(StageCompleting)
	}

	_, err := o.store.Update(ctx, requestID, domain.RequestUpdate{
		ExpectState: domain.Ptr(domain.RequestStateInProgress),
		State:       domain.Ptr(domain.RequestStateInProgress),
		StateReason: domain.Ptr("Creating the manifest list"),
	})
	if err != nil {
		return "", o.finishError(err, "set creating state")
	}

	indexImage, err := o.manifests.BuildAndPush(ctx, requestID, arches)
	if err != nil {
		return "", err
	}

	_, err = o.store.Update(ctx, requestID, domain.RequestUpdate{
		ExpectState: domain.Ptr(domain.RequestStateInProgress),
		State:       domain.Ptr(domain.RequestStateComplete),
		StateReason: domain.Ptr("The request completed successfully"),
		IndexImage:  domain.Ptr(indexImage),
	})
	if err != nil {
		return "", o.finishError(err, "set the index image")
	}

	if progress := o.getActiveRequest(requestID); progress != nil {
		progress.SetStage(StageCompleted)
	}

	telemetry.WithRequestID(o.logger, requestID).Info("request completed", "index_image", indexImage)
	return indexImage, nil
}

func (o *Orchestrator) finishError(err error, action string) error {
	if errors.Is(err, repo.ErrInvalidState) {
		return fmt.Errorf("%w: %v", ErrRequestNotInProgress, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
