package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrNoArches — целевой набор архитектур пуст.
	ErrNoArches = errors.New("no arches")

	// ErrUnsupportedBinaryArch — binary image не собран для части целевых архитектур.
	ErrUnsupportedBinaryArch = errors.New("binary image does not support arches")

	// ErrUnsupportedGlobalArch — для части целевых архитектур нет воркеров.
	ErrUnsupportedGlobalArch = errors.New("arches not supported")

	// ErrPollTimeout — сборки не завершились за PollTimeout.
	ErrPollTimeout = errors.New("poll timeout")

	// ErrRequestNotQueued — запрос уже взят в работу (повторная доставка задания).
	ErrRequestNotQueued = errors.New("request is not queued")

	// ErrRequestNotInProgress — запрос покинул in_progress до сборки manifest list.
	ErrRequestNotInProgress = errors.New("request is not in progress")

	// ErrRequestAlreadyActive — запрос уже обрабатывается этим оркестратором.
	ErrRequestAlreadyActive = errors.New("request already being processed")
)
