package worker

import "errors"

// Ошибки воркера.
var (
	// ErrRequestAlreadyFailed — запрос уже в failed, сборка не выполняется.
	ErrRequestAlreadyFailed = errors.New("request has already failed")

	// ErrReportFailed — не удалось дописать архитектуру в запрос.
	ErrReportFailed = errors.New("failed to report the arch")

	// ErrWorkspace — не удалось создать рабочую директорию сборки.
	ErrWorkspace = errors.New("build workspace error")
)
