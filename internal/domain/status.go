package domain

// RequestState — состояние запроса на сборку index image.
//
// Жизненный цикл:
//
//	queued → in_progress → complete
//	                     ↘ failed
//	(или) queued → failed
//
// Из complete и failed запрос никогда не возвращается в in_progress.
type RequestState string

const (
	// RequestStateQueued — запрос создан, оркестратор ещё не взял его в работу.
	RequestStateQueued RequestState = "queued"

	// RequestStateInProgress — идёт подготовка, сборки по архитектурам или создание manifest list.
	RequestStateInProgress RequestState = "in_progress"

	// RequestStateComplete — manifest list опубликован, index_image записан.
	RequestStateComplete RequestState = "complete"

	// RequestStateFailed — запрос завершился с ошибкой.
	RequestStateFailed RequestState = "failed"
)

// IsTerminal возвращает true, если состояние финальное.
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestStateComplete, RequestStateFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что состояние входит в известный набор.
func (s RequestState) IsValid() bool {
	switch s {
	case RequestStateQueued, RequestStateInProgress, RequestStateComplete, RequestStateFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода s → next.
//
// Правила:
//   - complete не принимает никаких записей состояния
//   - failed принимает только failed (обновление причины)
//   - в queued вернуться нельзя
func (s RequestState) CanTransitionTo(next RequestState) bool {
	if !next.IsValid() {
		return false
	}

	switch s {
	case RequestStateComplete:
		return false
	case RequestStateFailed:
		return next == RequestStateFailed
	case RequestStateInProgress:
		return next != RequestStateQueued
	case RequestStateQueued:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление RequestState.
func (s RequestState) String() string {
	return string(s)
}
