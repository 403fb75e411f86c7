package domain

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки применения обновлений к Request.
var (
	// ErrStateMismatch — текущее состояние не совпало с ожидаемым (ExpectState).
	ErrStateMismatch = errors.New("request state mismatch")

	// ErrIllegalTransition — переход между состояниями запрещён.
	ErrIllegalTransition = errors.New("illegal request state transition")

	// ErrIndexImageSet — index_image уже записан.
	ErrIndexImageSet = errors.New("index image already set")

	// ErrIndexImageWithoutComplete — index_image можно записать только вместе с complete.
	ErrIndexImageWithoutComplete = errors.New("index image can only be set on completion")
)

// Request — запрос на сборку multi-arch index image.
//
// Request — единственный источник правды для координации: оркестратор
// и воркеры не держат его в памяти, а читают и дописывают через RequestStore.
type Request struct {
	// ID — идентификатор запроса.
	ID int64 `json:"id"`

	// State — текущее состояние.
	State RequestState `json:"state"`

	// StateReason — человекочитаемое пояснение к состоянию.
	StateReason string `json:"state_reason"`

	// Bundles — pull spec'и bundle-образов (по тегу, не по digest).
	Bundles []string `json:"bundles"`

	// BinaryImage — образ, из которого копируется бинарь opm.
	BinaryImage string `json:"binary_image"`

	// FromIndex — существующий index image, поверх которого добавляются bundles.
	FromIndex string `json:"from_index,omitempty"`

	// AddArches — архитектуры в дополнение к архитектурам FromIndex.
	AddArches []string `json:"add_arches,omitempty"`

	// BinaryImageResolved — BinaryImage, закреплённый по digest.
	BinaryImageResolved string `json:"binary_image_resolved,omitempty"`

	// FromIndexResolved — FromIndex, закреплённый по digest.
	FromIndexResolved string `json:"from_index_resolved,omitempty"`

	// ArchesDone — архитектуры, для которых образ собран и запушен.
	// Только дописывается, никогда не уменьшается.
	ArchesDone []string `json:"arches"`

	// IndexImage — pull spec итогового manifest list. Записывается один раз.
	IndexImage string `json:"index_image,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequestUpdate — частичное обновление Request.
// nil-поля не меняются.
type RequestUpdate struct {
	// ExpectState — если задано, обновление применяется только при совпадении
	// текущего состояния (compare-and-set).
	ExpectState *RequestState

	State               *RequestState
	StateReason         *string
	BinaryImageResolved *string
	FromIndexResolved   *string
	IndexImage          *string

	// Arches — архитектуры, добавляемые в ArchesDone (объединение множеств).
	Arches []string
}

// StateUpdate — обновление только состояния и причины.
func StateUpdate(state RequestState, reason string) RequestUpdate {
	return RequestUpdate{State: &state, StateReason: &reason}
}

// Ptr возвращает указатель на значение. Удобно для полей RequestUpdate.
func Ptr[T any](v T) *T {
	return &v
}

// Apply применяет обновление к запросу, проверяя инварианты.
//
// Используется всеми реализациями хранилища внутри их атомарной секции,
// поэтому проверка и запись выполняются как одна операция.
// При ошибке запрос не изменяется.
func (r *Request) Apply(upd RequestUpdate, now time.Time) error {
	if upd.ExpectState != nil && r.State != *upd.ExpectState {
		return fmt.Errorf("%w: expected %s, got %s", ErrStateMismatch, *upd.ExpectState, r.State)
	}

	nextState := r.State
	if upd.State != nil {
		if !r.State.CanTransitionTo(*upd.State) {
			return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, r.State, *upd.State)
		}
		nextState = *upd.State
	}

	if upd.IndexImage != nil {
		if r.IndexImage != "" {
			return ErrIndexImageSet
		}
		if nextState != RequestStateComplete {
			return ErrIndexImageWithoutComplete
		}
	}

	// Терминальный запрос принимает только failed → failed и дописывание архитектур
	if r.State.IsTerminal() && upd.State == nil &&
		(upd.StateReason != nil || upd.BinaryImageResolved != nil || upd.FromIndexResolved != nil) {
		return fmt.Errorf("%w: request is %s", ErrIllegalTransition, r.State)
	}

	r.State = nextState
	if upd.StateReason != nil {
		r.StateReason = *upd.StateReason
	}
	if upd.BinaryImageResolved != nil {
		r.BinaryImageResolved = *upd.BinaryImageResolved
	}
	if upd.FromIndexResolved != nil {
		r.FromIndexResolved = *upd.FromIndexResolved
	}
	if upd.IndexImage != nil {
		r.IndexImage = *upd.IndexImage
	}
	if len(upd.Arches) > 0 {
		r.ArchesDone = mergeArches(r.ArchesDone, upd.Arches)
	}
	r.UpdatedAt = now

	return nil
}

// ArchesDoneSet возвращает ArchesDone как множество.
func (r *Request) ArchesDoneSet() ArchSet {
	return NewArchSet(r.ArchesDone...)
}

// IsFinished возвращает true, если запрос в финальном состоянии.
func (r *Request) IsFinished() bool {
	return r.State.IsTerminal()
}

// mergeArches объединяет списки архитектур, сохраняя сортировку и уникальность.
func mergeArches(current, added []string) []string {
	set := NewArchSet(current...)
	for _, arch := range added {
		if arch != "" {
			set.Add(arch)
		}
	}
	return set.Sorted()
}
