package domain

import "errors"

// Failure — ошибка с человекочитаемой причиной для state_reason запроса.
//
// Err — классифицирующая sentinel-ошибка (errors.Is работает через Unwrap),
// Reason — текст, который увидит пользователь.
type Failure struct {
	Err    error
	Reason string
}

// NewFailure создаёт Failure.
func NewFailure(err error, reason string) *Failure {
	return &Failure{Err: err, Reason: reason}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Reason
	}
	return f.Err.Error() + ": " + f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ReasonOf возвращает причину из первой Failure в цепочке, иначе текст ошибки.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return err.Error()
}
