package repo

import "errors"

// Общие ошибки хранилищ.
var (
	// ErrNotFound — запрос не найден.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — обновление нарушает инварианты запроса
	// или не совпало ожидаемое состояние.
	ErrInvalidState = errors.New("invalid state")
)
