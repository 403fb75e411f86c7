package mq

import "errors"

// Ошибки очереди.
var (
	// ErrNoChannel — AMQP канал недоступен (соединение разорвано).
	ErrNoChannel = errors.New("no channel available")

	// ErrUnknownCallback — в реестре нет callback с таким именем.
	ErrUnknownCallback = errors.New("unknown callback")

	// ErrInvalidRoute — пустой или некорректный маршрут задания.
	ErrInvalidRoute = errors.New("invalid route")
)
