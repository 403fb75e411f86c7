package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
)

// JobDispatcher ставит задания в очередь. Реализация: mq.Dispatcher.
type JobDispatcher interface {
	Submit(ctx context.Context, job mq.Job, route mq.Route, onError *mq.Callback) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	store      repo.RequestStore
	dispatcher JobDispatcher
	logger     *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Store      repo.RequestStore
	Dispatcher JobDispatcher
	Logger     *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}
}
