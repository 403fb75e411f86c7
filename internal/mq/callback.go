package mq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shaiso/iib/internal/domain"
)

// CallbackFailRequest — callback, переводящий запрос в failed с текстом ошибки.
const CallbackFailRequest = "fail_request"

// Callback — сериализуемая ссылка на обработчик ошибки задания.
// Привязывается к заданию при публикации и едет вместе с ним в сообщении.
type Callback struct {
	Name      string `json:"name"`
	RequestID int64  `json:"request_id"`
}

// FailRequest возвращает callback fail_request для запроса.
func FailRequest(requestID int64) *Callback {
	return &Callback{Name: CallbackFailRequest, RequestID: requestID}
}

// CallbackFunc — обработчик ошибки задания. cause — ошибка обработчика сообщения.
type CallbackFunc func(ctx context.Context, cb Callback, cause error) error

// Callbacks — реестр обработчиков по имени.
type Callbacks struct {
	mu    sync.RWMutex
	funcs map[string]CallbackFunc
}

// NewCallbacks создаёт пустой реестр.
func NewCallbacks() *Callbacks {
	return &Callbacks{funcs: make(map[string]CallbackFunc)}
}

// Register регистрирует обработчик под именем name.
func (c *Callbacks) Register(name string, fn CallbackFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[name] = fn
}

// Invoke вызывает обработчик, указанный в cb.
func (c *Callbacks) Invoke(ctx context.Context, cb Callback, cause error) error {
	c.mu.RLock()
	fn, ok := c.funcs[cb.Name]
	c.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCallback, cb.Name)
	}
	return fn(ctx, cb, cause)
}

// RequestFailer — перевод запроса в failed. Реализация: repo.RequestStore.
type RequestFailer interface {
	SetState(ctx context.Context, id int64, state domain.RequestState, reason string) (*domain.Request, error)
}

// FailRequestFunc — обработчик fail_request: переводит запрос в failed
// с причиной из ошибки задания.
func FailRequestFunc(store RequestFailer, logger *slog.Logger) CallbackFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, cb Callback, cause error) error {
		reason := domain.ReasonOf(cause)
		logger.Info("marking the request as failed", "request_id", cb.RequestID, "reason", reason)

		if _, err := store.SetState(ctx, cb.RequestID, domain.RequestStateFailed, reason); err != nil {
			return fmt.Errorf("fail request %d: %w", cb.RequestID, err)
		}
		return nil
	}
}
