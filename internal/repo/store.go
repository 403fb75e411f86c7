package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/iib/internal/domain"
)

// RequestStore — хранилище запросов на сборку.
//
// Update и SetState атомарны: чтение, проверка инвариантов (domain.Request.Apply)
// и запись выполняются как одна операция. Ошибка инварианта — ErrInvalidState.
type RequestStore interface {
	// Create сохраняет новый запрос и заполняет его ID.
	Create(ctx context.Context, req *domain.Request) error

	// Get возвращает запрос по ID.
	Get(ctx context.Context, id int64) (*domain.Request, error)

	// Update применяет частичное обновление и возвращает новое состояние запроса.
	Update(ctx context.Context, id int64, upd domain.RequestUpdate) (*domain.Request, error)

	// SetState меняет состояние и причину.
	SetState(ctx context.Context, id int64, state domain.RequestState, reason string) (*domain.Request, error)

	// List возвращает запросы, новые первыми.
	List(ctx context.Context, filter RequestFilter) ([]domain.Request, error)

	// ListStale возвращает незавершённые запросы без обновлений с момента before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Request, error)
}

// RequestFilter — параметры фильтрации запросов.
type RequestFilter struct {
	State  domain.RequestState
	Limit  int
	Offset int
}

// invalidState оборачивает ошибку инварианта домена.
func invalidState(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidState, err)
}
