package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/iib/internal/domain"
)

// Job — задание, которое можно поставить в очередь.
type Job interface {
	Kind() domain.JobKind
}

// MessagePublisher — публикация сообщений. Реализация: Publisher.
type MessagePublisher interface {
	Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error
}

// Dispatcher ставит задания в очереди по маршрутам.
type Dispatcher struct {
	pub    MessagePublisher
	logger *slog.Logger
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(pub MessagePublisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{pub: pub, logger: logger}
}

// Submit публикует задание в exchange IIB с routing key route.
// onError, если задан, вызывается потребителем при ошибке обработки.
func (d *Dispatcher) Submit(ctx context.Context, job Job, route Route, onError *Callback) error {
	if err := route.Validate(); err != nil {
		return err
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageType(job.Kind()),
		Payload:   job,
		OnError:   onError,
		Timestamp: time.Now().UTC(),
	}

	if err := d.pub.Publish(ctx, ExchangeIIB, RoutingKey(route), msg); err != nil {
		return fmt.Errorf("submit %s to %s: %w", job.Kind(), route, err)
	}

	d.logger.Debug("job submitted", "kind", job.Kind(), "route", route, "message_id", msg.ID)
	return nil
}
