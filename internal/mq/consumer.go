package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки сообщения.
// Ошибка означает, что задание не выполнено: потребитель вызывает
// привязанный callback и отправляет сообщение в DLQ без повтора.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn        *Connection
	logger      *slog.Logger
	queue       Queue
	handler     Handler
	callbacks   *Callbacks
	concurrency int
	ackEarly    bool

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Handler — обработчик сообщений.
	Handler Handler

	// Callbacks — реестр callback'ов для Message.OnError. nil — callback'и не вызываются.
	Callbacks *Callbacks

	// Concurrency — сколько сообщений обрабатывается одновременно (и prefetch).
	Concurrency int

	// AckEarly — подтверждать сообщение до обработки.
	// Для долгих обработчиков, которые дольше consumer_timeout брокера.
	AckEarly bool
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Consumer{
		conn:        conn,
		logger:      logger,
		queue:       cfg.Queue,
		handler:     cfg.Handler,
		callbacks:   cfg.Callbacks,
		concurrency: concurrency,
		ackEarly:    cfg.AckEarly,
	}
}

// Start запускает потребление сообщений. Блокирует до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	return c.consume(ctx)
}

// consume — основной цикл потребления.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
				continue
			}
		}

		c.logger.Info("consumer started", "queue", c.queue, "concurrency", c.concurrency)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, reconnecting", "queue", c.queue)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue), // queue
		"",              // consumer tag (auto-generated)
		false,           // auto-ack (мы ack вручную)
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// processDeliveries раздаёт сообщения concurrency обработчикам.
// Возвращается, когда все обработчики завершили текущие сообщения.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	var wg sync.WaitGroup
	errCh := make(chan error, c.concurrency)

	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case raw, ok := <-deliveries:
					if !ok {
						errCh <- fmt.Errorf("deliveries channel closed")
						return
					}
					c.handleDelivery(ctx, raw)
				}
			}
		}()
	}

	wg.Wait()
	return <-errCh
}

// handleDelivery обрабатывает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message",
			"queue", c.queue,
			"error", err,
			"body", string(raw.Body),
		)
		// Некорректное сообщение — в DLQ
		_ = raw.Nack(false, false)
		return
	}

	logger := c.logger.With("queue", c.queue, "message_id", msg.ID, "type", msg.Type)
	logger.Debug("received message")

	if c.ackEarly {
		if err := raw.Ack(false); err != nil {
			logger.Error("failed to ack message", "error", err)
			return
		}
	}

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	if err == nil {
		if !c.ackEarly {
			_ = raw.Ack(false)
		}
		return
	}

	// Остановка процесса: сообщение возвращается в очередь для другого потребителя.
	// Уже подтверждённое сообщение не вернуть; callback не вызывается,
	// брошенную работу завершает reaper.
	if ctx.Err() != nil {
		if c.ackEarly {
			logger.Warn("handler interrupted by shutdown after early ack, leaving as is", "error", err)
			return
		}
		logger.Warn("handler interrupted by shutdown, requeueing", "error", err)
		_ = raw.Nack(false, true)
		return
	}

	logger.Error("handler failed", "error", err)
	c.runCallback(ctx, logger, msg.OnError, err)

	if !c.ackEarly {
		_ = raw.Nack(false, false)
	}
}

// runCallback вызывает OnError сообщения, если он задан.
func (c *Consumer) runCallback(ctx context.Context, logger *slog.Logger, cb *Callback, cause error) {
	if cb == nil || c.callbacks == nil {
		return
	}

	if err := c.callbacks.Invoke(context.WithoutCancel(ctx), *cb, cause); err != nil {
		logger.Error("error callback failed",
			"callback", cb.Name,
			"request_id", cb.RequestID,
			"error", err,
		)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// После json.Unmarshal в Message payload — map[string]any
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
