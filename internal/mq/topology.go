package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeIIB Exchange = "iib"
	ExchangeDLQ Exchange = "iib.dlq"
)

// Очереди с фиксированными именами.
const (
	QueueRequests Queue = "iib.requests"
	QueueDLQ      Queue = "iib.dlq"
)

// Routing keys с фиксированными именами.
const (
	RoutingKeyRequests RoutingKey = "requests"
	RoutingKeyDLQ      RoutingKey = "dead"
)

// Route — маршрут задания: имя очереди и routing key совпадают.
type Route string

// RequestsRoute — маршрут заданий оркестратору.
const RequestsRoute = Route(RoutingKeyRequests)

// ArchRoute возвращает маршрут воркеров архитектуры: "<prefix>_<arch>".
func ArchRoute(prefix, arch string) Route {
	return Route(prefix + "_" + arch)
}

// Validate проверяет, что маршрут можно использовать как routing key.
func (r Route) Validate() error {
	if r == "" || strings.ContainsAny(string(r), " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidRoute, string(r))
	}
	return nil
}

// QueueSpec — объявление очереди и её привязки.
type QueueSpec struct {
	Name       Queue
	Exchange   Exchange
	RoutingKey RoutingKey
	Args       amqp.Table
}

// Topology — набор exchanges и очередей IIB.
type Topology struct {
	// Prefix — префикс очередей воркеров.
	Prefix string

	// Arches — архитектуры, для которых объявляются очереди воркеров.
	Arches []string
}

// dlqArgs — аргументы очередей, сообщения которых уходят в DLQ после nack.
func dlqArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}
}

// ArchQueue — очередь воркеров одной архитектуры.
func ArchQueue(prefix, arch string) QueueSpec {
	route := ArchRoute(prefix, arch)
	return QueueSpec{
		Name:       Queue(route),
		Exchange:   ExchangeIIB,
		RoutingKey: RoutingKey(route),
		Args:       dlqArgs(),
	}
}

// Queues возвращает все очереди топологии.
func (t Topology) Queues() []QueueSpec {
	queues := []QueueSpec{
		{Name: QueueRequests, Exchange: ExchangeIIB, RoutingKey: RoutingKeyRequests, Args: dlqArgs()},
		{Name: QueueDLQ, Exchange: ExchangeDLQ, RoutingKey: RoutingKeyDLQ},
	}
	for _, arch := range t.Arches {
		queues = append(queues, ArchQueue(t.Prefix, arch))
	}
	return queues
}

// SetupTopology объявляет exchanges, очереди и привязки.
func SetupTopology(ctx context.Context, conn *Connection, t Topology) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		for _, q := range t.Queues() {
			if err := declareQueue(ch, q); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeclareQueue объявляет одну очередь с привязкой.
// Воркер объявляет свою очередь сам: его архитектура может отсутствовать в общем списке.
func DeclareQueue(ctx context.Context, conn *Connection, q QueueSpec) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		return declareQueue(ch, q)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeIIB, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// declareQueue создаёт очередь и привязывает её к обменнику.
func declareQueue(ch *amqp.Channel, q QueueSpec) error {
	_, err := ch.QueueDeclare(
		string(q.Name), // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		q.Args,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", q.Name, err)
	}

	err = ch.QueueBind(
		string(q.Name),       // queue name
		string(q.RoutingKey), // routing key
		string(q.Exchange),   // exchange
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", q.Name, q.Exchange, err)
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func (t Topology) TopologyInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (direct)\n", ExchangeIIB)
	for _, q := range t.Queues() {
		if q.Exchange != ExchangeIIB {
			continue
		}
		fmt.Fprintf(&b, "  └── %s [routing: %s]\n", q.Name, q.RoutingKey)
	}
	fmt.Fprintf(&b, "%s (direct)\n  └── %s [routing: %s]\n", ExchangeDLQ, QueueDLQ, RoutingKeyDLQ)
	return b.String()
}
