package mq

import (
	"context"
	"fmt"

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
	ExchangeEvents  Exchange = "materia.events"
	ExchangeReports Exchange = "materia.reports"
	ExchangeDLQ     Exchange = "materia.dlq"
)

// Queues — имена очередей.
const (
	QueueAssetEvents  Queue = "asset.events"
	QueueRunEvents    Queue = "run.events"
	QueueAssetReports Queue = "asset.reports"
	QueueDLQReports   Queue = "dlq.reports"
)

// Routing keys.
const (
	RoutingKeyAsset      RoutingKey = "asset"
	RoutingKeyRun        RoutingKey = "run"
	RoutingKeyReport     RoutingKey = "report"
	RoutingKeyDLQReports RoutingKey = "reports"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "direct"},
		{ExchangeReports, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQReports),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// asset.events — без DLQ (уведомления для внешних потребителей)
		{QueueAssetEvents, nil},

		// run.events — без DLQ (уведомления о жизненном цикле runs)
		{QueueRunEvents, nil},

		// asset.reports — с DLQ (отчёты переобрабатываются, после retry уходят в DLQ)
		{QueueAssetReports, dlqArgs},

		// dlq.reports — сама DLQ очередь
		{QueueDLQReports, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueAssetEvents, RoutingKeyAsset, ExchangeEvents},
		{QueueRunEvents, RoutingKeyRun, ExchangeEvents},
		{QueueAssetReports, RoutingKeyReport, ExchangeReports},
		{QueueDLQReports, RoutingKeyDLQReports, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Materia RabbitMQ Topology:

    materia.events (direct)
    ├── asset.events [routing: asset]
    │       Consumer: external catalogs / caches
    └── run.events [routing: run]
            Consumer: external notifiers

    materia.reports (direct)
    └── asset.reports [routing: report]
            Consumer: Orchestrator
            DLQ: dlq.reports

    materia.dlq (direct)
    └── dlq.reports [routing: reports]
            Manual processing
  `
}
