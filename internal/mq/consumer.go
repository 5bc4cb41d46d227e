package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно доставленное сообщение. Ошибка обработчика
// возвращает сообщение брокеру: первый отказ даёт повтор, повторный
// уводит сообщение в DLQ.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение вместе с сырой AMQP-доставкой.
type Delivery struct {
	// Message — декодированный конверт сообщения.
	Message Message

	// Raw — исходная AMQP-доставка.
	Raw amqp.Delivery
}

// Ack подтверждает обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack возвращает сообщение брокеру. requeue=false уводит его в DLQ,
// если очередь сконфигурирована с dead-letter exchange.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Consumer читает очередь и передаёт сообщения обработчику.
//
// Подписка переоформляется после каждого разрыва соединения: Consumer
// ждёт сигнала ReconnectNotify и подписывается заново. Сообщение может
// прийти повторно, обработчик обязан быть идемпотентным.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	done     chan struct{}
	stopOnce sync.Once
}

// ConsumerConfig — параметры подписки.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держать в полёте.
	// По умолчанию 1.
	Prefetch int
}

// NewConsumer создаёт подписчика очереди.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
		done:     make(chan struct{}),
	}
}

// Start блокирует и обрабатывает сообщения до отмены ctx или вызова Stop.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("subscribe failed, waiting for reconnect", "error", err)
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
			continue
		}
		c.logger.Info("consumer started")

		if err := c.drain(ctx, deliveries); err != nil {
			return err
		}

		// Брокер закрыл канал доставки: переподписка после reconnect.
		c.logger.Warn("delivery channel closed, waiting for reconnect")
		if err := c.awaitReconnect(ctx); err != nil {
			return err
		}
	}
}

// Stop прекращает обработку. Уже начатый вызов обработчика завершается.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// subscribe оформляет подписку на очередь на текущем канале.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrConnectionClosed
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// awaitReconnect ждёт восстановления соединения либо отмены ctx.
func (c *Consumer) awaitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		c.logger.Info("reconnected, resubscribing")
		return nil
	}
}

// drain обрабатывает сообщения, пока канал доставки открыт.
// Возвращает nil при закрытии канала и ctx.Err() при отмене.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.dispatch(ctx, raw)
		}
	}
}

// dispatch декодирует и обрабатывает одно сообщение.
//
// Недекодируемое сообщение уходит в DLQ сразу. Ошибка обработчика даёт
// сообщению один повтор; ошибка на повторной доставке тоже уводит его
// в DLQ, иначе отравленное сообщение зациклится в очереди.
func (c *Consumer) dispatch(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("undecodable message, rejecting", "error", err, "body", string(raw.Body))
		raw.Nack(false, false)
		return
	}

	delivery := &Delivery{Message: msg, Raw: raw}
	c.logger.Debug("message received", "message_id", msg.ID, "type", msg.Type)

	if err := c.handler(ctx, delivery); err != nil {
		requeue := !raw.Redelivered
		c.logger.Error("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"requeue", requeue,
			"error", err)
		raw.Nack(false, requeue)
		return
	}
	raw.Ack(false)
}

// ParsePayload декодирует payload конверта в конкретный тип. После
// общего json.Unmarshal payload лежит как map[string]any, поэтому он
// прогоняется через повторное кодирование.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
