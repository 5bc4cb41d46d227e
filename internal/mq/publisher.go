package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Materia/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeAssetMaterialized MessageType = "asset.materialized"
	MessageTypeRunStarted        MessageType = "run.started"
	MessageTypeRunFinished       MessageType = "run.finished"
	MessageTypeAssetReport       MessageType = "asset.report"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// AssetMaterializedPayload — payload события о материализации ассета.
type AssetMaterializedPayload struct {
	EventID     uuid.UUID      `json:"event_id"`
	Key         string         `json:"key"`
	RunID       uuid.UUID      `json:"run_id"`
	Seq         int64          `json:"seq"`
	CodeVersion string         `json:"code_version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	External    bool           `json:"external"`
}

// RunStartedPayload — payload события о начале выполнения run.
type RunStartedPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	GraphID uuid.UUID `json:"graph_id"`
	Version int       `json:"version"`
}

// RunFinishedPayload — payload события о завершении run.
type RunFinishedPayload struct {
	RunID        uuid.UUID `json:"run_id"`
	GraphID      uuid.UUID `json:"graph_id"`
	Status       string    `json:"status"` // SUCCEEDED, FAILED или CANCELLED
	Error        string    `json:"error,omitempty"`
	Materialized []string  `json:"materialized,omitempty"`
}

// AssetReportPayload — payload внешнего отчёта о материализации
// source-ассета. Потребитель: Orchestrator.
type AssetReportPayload struct {
	Key         string         `json:"key"`
	CodeVersion string         `json:"code_version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishAssetMaterialized публикует событие о материализации ассета.
// Потребители: внешние каталоги и кеши, подписанные на asset.events.
func (p *Publisher) PublishAssetMaterialized(ctx context.Context, event *domain.MaterializationEvent) error {
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypeAssetMaterialized,
		Payload: AssetMaterializedPayload{
			EventID:     event.ID,
			Key:         event.Key.String(),
			RunID:       event.RunID,
			Seq:         event.Seq,
			CodeVersion: event.CodeVersion,
			Metadata:    event.Metadata,
			External:    event.IsExternal(),
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyAsset, msg)
}

// PublishRunStarted публикует событие о начале выполнения run.
func (p *Publisher) PublishRunStarted(ctx context.Context, run *domain.Run) error {
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypeRunStarted,
		Payload: RunStartedPayload{
			RunID:   run.ID,
			GraphID: run.GraphID,
			Version: run.Version,
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyRun, msg)
}

// PublishRunFinished публикует событие о завершении run.
func (p *Publisher) PublishRunFinished(ctx context.Context, run *domain.Run, materialized []string) error {
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypeRunFinished,
		Payload: RunFinishedPayload{
			RunID:        run.ID,
			GraphID:      run.GraphID,
			Status:       string(run.Status),
			Error:        run.Error,
			Materialized: materialized,
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyRun, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
