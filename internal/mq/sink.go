package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Materia/internal/domain"
)

// publishTimeout — предел ожидания публикации одного события.
const publishTimeout = 5 * time.Second

// EventSink транслирует события материализации движка выполнения в
// RabbitMQ. Deliver не возвращает ошибку: источник истины — журнал
// событий, неудачная публикация логируется и на run не влияет.
type EventSink struct {
	pub    *Publisher
	logger *slog.Logger
}

// NewEventSink создаёт подписчик, публикующий события в materia.events.
func NewEventSink(pub *Publisher, logger *slog.Logger) *EventSink {
	return &EventSink{pub: pub, logger: logger}
}

// Deliver публикует одно событие материализации.
func (s *EventSink) Deliver(event *domain.MaterializationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.pub.PublishAssetMaterialized(ctx, event); err != nil {
		s.logger.Warn("failed to publish materialization event",
			"key", event.Key,
			"event_id", event.ID,
			"error", err,
		)
	}
}
