// Package eventlog содержит журнал событий материализации.
//
// Журнал append-only: события никогда не изменяются и не удаляются,
// последнее событие по ключу — «текущая материализация» ассета.
// Единственная разделяемая изменяемая структура движка выполнения —
// этот журнал; реализации обязаны выдерживать конкурентные Append без
// потерь и конкурентные точечные чтения Latest.
package eventlog

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
)

// ErrNoEvents — для ключа нет событий материализации.
var ErrNoEvents = errors.New("no materialization events for asset")

// Log — журнал событий материализации.
//
// Постоянная реализация живёт в repo (Postgres, BIGSERIAL-номера);
// MemLog — встроенная, для тестов и работы движка как библиотеки.
type Log interface {
	// Append добавляет событие и присваивает ему Seq.
	// Единственный путь записи: один Append — одно событие.
	Append(ctx context.Context, event *domain.MaterializationEvent) error

	// Latest возвращает последнее событие ключа.
	// Без событий по ключу ошибка оборачивает ErrNoEvents.
	Latest(ctx context.Context, key domain.AssetKey) (*domain.MaterializationEvent, error)

	// ListByKey возвращает события ключа по возрастанию Seq.
	// Неположительный limit снимает ограничение.
	ListByKey(ctx context.Context, key domain.AssetKey, limit int) ([]*domain.MaterializationEvent, error)

	// ListByRun возвращает события run по возрастанию Seq.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.MaterializationEvent, error)
}
