package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
)

// MemLog — журнал событий в памяти процесса.
//
// Append сериализуется мьютексом: это единственный путь записи, поэтому
// конкурентные материализации не теряют событий и Seq строго монотонен.
type MemLog struct {
	mu      sync.RWMutex
	events  []*domain.MaterializationEvent
	byKey   map[domain.AssetKey][]*domain.MaterializationEvent
	nextSeq int64
}

// NewMemLog создаёт пустой журнал в памяти.
func NewMemLog() *MemLog {
	return &MemLog{
		byKey:   make(map[domain.AssetKey][]*domain.MaterializationEvent),
		nextSeq: 1,
	}
}

// Append добавляет событие и присваивает ему Seq.
func (l *MemLog) Append(ctx context.Context, event *domain.MaterializationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("eventlog: nil event")
	}
	if event.Key.IsZero() {
		return fmt.Errorf("eventlog: event without asset key: %w", domain.ErrEmptyKey)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event.Seq = l.nextSeq
	l.nextSeq++
	l.events = append(l.events, event)
	l.byKey[event.Key] = append(l.byKey[event.Key], event)
	return nil
}

// Latest возвращает последнее событие ключа.
func (l *MemLog) Latest(ctx context.Context, key domain.AssetKey) (*domain.MaterializationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.byKey[key]
	if len(events) == 0 {
		return nil, fmt.Errorf("asset %s: %w", key.String(), ErrNoEvents)
	}
	return events[len(events)-1], nil
}

// ListByKey возвращает события ключа по возрастанию Seq.
func (l *MemLog) ListByKey(ctx context.Context, key domain.AssetKey, limit int) ([]*domain.MaterializationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.byKey[key]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*domain.MaterializationEvent, len(events))
	copy(out, events)
	return out, nil
}

// ListByRun возвращает события run по возрастанию Seq.
func (l *MemLog) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.MaterializationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*domain.MaterializationEvent
	for _, e := range l.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Size возвращает число событий в журнале.
func (l *MemLog) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
