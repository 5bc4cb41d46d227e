package executor

import "github.com/shaiso/Materia/internal/domain"

// EventSink получает события материализации по мере их записи в журнал.
//
// Доставка асинхронная и best-effort: при переполнении буфера run события
// отбрасываются, журнал остаётся источником истины. Все подписчики run
// обслуживаются одной горутиной, поэтому Deliver не должен блокироваться
// надолго.
type EventSink interface {
	Deliver(event *domain.MaterializationEvent)
}

// SinkFunc адаптирует функцию к интерфейсу EventSink.
type SinkFunc func(event *domain.MaterializationEvent)

// Deliver вызывает f(event).
func (f SinkFunc) Deliver(event *domain.MaterializationEvent) {
	f(event)
}
