package domain

import (
	"time"

	"github.com/google/uuid"
)

// Selection — уже разобранный запрос выбора ассетов.
//
// Текстовая грамматика запросов — внешняя забота: движок принимает
// только структурный предикат. Замыкание по графу считает Selection
// Engine (engine.Select).
type Selection struct {
	// Keys — явно выбранные ключи ассетов.
	Keys []AssetKey `json:"keys,omitempty"`

	// Groups — группы: выбираются все ассеты каждой группы.
	Groups []string `json:"groups,omitempty"`

	// Upstream — глубина замыкания вверх от выбранных ключей:
	// 0 — не включать upstream, N — N шагов, -1 — всё замыкание.
	Upstream int `json:"upstream,omitempty"`

	// Downstream — глубина замыкания вниз, аналогично Upstream.
	Downstream int `json:"downstream,omitempty"`
}

// IsEmpty возвращает true, если запрос не выбирает ничего.
func (s Selection) IsEmpty() bool {
	return len(s.Keys) == 0 && len(s.Groups) == 0
}

// Run — экземпляр выполнения выборки по графу ассетов.
//
// Run создаётся, когда пользователь запрашивает материализацию через
// API/CLI или когда движок встраивается как библиотека. Каждый run
// выполняет план, скомпилированный из selection по конкретному графу.
type Run struct {
	// ID — уникальный идентификатор run. Задаётся вызывающей стороной
	// и уникален на каждый запуск (идемпотентная маркировка событий).
	ID uuid.UUID `json:"id"`

	// GraphID — граф, по которому выполняется run.
	GraphID uuid.UUID `json:"graph_id"`

	// Version — версия набора деклараций, по которой компилировался план.
	Version int `json:"version,omitempty"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Selection — запрос, из которого был скомпилирован план.
	Selection Selection `json:"selection"`

	// Parallelism — ограничение параллелизма для этого run.
	// 0 — значение по умолчанию движка.
	Parallelism int `json:"parallelism,omitempty"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или нет).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// NewRun создаёт run в статусе PENDING.
func NewRun(graphID uuid.UUID, version int, sel Selection, parallelism int) *Run {
	return &Run{
		ID:          uuid.New(),
		GraphID:     graphID,
		Version:     version,
		Status:      RunStatusPending,
		Selection:   sel,
		Parallelism: parallelism,
		CreatedAt:   time.Now().UTC(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// MarkCancelled переводит run в статус CANCELLED.
func (r *Run) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.FinishedAt = &now
}
