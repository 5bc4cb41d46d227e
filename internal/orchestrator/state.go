package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
)

// activeRun — выполняющийся run в памяти процесса.
//
// Запись создаётся до старта горутины выполнения и удаляется из реестра,
// когда терминальный статус записан в хранилище. cancel прерывает run
// кооперативно: движок перестаёт планировать новые вызовы, начатые
// завершаются сами.
type activeRun struct {
	run       *domain.Run
	plan      *engine.Plan
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
}

// newActiveRun создаёт запись реестра с собственным контекстом отмены.
// Контекст независим от запроса, создавшего run: выполнение переживает
// HTTP-запрос и прерывается только CancelRun или остановкой сервиса.
func newActiveRun(run *domain.Run, plan *engine.Plan) *activeRun {
	ctx, cancel := context.WithCancel(context.Background())
	return &activeRun{
		run:       run,
		plan:      plan,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
}

// RunProgress — живое состояние активного run.
type RunProgress struct {
	RunID       uuid.UUID `json:"run_id"`
	Invocations int       `json:"invocations"`
	StartedAt   time.Time `json:"started_at"`
}

// ActiveRun возвращает живое состояние run, выполняющегося в этом
// процессе. Второе значение false, если run не активен.
func (o *Orchestrator) ActiveRun(runID uuid.UUID) (RunProgress, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	state, exists := o.active[runID]
	if !exists {
		return RunProgress{}, false
	}

	return RunProgress{
		RunID:       runID,
		Invocations: state.plan.Size(),
		StartedAt:   state.startedAt,
	}, true
}

// versionRef — ключ кэша разрешённых графов.
type versionRef struct {
	graphID uuid.UUID
	version int
}

// cacheGet возвращает закэшированный граф или nil.
func (o *Orchestrator) cacheGet(ref versionRef) *engine.Graph {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	return o.cache[ref]
}

// cachePut сохраняет разрешённый граф. Версии неизменяемы, поэтому
// запись никогда не обновляется и не вытесняется.
func (o *Orchestrator) cachePut(ref versionRef, graph *engine.Graph) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	o.cache[ref] = graph
}
