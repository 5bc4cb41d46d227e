package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/compute"
	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
	"github.com/shaiso/Materia/internal/eventlog"
	"github.com/shaiso/Materia/internal/iomanager"
	"github.com/shaiso/Materia/internal/telemetry"
)

const (
	// DefaultParallelism — число воркеров run по умолчанию.
	DefaultParallelism = 4

	// sinkBuffer — ёмкость буфера доставки событий подписчикам.
	sinkBuffer = 256
)

// Config — зависимости движка выполнения.
type Config struct {
	// Manager сохраняет и загружает значения ассетов.
	Manager iomanager.Manager

	// Log — журнал событий материализации.
	Log eventlog.Log

	// Registry разрешает типы вычислений шагов.
	Registry *compute.Registry

	// Sinks — подписчики на события материализации (best-effort).
	Sinks []EventSink

	// Logger — базовый логгер. По умолчанию slog.Default().
	Logger *slog.Logger

	// Metrics — метрики движка. Nil допустим.
	Metrics *telemetry.Metrics

	// Parallelism — число воркеров по умолчанию для run без
	// собственного значения.
	Parallelism int
}

// Executor выполняет скомпилированные планы.
//
// Экземпляр безопасен для конкурентного использования: каждое выполнение
// держит всё изменяемое состояние в собственном runState.
type Executor struct {
	manager     iomanager.Manager
	log         eventlog.Log
	registry    *compute.Registry
	sinks       []EventSink
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	parallelism int
}

// New создаёт движок выполнения.
func New(cfg Config) (*Executor, error) {
	if cfg.Manager == nil {
		return nil, errors.New("executor: I/O manager is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("executor: event log is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("executor: compute registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Executor{
		manager:     cfg.Manager,
		log:         cfg.Log,
		registry:    cfg.Registry,
		sinks:       cfg.Sinks,
		logger:      logger,
		metrics:     cfg.Metrics,
		parallelism: parallelism,
	}, nil
}

// RunOptions — параметры одного выполнения.
type RunOptions struct {
	// RunID — идентификатор run. Обязателен.
	RunID uuid.UUID

	// Parallelism — число воркеров этого run.
	// Неположительное значение — значение движка.
	Parallelism int
}

// Execute выполняет план до терминального состояния всех вызовов.
//
// Ошибки вычислений и хранилища не поднимаются наружу: каждый вызов
// и каждый запрошенный слот получают терминальный статус в RunResult.
// Ошибка возвращается только при некорректных аргументах. Отмена ctx
// останавливает планирование новых вызовов; выполняющиеся завершаются
// кооперативно, записанные события не откатываются.
func (e *Executor) Execute(ctx context.Context, plan *engine.Plan, opts RunOptions) (*domain.RunResult, error) {
	if plan == nil {
		return nil, errors.New("executor: plan is required")
	}
	if opts.RunID == uuid.Nil {
		return nil, errors.New("executor: run ID is required")
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = e.parallelism
	}
	if plan.Size() > 0 && parallelism > plan.Size() {
		parallelism = plan.Size()
	}

	logger := telemetry.WithRunID(e.logger, opts.RunID.String())
	logger.Info("run execution started",
		"invocations", plan.Size(),
		"selected", len(plan.Selected),
		"parallelism", parallelism)
	e.metrics.RunStarted()
	start := time.Now()

	st := newRunState(plan)

	events := make(chan *domain.MaterializationEvent, sinkBuffer)
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		for ev := range events {
			for _, sink := range e.sinks {
				sink.Deliver(ev)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range st.ready {
				e.runInvocation(ctx, st, id, opts.RunID, events, logger)
			}
		}()
	}

	go func() {
		select {
		case <-st.done:
		case <-ctx.Done():
			logger.Warn("run cancelled, waiting for in-flight invocations", "cause", ctx.Err())
			st.cancelPending()
		}
		close(st.ready)
	}()

	st.enqueueInitial()
	wg.Wait()
	close(events)
	<-sinkDone

	result := st.buildResult(opts.RunID)
	for i := range result.Invocations {
		if result.Invocations[i].Status.IsTerminal() {
			e.metrics.InvocationFinished(string(result.Invocations[i].Status))
		}
	}
	e.metrics.RunFinished(string(result.Status), time.Since(start).Seconds())
	logger.Info("run execution finished",
		"status", result.Status,
		"materialized", len(result.Materialized()),
		"duration", time.Since(start))
	return result, nil
}

// runInvocation выполняет одну попытку вызова и решает его дальнейшую
// судьбу: успех, повтор по таймеру или провал.
func (e *Executor) runInvocation(ctx context.Context, st *runState, id string, runID uuid.UUID, events chan<- *domain.MaterializationEvent, logger *slog.Logger) {
	attempt, ok := st.beginAttempt(id)
	if !ok {
		return
	}
	inv := st.plan.Invocations[id]
	log := telemetry.WithStepID(logger, id)

	err := e.attempt(ctx, st, inv, runID, attempt, events, log)
	if err == nil {
		st.finish(id, domain.InvocationSucceeded, "", "")
		log.Info("invocation succeeded", "attempt", attempt)
		return
	}

	if retryable(err) && ctx.Err() == nil && attempt < inv.Step.Retry.MaxAttempts() {
		delay := backoffDelay(attempt, inv.Step.Retry)
		if st.scheduleRetry(id, err.Error(), delay) {
			e.metrics.RetryScheduled()
			log.Warn("invocation failed, retry scheduled",
				"attempt", attempt,
				"max_attempts", inv.Step.Retry.MaxAttempts(),
				"delay", delay,
				"error", err)
			return
		}
	}

	st.finish(id, domain.InvocationFailed, err.Error(), "")
	log.Error("invocation failed", "attempt", attempt, "error", err)
}

// retryable возвращает true, если ошибка попытки допускает повтор.
// Детерминированные нарушения контракта и кооперативная отмена
// повторов не получают.
func retryable(err error) bool {
	if errors.Is(err, ErrMissingRequiredOutput) {
		return false
	}
	if errors.Is(err, compute.ErrCancelled) {
		return false
	}
	return true
}

// attempt выполняет одну попытку: собирает входы, вызывает вычисление,
// проверяет контракт и фиксирует побочные эффекты.
//
// Нарушения контракта обнаруживаются до сохранения значений, поэтому
// провалившаяся по контракту попытка не оставляет следов. Ошибка store
// или append после части слотов оставляет уже записанные события в силе:
// журнал append-only, а повторная материализация тех же ключей легальна.
func (e *Executor) attempt(ctx context.Context, st *runState, inv *engine.Invocation, runID uuid.UUID, attempt int, events chan<- *domain.MaterializationEvent, log *slog.Logger) error {
	inputs, err := e.gatherInputs(ctx, st, inv)
	if err != nil {
		return err
	}

	handler, err := e.registry.Get(inv.Step.Kind)
	if err != nil {
		return err
	}

	call := &compute.Call{
		StepID:         inv.StepID,
		RunID:          runID,
		Attempt:        attempt,
		RequestedSlots: inv.RequestedSlots,
		Inputs:         inputs,
		Config:         handler.Schema().ApplyDefaults(inv.Step.Config),
		Logger:         log,
	}

	result, err := handler.Execute(ctx, call)
	if err != nil {
		return err
	}

	var unrequested []string
	for name, slot := range result {
		if slot.Produced() && !inv.RequestsSlot(name) {
			unrequested = append(unrequested, name)
		}
	}
	if len(unrequested) > 0 {
		sort.Strings(unrequested)
		return fmt.Errorf("%w: slot %q of step %s", ErrUnrequestedOutput, unrequested[0], inv.StepID)
	}
	for _, name := range inv.RequestedSlots {
		out, ok := inv.Step.Output(name)
		if ok && out.Required && !result.Slot(name).Produced() {
			return fmt.Errorf("%w: slot %q of step %s", ErrMissingRequiredOutput, name, inv.StepID)
		}
	}

	for _, name := range inv.RequestedSlots {
		out, ok := inv.Step.Output(name)
		if !ok {
			continue
		}
		slot := result.Slot(name)
		if !slot.Produced() {
			st.setSlot(inv.StepID, name, slotOutcome{status: domain.OutcomeSkipped})
			log.Info("output slot declined", "slot", name, "key", out.Key)
			continue
		}

		if err := e.manager.Store(ctx, out.Key, slot.Value(), slot.Metadata()); err != nil {
			return err
		}

		var codeVersion string
		if node := st.plan.Graph.GetNode(out.Key); node != nil {
			codeVersion = node.CodeVersion
		}
		event := domain.NewMaterializationEvent(out.Key, runID, codeVersion, slot.Metadata())
		if err := e.log.Append(ctx, event); err != nil {
			return err
		}
		e.metrics.EventRecorded()
		st.setSlot(inv.StepID, name, slotOutcome{status: domain.OutcomeMaterialized, event: event})
		log.Info("asset materialized", "slot", name, "key", out.Key, "seq", event.Seq)

		select {
		case events <- event:
		default:
			e.metrics.SinkDropped()
			log.Warn("event sink buffer full, event dropped", "key", out.Key)
		}
	}
	return nil
}

// gatherInputs собирает входы вычисления по привязкам плана.
//
// Для loaded-привязки с производителем в плане значение загружается
// через I/O manager: каскад пропусков гарантирует, что слот производителя
// материализован. Привязка без производителя читается сквозь план —
// последнее записанное событие плюс загрузка внешнего состояния;
// source-ассеты считаются всегда успешными.
func (e *Executor) gatherInputs(ctx context.Context, st *runState, inv *engine.Invocation) (map[string]compute.InputValue, error) {
	inputs := make(map[string]compute.InputValue, len(inv.Bindings))
	for _, b := range inv.Bindings {
		in := compute.InputValue{Key: b.Key}

		if b.ProducedBy != "" {
			out, ok := st.outcomeFor(b.ProducedBy, b.Key)
			if ok && out.status == domain.OutcomeMaterialized {
				in.Produced = true
				in.Event = out.event
				if b.Kind == domain.EdgeLoaded {
					value, err := e.manager.Load(ctx, b.Key)
					if err != nil {
						return nil, err
					}
					in.Value = value
				}
			}
		} else {
			event, err := e.log.Latest(ctx, b.Key)
			if err != nil && !errors.Is(err, eventlog.ErrNoEvents) {
				return nil, err
			}
			in.Event = event
			if b.Kind == domain.EdgeLoaded {
				value, err := e.manager.Load(ctx, b.Key)
				if err != nil {
					return nil, err
				}
				in.Value = value
				in.Produced = true
			} else {
				node := st.plan.Graph.GetNode(b.Key)
				in.Produced = (node != nil && node.IsSource) || event != nil
			}
		}

		inputs[b.Name] = in
	}
	return inputs, nil
}
