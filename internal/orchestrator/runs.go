package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
	"github.com/shaiso/Materia/internal/executor"
	"github.com/shaiso/Materia/internal/repo"
	"github.com/shaiso/Materia/internal/telemetry"
)

// Таймауты финализации: терминальная запись и публикация идут на
// собственных контекстах, контекст run к этому моменту может быть отменён.
const (
	persistTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// SubmitRunRequest — запрос на выполнение выборки по графу.
type SubmitRunRequest struct {
	// GraphID — граф, по которому выполняется run.
	GraphID uuid.UUID

	// Version — версия графа. <= 0 — последняя.
	Version int

	// Selection — структурный запрос выбора ассетов.
	Selection domain.Selection

	// Parallelism — ограничение параллелизма run. <= 0 — значение движка.
	Parallelism int
}

// SubmitRun компилирует выборку в план и запускает его асинхронно.
//
// Ошибки резолва, выборки и компиляции возвращаются вызывающему — run
// при них не создаётся. Успешный вызов возвращает run в статусе PENDING;
// выполнение идёт в фоновой горутине до терминального статуса.
func (o *Orchestrator) SubmitRun(ctx context.Context, req SubmitRunRequest) (*domain.Run, error) {
	graph, gv, err := o.LoadGraph(ctx, req.GraphID, req.Version)
	if err != nil {
		return nil, err
	}

	keys, err := engine.Select(graph, req.Selection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}

	plan, err := engine.Compile(graph, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}

	run := domain.NewRun(req.GraphID, gv.Version, req.Selection, req.Parallelism)

	// Регистрация до записи в хранилище закрывает окно, в котором poll
	// мог бы запустить run вторым экземпляром.
	state := newActiveRun(run, plan)
	if err := o.addActiveRun(state); err != nil {
		state.cancel()
		return nil, err
	}

	if err := o.runs.Create(ctx, run); err != nil {
		o.removeActiveRun(run.ID)
		state.cancel()
		return nil, fmt.Errorf("create run: %w", err)
	}

	o.logger.Info("run submitted",
		"run_id", run.ID,
		"graph_id", run.GraphID,
		"version", run.Version,
		"invocations", plan.Size(),
	)

	o.wg.Add(1)
	go o.executeRun(state)

	return run, nil
}

// startRun запускает горутину выполнения для уже сохранённого run.
// Используется poll при подборе PENDING runs после рестарта: ошибки
// подготовки плана здесь терминальны для run, а не для запроса.
func (o *Orchestrator) startRun(ctx context.Context, run *domain.Run) error {
	graph, _, err := o.LoadGraph(ctx, run.GraphID, run.Version)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("graph version unavailable: %v", err))
	}

	keys, err := engine.Select(graph, run.Selection)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("select assets: %v", err))
	}

	plan, err := engine.Compile(graph, keys)
	if err != nil {
		return o.failRun(ctx, run, fmt.Sprintf("compile plan: %v", err))
	}

	state := newActiveRun(run, plan)
	if err := o.addActiveRun(state); err != nil {
		state.cancel()
		return err
	}

	o.wg.Add(1)
	go o.executeRun(state)

	return nil
}

// executeRun доводит run до терминального статуса.
//
// Горутина владеет своим run: переводит его в RUNNING, выполняет план,
// записывает итоговый статус и результат, публикует события жизненного
// цикла и снимает run с реестра активных.
func (o *Orchestrator) executeRun(state *activeRun) {
	defer o.wg.Done()
	defer o.removeActiveRun(state.run.ID)
	defer state.cancel()

	run := state.run
	logger := telemetry.WithRunID(o.logger, run.ID.String())

	run.MarkRunning()
	if err := o.updateRun(run); err != nil {
		// Терминальная запись ниже всё равно состоится.
		logger.Error("failed to mark run running", "error", err)
	}
	o.publishRunStarted(run)

	logger.Info("run started",
		"graph_id", run.GraphID,
		"version", run.Version,
		"invocations", state.plan.Size(),
	)

	result, err := o.executor.Execute(state.ctx, state.plan, executor.RunOptions{
		RunID:       run.ID,
		Parallelism: run.Parallelism,
	})
	if err != nil {
		run.MarkFailed(err.Error())
		logger.Error("run execution rejected", "error", err)
	} else {
		switch result.Status {
		case domain.RunStatusSucceeded:
			run.MarkSucceeded()
		case domain.RunStatusCancelled:
			run.MarkCancelled()
		default:
			run.MarkFailed(failureSummary(result))
		}

		if err := o.saveResult(run.ID, result); err != nil {
			logger.Error("failed to save run result", "error", err)
		}
	}

	if err := o.updateRun(run); err != nil {
		logger.Error("failed to save final run status", "error", err)
	}

	logger.Info("run finished",
		"status", run.Status,
		"duration", run.Duration(),
	)

	o.publishRunFinished(run, result)
}

// CancelRun кооперативно отменяет run.
//
// Активный run получает отмену контекста: движок перестаёт планировать
// новые вызовы, начатые завершаются, события не откатываются. PENDING
// run без горутины выполнения отменяется прямо в хранилище. Для
// завершённого run возвращается ErrRunFinished.
func (o *Orchestrator) CancelRun(ctx context.Context, runID uuid.UUID) error {
	if state := o.getActiveRun(runID); state != nil {
		o.logger.Info("cancelling run", "run_id", runID)
		state.cancel()
		return nil
	}

	run, err := o.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.IsFinished() {
		return fmt.Errorf("%w: %s is %s", ErrRunFinished, runID, run.Status)
	}

	run.MarkCancelled()
	if err := o.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	o.logger.Info("inactive run cancelled", "run_id", runID)
	o.publishRunFinished(run, nil)
	return nil
}

// GetRun возвращает run по идентификатору.
func (o *Orchestrator) GetRun(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := o.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// GetRunResult возвращает сохранённый результат run.
// ErrNoResult — run ещё не завершился или результат не был записан.
func (o *Orchestrator) GetRunResult(ctx context.Context, runID uuid.UUID) (*domain.RunResult, error) {
	result, err := o.runs.GetResult(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoResult, runID)
		}
		return nil, fmt.Errorf("get run result: %w", err)
	}
	return result, nil
}

// ListRuns возвращает runs по фильтру, новые первыми.
func (o *Orchestrator) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return o.runs.List(ctx, filter)
}

// failRun переводит run в статус FAILED до начала выполнения.
func (o *Orchestrator) failRun(ctx context.Context, run *domain.Run, errMsg string) error {
	run.MarkFailed(errMsg)

	if err := o.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update run to failed: %w", err)
	}

	o.logger.Warn("run failed early",
		"run_id", run.ID,
		"error", errMsg,
	)
	o.publishRunFinished(run, nil)

	return fmt.Errorf("run failed: %s", errMsg)
}

// updateRun записывает статус run на собственном контексте.
func (o *Orchestrator) updateRun(run *domain.Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return o.runs.Update(ctx, run)
}

// saveResult записывает результат run на собственном контексте.
func (o *Orchestrator) saveResult(runID uuid.UUID, result *domain.RunResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return o.runs.SaveResult(ctx, runID, result)
}

// publishRunStarted публикует run.started (best-effort).
func (o *Orchestrator) publishRunStarted(run *domain.Run) {
	if o.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.publisher.PublishRunStarted(ctx, run); err != nil {
		o.logger.Warn("failed to publish run.started", "run_id", run.ID, "error", err)
	}
}

// publishRunFinished публикует run.finished (best-effort).
// result допускает nil — для runs, не дошедших до выполнения.
func (o *Orchestrator) publishRunFinished(run *domain.Run, result *domain.RunResult) {
	if o.publisher == nil {
		return
	}

	var materialized []string
	if result != nil {
		for _, key := range result.Materialized() {
			materialized = append(materialized, key.String())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.publisher.PublishRunFinished(ctx, run, materialized); err != nil {
		o.logger.Warn("failed to publish run.finished", "run_id", run.ID, "error", err)
	}
}

// failureSummary собирает текст ошибки run из упавших вызовов плана.
func failureSummary(result *domain.RunResult) string {
	var failed []string
	for i := range result.Invocations {
		if result.Invocations[i].Status == domain.InvocationFailed {
			failed = append(failed, result.Invocations[i].StepID)
		}
	}
	if len(failed) == 0 {
		return "run failed"
	}
	return fmt.Sprintf("invocations failed: %s", strings.Join(failed, ", "))
}
