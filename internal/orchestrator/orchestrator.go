package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/compute"
	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
	"github.com/shaiso/Materia/internal/eventlog"
	"github.com/shaiso/Materia/internal/executor"
	"github.com/shaiso/Materia/internal/mq"
	"github.com/shaiso/Materia/internal/repo"
	"github.com/shaiso/Materia/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// GraphStore — персистентность графов и их версий.
// Реализуется repo.GraphRepo.
type GraphStore interface {
	Create(ctx context.Context, def *domain.GraphDef) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GraphDef, error)
	GetByName(ctx context.Context, name string) (*domain.GraphDef, error)
	List(ctx context.Context) ([]domain.GraphDef, error)
	CreateVersion(ctx context.Context, graphID uuid.UUID, set domain.DeclarationSet) (*domain.GraphVersion, error)
	GetVersion(ctx context.Context, graphID uuid.UUID, version int) (*domain.GraphVersion, error)
	GetLatestVersion(ctx context.Context, graphID uuid.UUID) (*domain.GraphVersion, error)
	ListVersions(ctx context.Context, graphID uuid.UUID) ([]domain.GraphVersion, error)
}

// RunStore — персистентность runs и их результатов.
// Реализуется repo.RunRepo.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Update(ctx context.Context, run *domain.Run) error
	SaveResult(ctx context.Context, runID uuid.UUID, result *domain.RunResult) error
	GetResult(ctx context.Context, runID uuid.UUID) (*domain.RunResult, error)
}

// Orchestrator управляет жизненным циклом графов и runs.
//
// Orchestrator — сервисный слой над движком:
//   - Регистрирует наборы деклараций и их версии
//   - Резолвит версии в графы ассетов (с кэшем по версии)
//   - Компилирует выборки в планы и запускает их в движке выполнения
//   - Ведёт реестр активных runs (для отмены и живого состояния)
//   - Подхватывает осиротевшие runs после рестарта (polling)
//   - Принимает внешние отчёты о материализации source-ассетов
//   - Публикует события жизненного цикла runs в RabbitMQ
type Orchestrator struct {
	// Stores
	graphs GraphStore
	runs   RunStore
	events eventlog.Log

	// Engine
	executor *executor.Executor
	registry *compute.Registry

	// MQ (nil допустим — фан-аут и consumer отчётов отключаются)
	publisher *mq.Publisher
	conn      *mq.Connection

	// Active runs — runs в процессе выполнения (runID → state)
	active map[uuid.UUID]*activeRun
	mu     sync.RWMutex

	// Resolved graph cache — версии неизменяемы, кэш не инвалидируется.
	cache   map[versionRef]*engine.Graph
	cacheMu sync.RWMutex

	// Consumers
	reportConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Stores
	Graphs GraphStore
	Runs   RunStore
	Events eventlog.Log

	// Engine
	Executor *executor.Executor
	Registry *compute.Registry

	// MQ. Nil отключает фан-аут событий и consumer отчётов.
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал подбора осиротевших runs (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Logger
	Logger *slog.Logger

	// Metrics. Nil допустим.
	Metrics *telemetry.Metrics
}

// New создаёт новый Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Graphs == nil {
		return nil, errors.New("orchestrator: graph store is required")
	}
	if cfg.Runs == nil {
		return nil, errors.New("orchestrator: run store is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("orchestrator: event log is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("orchestrator: compute registry is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		graphs:       cfg.Graphs,
		runs:         cfg.Runs,
		events:       cfg.Events,
		executor:     cfg.Executor,
		registry:     cfg.Registry,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		active:       make(map[uuid.UUID]*activeRun),
		cache:        make(map[versionRef]*engine.Graph),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
		metrics:      cfg.Metrics,
	}, nil
}

// Start запускает фоновые контуры Orchestrator.
//
// Запускает:
//   - Consumer для asset.reports (если сконфигурирован MQ)
//   - Polling горутину для подбора runs, осиротевших после рестарта
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"mq_enabled", o.conn != nil,
	)

	if o.conn != nil {
		o.reportConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueAssetReports),
			Handler:  o.handleAssetReport,
			Prefetch: 10,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.reportConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("report consumer error", "error", err)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator: отменяет активные runs и ждёт их
// терминальной записи в хранилище.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	if o.reportConsumer != nil {
		o.reportConsumer.Stop()
	}

	// Отменяем активные runs; их горутины допишут результат и выйдут.
	o.mu.RLock()
	for _, state := range o.active {
		state.cancel()
	}
	o.mu.RUnlock()

	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop периодически подбирает runs, оставшиеся без горутины
// выполнения (созданные до рестарта процесса).
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл подбора.
//
// PENDING run без записи в реестре активных запускается заново: граф,
// выборка и параллелизм сохранены вместе с run, а резолв и компиляция
// детерминированы. RUNNING run без записи в реестре — остаток упавшего
// процесса; возобновить его середину нельзя, поэтому он помечается FAILED.
func (o *Orchestrator) poll(ctx context.Context) {
	pending, err := o.runs.List(ctx, repo.RunFilter{Status: domain.RunStatusPending, Limit: o.batchSize})
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
		return
	}

	for i := range pending {
		run := &pending[i]
		if o.isRunActive(run.ID) {
			continue
		}

		o.logger.Info("picking up pending run", "run_id", run.ID)
		if err := o.startRun(ctx, run); err != nil {
			if errors.Is(err, ErrRunAlreadyActive) {
				continue
			}
			o.logger.Error("failed to start pending run", "run_id", run.ID, "error", err)
		}
	}

	orphaned, err := o.runs.List(ctx, repo.RunFilter{Status: domain.RunStatusRunning, Limit: o.batchSize})
	if err != nil {
		o.logger.Error("failed to list running runs", "error", err)
		return
	}

	for i := range orphaned {
		run := &orphaned[i]
		if o.isRunActive(run.ID) {
			continue
		}

		run.MarkFailed("run interrupted by service restart")
		if err := o.runs.Update(ctx, run); err != nil {
			o.logger.Error("failed to fail orphaned run", "run_id", run.ID, "error", err)
			continue
		}
		o.logger.Warn("orphaned run marked failed", "run_id", run.ID)
		o.publishRunFinished(run, nil)
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (o *Orchestrator) isRunActive(runID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.active[runID]
	return exists
}

// getActiveRun возвращает состояние активного run.
func (o *Orchestrator) getActiveRun(runID uuid.UUID) *activeRun {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active[runID]
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *activeRun) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.active[state.run.ID]; exists {
		return ErrRunAlreadyActive
	}

	o.active[state.run.ID] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}
