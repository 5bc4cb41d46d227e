package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
	"github.com/shaiso/Materia/internal/repo"
	"github.com/shaiso/Materia/internal/stale"
)

// SubmitGraph регистрирует набор деклараций как новую версию графа.
//
// Набор сначала резолвится целиком — негодный набор не получает версии.
// Повторная регистрация под тем же именем создаёт версию N+1; прежние
// версии остаются неизменными, уже созданные по ним runs не затрагиваются.
func (o *Orchestrator) SubmitGraph(ctx context.Context, set domain.DeclarationSet) (*domain.GraphDef, *domain.GraphVersion, error) {
	if set.Name == "" {
		return nil, nil, ErrNameRequired
	}

	graph, err := engine.Resolve(set, o.registry)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidSet, err)
	}

	def, err := o.graphs.GetByName(ctx, set.Name)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrNotFound):
		def = domain.NewGraphDef(set.Name)
		if err := o.graphs.Create(ctx, def); err != nil {
			return nil, nil, fmt.Errorf("create graph: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("get graph by name: %w", err)
	}

	gv, err := o.graphs.CreateVersion(ctx, def.ID, set)
	if err != nil {
		return nil, nil, fmt.Errorf("create graph version: %w", err)
	}

	o.cachePut(versionRef{def.ID, gv.Version}, graph)

	o.logger.Info("graph version registered",
		"graph_id", def.ID,
		"name", def.Name,
		"version", gv.Version,
		"assets", graph.Size(),
	)

	return def, gv, nil
}

// GetGraph возвращает граф по идентификатору.
func (o *Orchestrator) GetGraph(ctx context.Context, id uuid.UUID) (*domain.GraphDef, error) {
	def, err := o.graphs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, id)
		}
		return nil, fmt.Errorf("get graph: %w", err)
	}
	return def, nil
}

// GetGraphByName возвращает граф по имени.
func (o *Orchestrator) GetGraphByName(ctx context.Context, name string) (*domain.GraphDef, error) {
	def, err := o.graphs.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
		}
		return nil, fmt.Errorf("get graph by name: %w", err)
	}
	return def, nil
}

// ListGraphs возвращает все зарегистрированные графы.
func (o *Orchestrator) ListGraphs(ctx context.Context) ([]domain.GraphDef, error) {
	return o.graphs.List(ctx)
}

// ListVersions возвращает версии графа, новые первыми.
func (o *Orchestrator) ListVersions(ctx context.Context, graphID uuid.UUID) ([]domain.GraphVersion, error) {
	return o.graphs.ListVersions(ctx, graphID)
}

// LoadGraph резолвит сохранённую версию графа. version <= 0 — последняя.
//
// Разрешённые графы кэшируются по (graphID, version): резолв
// детерминирован, а версии неизменяемы.
func (o *Orchestrator) LoadGraph(ctx context.Context, graphID uuid.UUID, version int) (*engine.Graph, *domain.GraphVersion, error) {
	var gv *domain.GraphVersion
	var err error
	if version <= 0 {
		gv, err = o.graphs.GetLatestVersion(ctx, graphID)
	} else {
		gv, err = o.graphs.GetVersion(ctx, graphID, version)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: graph %s", ErrVersionNotFound, graphID)
		}
		return nil, nil, fmt.Errorf("get graph version: %w", err)
	}

	ref := versionRef{graphID, gv.Version}
	if graph := o.cacheGet(ref); graph != nil {
		return graph, gv, nil
	}

	graph, err := engine.Resolve(gv.Declarations, o.registry)
	if err != nil {
		// Версия регистрировалась через успешный резолв; ошибка здесь
		// означает рассинхронизацию реестра вычислений.
		return nil, nil, fmt.Errorf("resolve graph %s v%d: %w", graphID, gv.Version, err)
	}
	o.cachePut(ref, graph)

	return graph, gv, nil
}

// StalenessReport строит отчёт по свежести всех ассетов версии графа.
// version <= 0 — последняя версия. Отчёт информационный: ничего не
// перезапускается.
func (o *Orchestrator) StalenessReport(ctx context.Context, graphID uuid.UUID, version int) ([]*stale.Status, error) {
	graph, _, err := o.LoadGraph(ctx, graphID, version)
	if err != nil {
		return nil, err
	}
	return stale.NewTracker(graph, o.events).Report(ctx)
}
