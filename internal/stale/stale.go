// Package stale содержит трекер устаревания ассетов.
//
// Устаревание чисто информационно: движок никогда не перезапускает
// вычисления сам, статус отдаётся наружу (API, CLI) и решение о
// рематериализации принимает вызывающий.
package stale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
	"github.com/shaiso/Materia/internal/eventlog"
)

// Reason — причина устаревания ассета.
type Reason string

// Причины устаревания.
const (
	// ReasonNeverMaterialized — по ключу нет ни одного события.
	ReasonNeverMaterialized Reason = "never_materialized"

	// ReasonCodeVersionChanged — версия кода декларации не совпадает
	// с версией последнего события.
	ReasonCodeVersionChanged Reason = "code_version_changed"
)

// Status — статус свежести одного ассета.
type Status struct {
	Key domain.AssetKey `json:"key"`

	// Source — ассет является source-узлом. Source никогда не устаревает:
	// понятие версии кода к нему неприменимо.
	Source bool `json:"source,omitempty"`

	Stale bool `json:"stale"`

	// Reason — причина устаревания; пустая для свежих ассетов.
	Reason Reason `json:"reason,omitempty"`

	// DeclaredVersion — версия кода в текущей декларации.
	DeclaredVersion string `json:"declared_version,omitempty"`

	// MaterializedVersion — версия кода последнего события.
	MaterializedVersion string `json:"materialized_version,omitempty"`

	// MaterializedAt — время последнего события.
	MaterializedAt time.Time `json:"materialized_at,omitzero"`
}

// Tracker сравнивает версию кода декларации ассета с версией,
// проставленной на его последнем событии материализации.
//
// Смена декларации — это новый граф; трекер поверх нового графа и того
// же журнала сразу видит расхождение версий, без нового run.
type Tracker struct {
	graph *engine.Graph
	log   eventlog.Log
}

// NewTracker создаёт трекер поверх разрешённого графа и журнала событий.
func NewTracker(graph *engine.Graph, log eventlog.Log) *Tracker {
	return &Tracker{graph: graph, log: log}
}

// IsStale возвращает true, если ассет устарел.
func (t *Tracker) IsStale(ctx context.Context, key domain.AssetKey) (bool, error) {
	st, err := t.Status(ctx, key)
	if err != nil {
		return false, err
	}
	return st.Stale, nil
}

// Status возвращает подробный статус свежести ключа.
func (t *Tracker) Status(ctx context.Context, key domain.AssetKey) (*Status, error) {
	node := t.graph.GetNode(key)
	if node == nil {
		return nil, fmt.Errorf("asset %s: %w", key.String(), engine.ErrUnknownDependency)
	}

	st := &Status{
		Key:             key,
		Source:          node.IsSource,
		DeclaredVersion: node.CodeVersion,
	}
	if node.IsSource {
		return st, nil
	}

	latest, err := t.log.Latest(ctx, key)
	if err != nil {
		if errors.Is(err, eventlog.ErrNoEvents) {
			st.Stale = true
			st.Reason = ReasonNeverMaterialized
			return st, nil
		}
		return nil, err
	}

	st.MaterializedVersion = latest.CodeVersion
	st.MaterializedAt = latest.Timestamp
	if node.CodeVersion != latest.CodeVersion {
		st.Stale = true
		st.Reason = ReasonCodeVersionChanged
	}
	return st, nil
}

// Report возвращает статусы всех computed-ассетов графа по возрастанию
// ключа. Source-узлы опущены.
func (t *Tracker) Report(ctx context.Context) ([]*Status, error) {
	keys := make([]domain.AssetKey, 0, t.graph.Size())
	for key, node := range t.graph.Nodes {
		if node.IsSource {
			continue
		}
		keys = append(keys, key)
	}
	domain.SortKeys(keys)

	report := make([]*Status, 0, len(keys))
	for _, key := range keys {
		st, err := t.Status(ctx, key)
		if err != nil {
			return nil, err
		}
		report = append(report, st)
	}
	return report, nil
}
