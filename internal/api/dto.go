package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/engine"
	"github.com/shaiso/Materia/internal/orchestrator"
)

// Graph DTOs

// SubmitGraphRequest — запрос на регистрацию набора деклараций.
type SubmitGraphRequest struct {
	Declarations domain.DeclarationSet `json:"declarations"`
}

// GraphResponse — ответ с графом.
type GraphResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GraphFromDomain конвертирует domain.GraphDef в GraphResponse.
func GraphFromDomain(g domain.GraphDef) GraphResponse {
	return GraphResponse{
		ID:        g.ID,
		Name:      g.Name,
		CreatedAt: g.CreatedAt,
	}
}

// GraphVersionResponse — ответ с версией графа.
type GraphVersionResponse struct {
	GraphID      uuid.UUID             `json:"graph_id"`
	Version      int                   `json:"version"`
	Declarations domain.DeclarationSet `json:"declarations"`
	CreatedAt    time.Time             `json:"created_at"`
}

// GraphVersionFromDomain конвертирует domain.GraphVersion в GraphVersionResponse.
func GraphVersionFromDomain(v domain.GraphVersion) GraphVersionResponse {
	return GraphVersionResponse{
		GraphID:      v.GraphID,
		Version:      v.Version,
		Declarations: v.Declarations,
		CreatedAt:    v.CreatedAt,
	}
}

// SubmitGraphResponse — результат регистрации: граф и созданная версия.
type SubmitGraphResponse struct {
	Graph   GraphResponse        `json:"graph"`
	Version GraphVersionResponse `json:"version"`
}

// GraphSummaryResponse — сводка разрешённого графа.
type GraphSummaryResponse struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Version int       `json:"version"`
	Assets  int       `json:"assets"`
	Steps   int       `json:"steps"`
	Sources []string  `json:"sources,omitempty"`
	Groups  []string  `json:"groups,omitempty"`
	Topo    []string  `json:"topo"`
}

// GraphSummaryFromGraph строит сводку по разрешённому графу.
func GraphSummaryFromGraph(def domain.GraphDef, version int, g *engine.Graph) GraphSummaryResponse {
	return GraphSummaryResponse{
		ID:      def.ID,
		Name:    def.Name,
		Version: version,
		Assets:  g.Size(),
		Steps:   len(g.Steps),
		Sources: keyStrings(g.SourceKeys()),
		Groups:  g.Groups(),
		Topo:    keyStrings(g.Topo),
	}
}

// Asset DTOs

// DependencyEdgeResponse — одно upstream-ребро узла.
type DependencyEdgeResponse struct {
	Upstream string `json:"upstream"`
	Kind     string `json:"kind"`
}

// AssetNodeResponse — разрешённый узел графа.
type AssetNodeResponse struct {
	Key         string                   `json:"key"`
	Group       string                   `json:"group"`
	IsSource    bool                     `json:"is_source,omitempty"`
	StepID      string                   `json:"step_id,omitempty"`
	CodeVersion string                   `json:"code_version,omitempty"`
	Deps        []DependencyEdgeResponse `json:"deps,omitempty"`
	Dependents  []string                 `json:"dependents,omitempty"`
	Metadata    map[string]any           `json:"metadata,omitempty"`
}

// AssetNodeFromDomain конвертирует узел и его прямых зависимых в ответ.
func AssetNodeFromDomain(n *domain.AssetNode, dependents []domain.AssetKey) AssetNodeResponse {
	resp := AssetNodeResponse{
		Key:         n.Key.String(),
		Group:       n.Group,
		IsSource:    n.IsSource,
		StepID:      n.StepID,
		CodeVersion: n.CodeVersion,
		Dependents:  keyStrings(dependents),
		Metadata:    n.Metadata,
	}
	for _, d := range n.Deps {
		resp.Deps = append(resp.Deps, DependencyEdgeResponse{
			Upstream: d.Upstream.String(),
			Kind:     string(d.Kind),
		})
	}
	return resp
}

// Run DTOs

// SubmitRunRequest — запрос на запуск материализации.
type SubmitRunRequest struct {
	GraphID     uuid.UUID        `json:"graph_id"`
	Version     int              `json:"version,omitempty"`
	Selection   domain.Selection `json:"selection"`
	Parallelism int              `json:"parallelism,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID          uuid.UUID        `json:"id"`
	GraphID     uuid.UUID        `json:"graph_id"`
	Version     int              `json:"version"`
	Status      string           `json:"status"`
	Selection   domain.Selection `json:"selection"`
	Parallelism int              `json:"parallelism,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		GraphID:     r.GraphID,
		Version:     r.Version,
		Status:      string(r.Status),
		Selection:   r.Selection,
		Parallelism: r.Parallelism,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
	}
}

// RunProgressResponse — живое состояние активного run.
type RunProgressResponse struct {
	Invocations int       `json:"invocations"`
	StartedAt   time.Time `json:"started_at"`
}

// RunDetailResponse — run вместе с результатом или текущим прогрессом.
type RunDetailResponse struct {
	RunResponse
	Result   *domain.RunResult    `json:"result,omitempty"`
	Progress *RunProgressResponse `json:"progress,omitempty"`
}

// Event DTOs

// EventResponse — событие материализации.
type EventResponse struct {
	ID          uuid.UUID      `json:"id"`
	Key         string         `json:"key"`
	RunID       *uuid.UUID     `json:"run_id,omitempty"`
	Seq         int64          `json:"seq"`
	CodeVersion string         `json:"code_version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	External    bool           `json:"external"`
	Timestamp   time.Time      `json:"timestamp"`
}

// EventFromDomain конвертирует domain.MaterializationEvent в EventResponse.
func EventFromDomain(e *domain.MaterializationEvent) EventResponse {
	resp := EventResponse{
		ID:          e.ID,
		Key:         e.Key.String(),
		Seq:         e.Seq,
		CodeVersion: e.CodeVersion,
		Metadata:    e.Metadata,
		External:    e.IsExternal(),
		Timestamp:   e.Timestamp,
	}
	if !e.IsExternal() {
		runID := e.RunID
		resp.RunID = &runID
	}
	return resp
}

// EventsFromDomain конвертирует срез событий.
func EventsFromDomain(events []*domain.MaterializationEvent) []EventResponse {
	result := make([]EventResponse, len(events))
	for i, e := range events {
		result[i] = EventFromDomain(e)
	}
	return result
}

// ReportEventRequest — внешний отчёт о материализации source-ассета.
type ReportEventRequest struct {
	CodeVersion string         `json:"code_version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// progressFromOrchestrator конвертирует прогресс активного run.
func progressFromOrchestrator(p orchestrator.RunProgress) *RunProgressResponse {
	return &RunProgressResponse{
		Invocations: p.Invocations,
		StartedAt:   p.StartedAt,
	}
}

// keyStrings конвертирует ключи в строки.
func keyStrings(keys []domain.AssetKey) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
