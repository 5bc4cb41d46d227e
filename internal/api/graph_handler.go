package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Materia/internal/domain"
)

// SubmitGraph регистрирует набор деклараций как новую версию графа.
// POST /api/v1/graphs
func (h *Handler) SubmitGraph(w http.ResponseWriter, r *http.Request) {
	var req SubmitGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	def, gv, err := h.orch.SubmitGraph(r.Context(), req.Declarations)
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	Created(w, SubmitGraphResponse{
		Graph:   GraphFromDomain(*def),
		Version: GraphVersionFromDomain(*gv),
	})
}

// ListGraphs возвращает список всех графов.
// GET /api/v1/graphs
func (h *Handler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	defs, err := h.orch.ListGraphs(r.Context())
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	result := make([]GraphResponse, len(defs))
	for i, d := range defs {
		result[i] = GraphFromDomain(d)
	}

	List(w, result, len(result))
}

// GetGraph возвращает сводку разрешённого графа.
// GET /api/v1/graphs/{id}?version=N
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid graph id")
		return
	}

	version, ok := versionQuery(w, r)
	if !ok {
		return
	}

	def, err := h.orch.GetGraph(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "graph not found") {
		return
	}

	graph, gv, err := h.orch.LoadGraph(r.Context(), id, version)
	if HandleServiceError(w, h.logger, err, "graph version not found") {
		return
	}

	Success(w, GraphSummaryFromGraph(*def, gv.Version, graph))
}

// ListGraphVersions возвращает версии графа, новые первыми.
// GET /api/v1/graphs/{id}/versions
func (h *Handler) ListGraphVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid graph id")
		return
	}

	// Проверяем, что граф существует
	_, err = h.orch.GetGraph(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "graph not found") {
		return
	}

	versions, err := h.orch.ListVersions(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	result := make([]GraphVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = GraphVersionFromDomain(v)
	}

	List(w, result, len(result))
}

// ListGraphAssets возвращает узлы графа в топологическом порядке.
// GET /api/v1/graphs/{id}/assets?version=N
func (h *Handler) ListGraphAssets(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid graph id")
		return
	}

	version, ok := versionQuery(w, r)
	if !ok {
		return
	}

	graph, _, err := h.orch.LoadGraph(r.Context(), id, version)
	if HandleServiceError(w, h.logger, err, "graph version not found") {
		return
	}

	result := make([]AssetNodeResponse, 0, graph.Size())
	for _, key := range graph.Topo {
		result = append(result, AssetNodeFromDomain(graph.GetNode(key), graph.DependentsOf(key)))
	}

	List(w, result, len(result))
}

// GetGraphAsset возвращает один узел графа.
// GET /api/v1/graphs/{id}/assets/{key...}?version=N
func (h *Handler) GetGraphAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid graph id")
		return
	}

	key, err := domain.ParseAssetKey(r.PathValue("key"))
	if err != nil {
		BadRequest(w, "invalid asset key")
		return
	}

	version, ok := versionQuery(w, r)
	if !ok {
		return
	}

	graph, _, err := h.orch.LoadGraph(r.Context(), id, version)
	if HandleServiceError(w, h.logger, err, "graph version not found") {
		return
	}

	node := graph.GetNode(key)
	if node == nil {
		NotFound(w, "asset not found in graph")
		return
	}

	Success(w, AssetNodeFromDomain(node, graph.DependentsOf(key)))
}

// GetStaleness возвращает отчёт об устаревании ассетов графа.
// GET /api/v1/graphs/{id}/stale?version=N
func (h *Handler) GetStaleness(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid graph id")
		return
	}

	version, ok := versionQuery(w, r)
	if !ok {
		return
	}

	report, err := h.orch.StalenessReport(r.Context(), id, version)
	if HandleServiceError(w, h.logger, err, "graph version not found") {
		return
	}

	List(w, report, len(report))
}

// versionQuery парсит query-параметр version; 0 — последняя версия.
func versionQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0, true
	}

	version, err := strconv.Atoi(raw)
	if err != nil || version < 1 {
		BadRequest(w, "invalid version")
		return 0, false
	}
	return version, true
}
