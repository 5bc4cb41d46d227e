package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/orchestrator"
	"github.com/shaiso/Materia/internal/repo"
)

// SubmitRun компилирует выборку и запускает run.
// POST /api/v1/runs
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.GraphID == uuid.Nil {
		BadRequest(w, "graph_id is required")
		return
	}

	run, err := h.orch.SubmitRun(r.Context(), orchestrator.SubmitRunRequest{
		GraphID:     req.GraphID,
		Version:     req.Version,
		Selection:   req.Selection,
		Parallelism: req.Parallelism,
	})
	if HandleServiceError(w, h.logger, err, "graph version not found") {
		return
	}

	Created(w, RunFromDomain(*run))
}

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?graph_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: 50}

	if graphIDStr := r.URL.Query().Get("graph_id"); graphIDStr != "" {
		graphID, err := uuid.Parse(graphIDStr)
		if err != nil {
			BadRequest(w, "invalid graph_id")
			return
		}
		filter.GraphID = &graphID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.orch.ListRuns(r.Context(), filter)
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// GetRun возвращает run вместе с результатом или прогрессом.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.orch.GetRun(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "run not found") {
		return
	}

	detail := RunDetailResponse{RunResponse: RunFromDomain(*run)}

	// Результат записывается раньше терминального статуса, поэтому
	// терминальный run читается по хранилищу, а не по реестру активных.
	if run.IsFinished() {
		result, err := h.orch.GetRunResult(r.Context(), id)
		switch {
		case err == nil:
			detail.Result = result
		case errors.Is(err, orchestrator.ErrNoResult):
			// Run провалился или был отменён до выполнения плана.
		default:
			InternalError(w, h.logger, err)
			return
		}
	} else if progress, active := h.orch.ActiveRun(id); active {
		detail.Progress = progressFromOrchestrator(progress)
	}

	Success(w, detail)
}

// CancelRun кооперативно отменяет run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if err := h.orch.CancelRun(r.Context(), id); HandleServiceError(w, h.logger, err, "run not found") {
		return
	}

	// Отмена активного run асинхронна: возвращаем текущее состояние,
	// терминальный статус клиент увидит при следующем запросе.
	run, err := h.orch.GetRun(r.Context(), id)
	if HandleServiceError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}
