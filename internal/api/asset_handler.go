package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/shaiso/Materia/internal/domain"
	"github.com/shaiso/Materia/internal/orchestrator"
)

// ListAssetEvents возвращает историю материализаций ассета, старые первыми.
// GET /api/v1/assets/events/{key...}?limit=N
func (h *Handler) ListAssetEvents(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParseAssetKey(r.PathValue("key"))
	if err != nil {
		BadRequest(w, "invalid asset key")
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			BadRequest(w, "invalid limit")
			return
		}
	}

	events, err := h.orch.AssetEvents(r.Context(), key, limit)
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	List(w, EventsFromDomain(events), len(events))
}

// LatestAssetEvent возвращает последнее событие материализации ассета.
// GET /api/v1/assets/latest/{key...}
func (h *Handler) LatestAssetEvent(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParseAssetKey(r.PathValue("key"))
	if err != nil {
		BadRequest(w, "invalid asset key")
		return
	}

	event, err := h.orch.LatestEvent(r.Context(), key)
	if HandleServiceError(w, h.logger, err, "asset has no materializations") {
		return
	}

	Success(w, EventFromDomain(event))
}

// ReportAssetEvent записывает внешнюю материализацию source-ассета.
// POST /api/v1/assets/events/{key...}
func (h *Handler) ReportAssetEvent(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParseAssetKey(r.PathValue("key"))
	if err != nil {
		BadRequest(w, "invalid asset key")
		return
	}

	// Тело опционально: отчёт без метаданных — валидный отчёт.
	var req ReportEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	event, err := h.orch.ReportMaterialization(r.Context(), orchestrator.ReportRequest{
		Key:         key,
		CodeVersion: req.CodeVersion,
		Metadata:    req.Metadata,
	})
	if HandleServiceError(w, h.logger, err, "") {
		return
	}

	Created(w, EventFromDomain(event))
}
