package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Graphs
	mux.Handle("GET /api/v1/graphs", chain(http.HandlerFunc(h.ListGraphs)))
	mux.Handle("POST /api/v1/graphs", chain(http.HandlerFunc(h.SubmitGraph)))
	mux.Handle("GET /api/v1/graphs/{id}", chain(http.HandlerFunc(h.GetGraph)))
	mux.Handle("GET /api/v1/graphs/{id}/versions", chain(http.HandlerFunc(h.ListGraphVersions)))
	mux.Handle("GET /api/v1/graphs/{id}/assets", chain(http.HandlerFunc(h.ListGraphAssets)))
	mux.Handle("GET /api/v1/graphs/{id}/assets/{key...}", chain(http.HandlerFunc(h.GetGraphAsset)))
	mux.Handle("GET /api/v1/graphs/{id}/stale", chain(http.HandlerFunc(h.GetStaleness)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.SubmitRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Asset events. Многосегментный ключ обязан замыкать шаблон,
	// поэтому сегмент действия стоит перед ключом.
	mux.Handle("GET /api/v1/assets/events/{key...}", chain(http.HandlerFunc(h.ListAssetEvents)))
	mux.Handle("POST /api/v1/assets/events/{key...}", chain(http.HandlerFunc(h.ReportAssetEvent)))
	mux.Handle("GET /api/v1/assets/latest/{key...}", chain(http.HandlerFunc(h.LatestAssetEvent)))
}
