package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// GraphResponse — граф из API.
type GraphResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// GraphVersionResponse — версия графа из API.
type GraphVersionResponse struct {
	GraphID      string         `json:"graph_id"`
	Version      int            `json:"version"`
	Declarations map[string]any `json:"declarations"`
	CreatedAt    string         `json:"created_at"`
}

// SubmitGraphResponse — результат регистрации набора деклараций.
type SubmitGraphResponse struct {
	Graph   GraphResponse        `json:"graph"`
	Version GraphVersionResponse `json:"version"`
}

// GraphSummaryResponse — сводка разрешённого графа.
type GraphSummaryResponse struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version int      `json:"version"`
	Assets  int      `json:"assets"`
	Steps   int      `json:"steps"`
	Sources []string `json:"sources,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Topo    []string `json:"topo"`
}

// DependencyEdgeResponse — upstream-ребро узла.
type DependencyEdgeResponse struct {
	Upstream string `json:"upstream"`
	Kind     string `json:"kind"`
}

// AssetNodeResponse — узел графа из API.
type AssetNodeResponse struct {
	Key         string                   `json:"key"`
	Group       string                   `json:"group"`
	IsSource    bool                     `json:"is_source,omitempty"`
	StepID      string                   `json:"step_id,omitempty"`
	CodeVersion string                   `json:"code_version,omitempty"`
	Deps        []DependencyEdgeResponse `json:"deps,omitempty"`
	Dependents  []string                 `json:"dependents,omitempty"`
}

// StaleEntryResponse — строка отчёта об устаревании.
type StaleEntryResponse struct {
	Key                 string `json:"key"`
	Source              bool   `json:"source,omitempty"`
	Stale               bool   `json:"stale"`
	Reason              string `json:"reason,omitempty"`
	DeclaredVersion     string `json:"declared_version,omitempty"`
	MaterializedVersion string `json:"materialized_version,omitempty"`
	MaterializedAt      string `json:"materialized_at,omitempty"`
}

// SelectionRequest — выборка ассетов для run.
type SelectionRequest struct {
	Keys       []string `json:"keys,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Upstream   int      `json:"upstream,omitempty"`
	Downstream int      `json:"downstream,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID          string           `json:"id"`
	GraphID     string           `json:"graph_id"`
	Version     int              `json:"version"`
	Status      string           `json:"status"`
	Selection   SelectionRequest `json:"selection"`
	Parallelism int              `json:"parallelism,omitempty"`
	StartedAt   string           `json:"started_at,omitempty"`
	FinishedAt  string           `json:"finished_at,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   string           `json:"created_at"`
}

// InvocationResponse — итог вызова шага.
type InvocationResponse struct {
	StepID    string   `json:"step_id"`
	Status    string   `json:"status"`
	Attempts  int      `json:"attempts"`
	Slots     []string `json:"requested_slots,omitempty"`
	Error     string   `json:"error,omitempty"`
	BlockedBy string   `json:"blocked_by,omitempty"`
}

// OutcomeResponse — итог по одному слоту.
type OutcomeResponse struct {
	Key    string `json:"key"`
	StepID string `json:"step_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunResultResponse — результат завершённого run.
type RunResultResponse struct {
	Status      string               `json:"status"`
	Invocations []InvocationResponse `json:"invocations"`
	Outcomes    []OutcomeResponse    `json:"outcomes"`
}

// RunProgressResponse — прогресс активного run.
type RunProgressResponse struct {
	Invocations int    `json:"invocations"`
	StartedAt   string `json:"started_at"`
}

// RunDetailResponse — run с результатом или прогрессом.
type RunDetailResponse struct {
	RunResponse
	Result   *RunResultResponse   `json:"result,omitempty"`
	Progress *RunProgressResponse `json:"progress,omitempty"`
}

// EventResponse — событие материализации из API.
type EventResponse struct {
	ID          string         `json:"id"`
	Key         string         `json:"key"`
	RunID       string         `json:"run_id,omitempty"`
	Seq         int64          `json:"seq"`
	CodeVersion string         `json:"code_version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	External    bool           `json:"external"`
	Timestamp   string         `json:"timestamp"`
}

// --- Request types ---

// SubmitRunRequest — запуск материализации.
type SubmitRunRequest struct {
	GraphID     string           `json:"graph_id"`
	Version     int              `json:"version,omitempty"`
	Selection   SelectionRequest `json:"selection"`
	Parallelism int              `json:"parallelism,omitempty"`
}

// ReportEventRequest — внешний отчёт о материализации.
type ReportEventRequest struct {
	CodeVersion string         `json:"code_version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	GraphID string
	Status  string
	Limit   int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Materia API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Graphs ---

// SubmitGraph регистрирует набор деклараций как новую версию графа.
func (c *Client) SubmitGraph(declarations json.RawMessage) (*SubmitGraphResponse, error) {
	body := map[string]json.RawMessage{"declarations": declarations}
	var resp SubmitGraphResponse
	err := c.post("/api/v1/graphs", body, &resp)
	return &resp, err
}

// ListGraphs возвращает все графы.
func (c *Client) ListGraphs() ([]GraphResponse, error) {
	var graphs []GraphResponse
	err := c.list("/api/v1/graphs", nil, &graphs)
	return graphs, err
}

// GetGraph возвращает сводку графа. version=0 — последняя версия.
func (c *Client) GetGraph(id string, version int) (*GraphSummaryResponse, error) {
	var summary GraphSummaryResponse
	err := c.get("/api/v1/graphs/"+id+versionQuery(version), &summary)
	return &summary, err
}

// ListGraphVersions возвращает версии графа.
func (c *Client) ListGraphVersions(id string) ([]GraphVersionResponse, error) {
	var versions []GraphVersionResponse
	err := c.list("/api/v1/graphs/"+id+"/versions", nil, &versions)
	return versions, err
}

// ListGraphAssets возвращает узлы графа в топологическом порядке.
func (c *Client) ListGraphAssets(id string, version int) ([]AssetNodeResponse, error) {
	var nodes []AssetNodeResponse
	err := c.list("/api/v1/graphs/"+id+"/assets"+versionQuery(version), nil, &nodes)
	return nodes, err
}

// StaleReport возвращает отчёт об устаревании ассетов графа.
func (c *Client) StaleReport(id string, version int) ([]StaleEntryResponse, error) {
	var entries []StaleEntryResponse
	err := c.list("/api/v1/graphs/"+id+"/stale"+versionQuery(version), nil, &entries)
	return entries, err
}

// --- Runs ---

// SubmitRun запускает материализацию выборки.
func (c *Client) SubmitRun(req SubmitRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.GraphID != "" {
		params.Set("graph_id", opts.GraphID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run с результатом или прогрессом.
func (c *Client) GetRun(id string) (*RunDetailResponse, error) {
	var detail RunDetailResponse
	err := c.get("/api/v1/runs/"+id, &detail)
	return &detail, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// --- Asset events ---

// AssetEvents возвращает историю материализаций ассета.
func (c *Client) AssetEvents(key string, limit int) ([]EventResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var events []EventResponse
	err := c.list("/api/v1/assets/events/"+key, params, &events)
	return events, err
}

// LatestAssetEvent возвращает последнее событие материализации ассета.
func (c *Client) LatestAssetEvent(key string) (*EventResponse, error) {
	var event EventResponse
	err := c.get("/api/v1/assets/latest/"+key, &event)
	return &event, err
}

// ReportAsset записывает внешнюю материализацию source-ассета.
func (c *Client) ReportAsset(key string, req ReportEventRequest) (*EventResponse, error) {
	var event EventResponse
	err := c.post("/api/v1/assets/events/"+key, req, &event)
	return &event, err
}

// --- HTTP helpers ---

func versionQuery(version int) string {
	if version > 0 {
		return fmt.Sprintf("?version=%d", version)
	}
	return ""
}

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
