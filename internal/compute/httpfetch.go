package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// KindHTTPFetch — тип вычисления http_fetch.
const KindHTTPFetch = "http_fetch"

// Ключи конфигурации http_fetch.
const (
	fetchConfigURL     = "url"
	fetchConfigURLs    = "urls"
	fetchConfigHeaders = "headers"
	fetchConfigTimeout = "timeout_sec"
)

// defaultFetchTimeout — таймаут запроса по умолчанию.
const defaultFetchTimeout = 30 * time.Second

// FetchError — HTTP-ответ со статусом ошибки.
// Возвращается как поднятая ошибка, чтобы сработала политика retry шага.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *FetchError) Error() string {
	return fmt.Sprintf("http fetch %s: %s", e.URL, e.Status)
}

// HTTPFetchHandler загружает значения ассетов по HTTP GET.
//
// Конфигурация:
//
//	{
//	  "url": "https://api.example.com/data",
//	  "urls": {"daily": "https://api.example.com/daily"},
//	  "headers": {"Authorization": "Bearer ..."},
//	  "timeout_sec": 30
//	}
//
// "url" загружает один ответ для всех запрошенных слотов, "urls" задаёт
// адрес каждого слота по имени; запрошенный слот без адреса сознательно
// отказывается от выпуска. Ответы с Content-Type application/json
// декодируются, остальные выпускаются строкой. Статус 400 и выше — ошибка.
type HTTPFetchHandler struct{}

// NewHTTPFetchHandler создаёт обработчик http_fetch.
func NewHTTPFetchHandler() *HTTPFetchHandler {
	return &HTTPFetchHandler{}
}

// Kind возвращает имя типа вычисления.
func (h *HTTPFetchHandler) Kind() string {
	return KindHTTPFetch
}

// Schema возвращает схему конфигурации http_fetch.
func (h *HTTPFetchHandler) Schema() ConfigSchema {
	return ConfigSchema{
		fetchConfigURL:     {Type: FieldString},
		fetchConfigURLs:    {Type: FieldMap},
		fetchConfigHeaders: {Type: FieldMap},
		fetchConfigTimeout: {Type: FieldInt, Default: 30},
	}
}

// Execute загружает значения запрошенных слотов.
func (h *HTTPFetchHandler) Execute(ctx context.Context, call *Call) (Result, error) {
	url := GetConfigString(call.Config, fetchConfigURL)
	urls := GetConfigMapString(call.Config, fetchConfigURLs)
	if url == "" && len(urls) == 0 {
		return nil, fmt.Errorf("%w: step %s: either url or urls must be set", ErrInvalidConfig, call.StepID)
	}

	headers := GetConfigMapString(call.Config, fetchConfigHeaders)
	timeout := defaultFetchTimeout
	if sec := GetConfigInt(call.Config, fetchConfigTimeout); sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	client := &http.Client{Timeout: timeout}

	result := make(Result, len(call.RequestedSlots))

	// Один адрес — один запрос, значение раздаётся всем слотам.
	if len(urls) == 0 {
		value, err := h.fetch(ctx, client, url, headers)
		if err != nil {
			return nil, err
		}
		for _, slot := range call.RequestedSlots {
			result[slot] = ProduceMeta(value, map[string]any{"url": url})
		}
		return result, nil
	}

	for _, slot := range call.RequestedSlots {
		slotURL, ok := urls[slot]
		if !ok {
			result[slot] = Decline()
			continue
		}
		value, err := h.fetch(ctx, client, slotURL, headers)
		if err != nil {
			return nil, err
		}
		result[slot] = ProduceMeta(value, map[string]any{"url": slotURL})
	}
	return result, nil
}

// fetch выполняет один GET-запрос и разбирает тело ответа.
func (h *HTTPFetchHandler) fetch(ctx context.Context, client *http.Client, url string, headers map[string]string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q: %v", ErrInvalidConfig, url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http fetch %s: read body: %w", url, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var value any
		if err := json.Unmarshal(body, &value); err == nil {
			return value, nil
		}
	}
	return string(body), nil
}
