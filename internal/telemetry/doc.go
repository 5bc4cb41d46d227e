// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики движка исполнения
//
// Формат и уровень логов задаются переменными LOG_FORMAT и LOG_LEVEL.
// Метрики экспортируются API-сервером на /metrics endpoint.
package telemetry
