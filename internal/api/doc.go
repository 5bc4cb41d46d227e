// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go       — Handler с DI (оркестратор, logger)
//   - routes.go        — регистрация маршрутов
//   - middleware.go    — middleware (logging, recovery)
//   - response.go      — унифицированные JSON-ответы и обработка ошибок
//   - dto.go           — Data Transfer Objects (request/response)
//   - graph_handler.go — обработчики для /graphs
//   - run_handler.go   — обработчики для /runs
//   - asset_handler.go — обработчики для /assets (события и внешние отчёты)
//
// API предоставляет REST endpoints для регистрации графов ассетов,
// запуска и отмены runs и работы с журналом материализаций.
package api
