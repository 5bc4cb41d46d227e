// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//   - sink.go       — подписчик событий материализации для движка выполнения
//
// Типы сообщений:
//   - asset.materialized — записано событие материализации ассета
//   - run.started        — run начал выполняться
//   - run.finished       — run завершён (SUCCEEDED, FAILED или CANCELLED)
//   - asset.report       — внешний отчёт о материализации source-ассета
//
// Exchanges:
//   - materia.events  — исходящие события (ассеты и runs)
//   - materia.reports — входящие внешние отчёты
//   - materia.dlq     — dead letter queue
package mq
