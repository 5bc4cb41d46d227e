// Package orchestrator — сервисный слой над движком материализации.
//
// Orchestrator отвечает за:
//   - Регистрацию наборов деклараций и их версионирование
//   - Резолв версий в графы ассетов (кэш по неизменяемым версиям)
//   - Компиляцию выборок в планы и их асинхронное выполнение
//   - Реестр активных runs: живое состояние и кооперативная отмена
//   - Подбор runs, осиротевших после рестарта процесса (polling)
//   - Приём внешних отчётов о материализации source-ассетов (HTTP и MQ)
//   - Публикацию событий жизненного цикла runs в RabbitMQ
//
// Выполнение всегда идёт в процессе сервиса: план передаётся движку
// executor, результат и терминальный статус записываются в хранилище.
// RabbitMQ опционален — без него отключаются фан-аут событий и очередь
// отчётов, остальное работает как прежде.
package orchestrator
