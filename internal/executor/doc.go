// Package executor выполняет скомпилированные планы материализации.
//
// # Обзор
//
// Executor принимает неизменяемый план (engine.Plan) и доводит каждый
// его вызов до терминального статуса. Движок отвечает за:
//
//   - Ограниченный параллелизм: фиксированный пул воркеров на run
//   - Порядок: вызов стартует только после завершения всех upstream
//   - Retry с backoff: повтор планируется таймером, не занимая воркера
//   - Каскады: провал передаётся по рёбрам обоих типов, пропуск — только
//     по loaded-рёбрам
//   - Журналирование: каждое материализованное значение сохраняется через
//     I/O manager и получает событие в append-only журнале
//
// Один шаг никогда не выполняется дважды одновременно в рамках одного
// run: шаг входит в план не более одного раза, а его ID возвращается
// в очередь только после завершения предыдущей попытки.
//
// # Жизненный цикл вызова
//
//  1. PENDING: ожидание завершения upstream-вызовов
//  2. RUNNING: сбор входов, вызов вычисления, проверка контракта,
//     store + append по каждому выпущенному слоту
//  3. При ошибке — повтор по политике шага либо FAILED
//  4. SUCCEEDED: каждый запрошенный слот материализован или пропущен
//
// Каскадные переходы PENDING → FAILED и PENDING → SKIPPED происходят
// без выполнения вычисления и засчитывают нулевое число попыток.
//
// # Отчёт о выполнении
//
// Execute не возвращает ошибок вычислений: полный итог — в RunResult,
// где перечислены терминальные статусы всех вызовов, исходные ошибки
// и цепочки каскадов (BlockedBy), плюс исход каждого запрошенного слота.
// Ошибка из Execute означает некорректные аргументы, не провал run.
//
// # Отмена
//
// Отмена ctx останавливает планирование: готовые, но не стартовавшие
// вызовы остаются PENDING, ожидающие повтора завершаются FAILED,
// выполняющиеся завершаются кооперативно. Записанные события
// не откатываются. Итоговый статус run — CANCELLED.
//
// # Подписчики событий
//
// EventSink получает события материализации асинхронно по мере записи.
// Доставка best-effort: при переполнении буфера событие отбрасывается
// (фиксируется метрикой), журнал остаётся источником истины.
//
// # Файлы пакета
//
//   - executor.go — Executor, Execute, сбор входов и попытки
//   - state.go — состояние run, очередь готовности, каскады исходов
//   - backoff.go — вычисление задержки повтора
//   - sink.go — интерфейс подписчика событий
//   - errors.go — нарушения контракта вычисления
package executor
