package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все вызовы завершились без FAILED.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы один вызов завершился FAILED.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён до завершения всех вызовов.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// InvocationStatus — статус вызова шага внутри run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED (retry → обратно в RUNNING)
//	PENDING → SKIPPED (upstream отказался от loaded-значения)
//	PENDING → FAILED (upstream провален — каскад без выполнения)
type InvocationStatus string

const (
	// InvocationPending — вызов ожидает готовности зависимостей.
	InvocationPending InvocationStatus = "PENDING"

	// InvocationRunning — вычисление шага выполняется.
	InvocationRunning InvocationStatus = "RUNNING"

	// InvocationSucceeded — вызов завершён; каждый запрошенный слот
	// либо материализован, либо сознательно пропущен.
	InvocationSucceeded InvocationStatus = "SUCCEEDED"

	// InvocationFailed — вызов провален (после исчерпания retry
	// или каскадом от проваленного upstream).
	InvocationFailed InvocationStatus = "FAILED"

	// InvocationSkipped — вычисление не запускалось: единственный путь
	// к завершению требовал loaded-чтения пропущенного слота.
	InvocationSkipped InvocationStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s InvocationStatus) IsTerminal() bool {
	switch s {
	case InvocationSucceeded, InvocationFailed, InvocationSkipped:
		return true
	default:
		return false
	}
}

// OutcomeStatus — исход по одному запрошенному слоту.
type OutcomeStatus string

const (
	// OutcomeMaterialized — слот произведён, событие записано.
	OutcomeMaterialized OutcomeStatus = "MATERIALIZED"

	// OutcomeSkipped — слот сознательно не произведён.
	OutcomeSkipped OutcomeStatus = "SKIPPED"

	// OutcomeFailed — слот не произведён из-за ошибки.
	OutcomeFailed OutcomeStatus = "FAILED"
)
