package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrGraphNotFound — граф не найден.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrVersionNotFound — версия графа не найдена.
	ErrVersionNotFound = errors.New("graph version not found")

	// ErrNameRequired — набор деклараций без имени графа.
	ErrNameRequired = errors.New("graph name is required")

	// ErrInvalidSet — набор деклараций не прошёл резолюцию
	// (цикл, дубликат ключа, неизвестный kind и т.п.).
	ErrInvalidSet = errors.New("declaration set rejected")

	// ErrInvalidSelection — selection не компилируется по графу.
	ErrInvalidSelection = errors.New("selection rejected")

	// ErrRunNotFound — run не найден.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — операция над run в терминальном статусе.
	ErrRunFinished = errors.New("run already finished")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrNoResult — результат run ещё не записан.
	ErrNoResult = errors.New("run result not available")

	// ErrNotSource — внешний отчёт для вычисляемого ассета.
	ErrNotSource = errors.New("external report is allowed only for source assets")
)
