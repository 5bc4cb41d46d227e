package engine

import (
	"errors"
	"strings"

	"github.com/shaiso/Materia/internal/domain"
)

// Ошибки разрешения графа. Любая из них прерывает загрузку целиком:
// частично пригодный граф никогда не возвращается.
var (
	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrDuplicateKey — один ключ ассета объявлен дважды.
	ErrDuplicateKey = errors.New("duplicate asset key")

	// ErrUnknownKind — неизвестный тип вычисления.
	ErrUnknownKind = errors.New("unknown compute kind")

	// ErrUnknownDependency — ссылка на несуществующий ассет.
	ErrUnknownDependency = errors.New("reference to unknown asset")

	// ErrUnknownEdgeKind — неизвестный тип зависимости у входа.
	ErrUnknownEdgeKind = errors.New("unknown dependency kind")

	// ErrDuplicateSlot — несколько слотов шага с одним именем.
	ErrDuplicateSlot = errors.New("duplicate slot name")

	// ErrSelfDependency — шаг потребляет собственный выход.
	ErrSelfDependency = errors.New("step depends on its own output")

	// ErrNoOutputs — шаг не объявляет ни одного выходного слота.
	ErrNoOutputs = errors.New("step declares no outputs")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// Ошибки выборки. Прерывают только конкретный запрос, не граф.
var (
	// ErrEmptySelection — запрос не выбирает ни одного ассета.
	ErrEmptySelection = errors.New("selection is empty")
)

// ValidationError — ошибка валидации деклараций с контекстом.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка (пусто для source-деклараций)
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// CycleError — обнаруженный цикл зависимостей.
//
// Keys содержит полную последовательность цикла в направлении
// «upstream → downstream»; первый ключ повторён в конце.
type CycleError struct {
	Keys []domain.AssetKey
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		parts[i] = k.String()
	}
	return "cyclic dependency detected: " + strings.Join(parts, " -> ")
}

// Unwrap возвращает ErrCyclicDependency, чтобы работал errors.Is.
func (e *CycleError) Unwrap() error {
	return ErrCyclicDependency
}
