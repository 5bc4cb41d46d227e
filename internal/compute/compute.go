package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Materia/internal/domain"
)

// Ошибки вычислений.
var (
	// ErrKindNotFound — тип вычисления не найден в реестре.
	ErrKindNotFound = errors.New("compute kind not found")

	// ErrInvalidConfig — невалидная конфигурация вычисления.
	ErrInvalidConfig = errors.New("invalid compute config")

	// ErrInvalidInput — входное значение неожиданной формы.
	ErrInvalidInput = errors.New("invalid input value")

	// ErrCancelled — выполнение вычисления отменено.
	ErrCancelled = errors.New("computation cancelled")
)

// Handler — исполняемая реализация типа вычисления.
//
// Каждый встроенный тип (constant, http_fetch, transform, passthrough)
// реализует этот интерфейс; пользовательские вычисления регистрируются
// в Registry при встраивании движка как библиотеки.
type Handler interface {
	// Kind возвращает имя типа вычисления.
	Kind() string

	// Schema возвращает схему конфигурации типа.
	Schema() ConfigSchema

	// Execute выполняет вычисление для запрошенных слотов.
	// Вычисление должно проверять ctx.Done() для кооперативной отмены.
	// Отсутствующий в Result слот трактуется как Declined.
	Execute(ctx context.Context, call *Call) (Result, error)
}

// Call — входные данные одного вызова вычисления.
type Call struct {
	// StepID — ID выполняемого шага.
	StepID string

	// RunID — идентификатор run.
	RunID uuid.UUID

	// Attempt — номер попытки, начиная с 1.
	Attempt int

	// RequestedSlots — имена запрошенных выходных слотов.
	RequestedSlots []string

	// Inputs — входы по имени параметра вычисления.
	Inputs map[string]InputValue

	// Config — конфигурация шага с применёнными значениями по умолчанию.
	Config map[string]any

	// Logger — логгер вызова.
	Logger *slog.Logger
}

// Input возвращает вход по имени.
func (c *Call) Input(name string) (InputValue, bool) {
	in, ok := c.Inputs[name]
	return in, ok
}

// SoleInput возвращает единственный вход вызова.
// Ошибка, если входов нет или их больше одного.
func (c *Call) SoleInput() (InputValue, error) {
	if len(c.Inputs) != 1 {
		return InputValue{}, fmt.Errorf("%w: step %s has %d inputs, expected exactly one (set the input field)",
			ErrInvalidConfig, c.StepID, len(c.Inputs))
	}
	for _, in := range c.Inputs {
		return in, nil
	}
	return InputValue{}, nil
}

// InputValue — вход вычисления с явным исходом upstream.
type InputValue struct {
	// Key — ключ upstream-ассета.
	Key domain.AssetKey

	// Value — загруженное значение. Nil для explicit-входов (данные не
	// передаются в вычисление) и для upstream, отказавшегося от выпуска.
	Value any

	// Produced — произвёл ли upstream значение: материализация в этом
	// run либо прочитанное внешнее событие. False — upstream отказался
	// от выпуска; вычисление видит исход явно и решает само.
	Produced bool

	// Event — событие материализации, из которого читалось значение.
	Event *domain.MaterializationEvent
}

// SlotResult — результат одного выходного слота: Produced или Declined.
//
// Сознательный отказ (Decline) — легитимный исход, а не ошибка: для
// optional-слота он даёт исход Skipped, для required-слота — нарушение
// контракта MissingRequiredOutput. Отказ никогда не вызывает retry.
type SlotResult struct {
	produced bool
	value    any
	metadata map[string]any
}

// Produce — слот выпускает значение.
func Produce(value any) SlotResult {
	return SlotResult{produced: true, value: value}
}

// ProduceMeta — слот выпускает значение с метаданными события.
func ProduceMeta(value any, metadata map[string]any) SlotResult {
	return SlotResult{produced: true, value: value, metadata: metadata}
}

// Decline — сознательный отказ от выпуска слота.
func Decline() SlotResult {
	return SlotResult{}
}

// Produced возвращает true, если слот выпустил значение.
func (r SlotResult) Produced() bool {
	return r.produced
}

// Value возвращает выпущенное значение.
func (r SlotResult) Value() any {
	return r.value
}

// Metadata возвращает метаданные выпуска.
func (r SlotResult) Metadata() map[string]any {
	return r.metadata
}

// Result — результаты вызова по именам выходных слотов.
// Отсутствующий в карте слот считается Declined.
type Result map[string]SlotResult

// Slot возвращает результат слота; для отсутствующего слота — Declined.
func (r Result) Slot(name string) SlotResult {
	return r[name]
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMap извлекает map из конфига.
func GetConfigMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}

// GetConfigList извлекает список из конфига.
func GetConfigList(config map[string]any, key string) []any {
	if v, ok := config[key]; ok {
		if l, ok := v.([]any); ok {
			return l
		}
	}
	return nil
}

// GetConfigStringList извлекает список строк из конфига.
func GetConfigStringList(config map[string]any, key string) []string {
	if v, ok := config[key]; ok {
		switch l := v.(type) {
		case []string:
			return l
		case []any:
			result := make([]string, 0, len(l))
			for _, item := range l {
				if s, ok := item.(string); ok {
					result = append(result, s)
				}
			}
			return result
		}
	}
	return nil
}
