package compute

import (
	"fmt"
	"slices"
	"sort"
)

// FieldType — тип поля конфигурации.
type FieldType string

// Типы полей конфигурации.
const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
	FieldList   FieldType = "list"
	FieldMap    FieldType = "map"
	FieldAny    FieldType = "any"
)

// FieldSpec — описание одного поля конфигурации.
type FieldSpec struct {
	// Type — ожидаемый тип значения.
	Type FieldType

	// Required — поле обязательно.
	Required bool

	// Default — значение по умолчанию для отсутствующего поля.
	Default any

	// Enum — допустимые значения строкового поля; пустой список не
	// ограничивает значение.
	Enum []string
}

// ConfigSchema — схема конфигурации типа вычисления: имя поля → описание.
//
// Схема проверяется при резолве графа, до запуска: невалидный конфиг
// отклоняет весь набор деклараций, а не падает посреди run.
type ConfigSchema map[string]FieldSpec

// Validate проверяет конфиг по схеме: обязательные поля присутствуют,
// типы значений совпадают, неизвестные поля отвергаются.
func (s ConfigSchema) Validate(config map[string]any) error {
	fields := make([]string, 0, len(s))
	for name := range s {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		spec := s[name]
		v, ok := config[name]
		if !ok {
			if spec.Required {
				return fmt.Errorf("%w: missing required field %q", ErrInvalidConfig, name)
			}
			continue
		}
		if !matchesType(v, spec.Type) {
			return fmt.Errorf("%w: field %q must be of type %s", ErrInvalidConfig, name, spec.Type)
		}
		if len(spec.Enum) > 0 {
			str, _ := v.(string)
			if !slices.Contains(spec.Enum, str) {
				return fmt.Errorf("%w: field %q must be one of %v", ErrInvalidConfig, name, spec.Enum)
			}
		}
	}

	unknown := make([]string, 0)
	for name := range config {
		if _, ok := s[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown field %q", ErrInvalidConfig, unknown[0])
	}
	return nil
}

// ApplyDefaults возвращает копию конфига с заполненными значениями
// по умолчанию. Исходный конфиг не изменяется.
func (s ConfigSchema) ApplyDefaults(config map[string]any) map[string]any {
	result := make(map[string]any, len(config)+len(s))
	for k, v := range config {
		result[k] = v
	}
	for name, spec := range s {
		if _, ok := result[name]; !ok && spec.Default != nil {
			result[name] = spec.Default
		}
	}
	return result
}

// matchesType проверяет, что значение соответствует типу поля.
// Числа принимаются и как int, и как float64: JSON-декодер отдаёт float64.
func matchesType(v any, t FieldType) bool {
	switch t {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldInt:
		switch v.(type) {
		case int, int64, float64:
			return true
		}
		return false
	case FieldFloat:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldList:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case FieldMap:
		switch v.(type) {
		case map[string]any, map[string]string:
			return true
		}
		return false
	case FieldAny:
		return true
	default:
		return false
	}
}
