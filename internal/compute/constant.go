package compute

import (
	"context"
	"fmt"
)

// KindConstant — тип вычисления constant.
const KindConstant = "constant"

// Ключи конфигурации constant.
const (
	constantConfigValues = "values"
	constantConfigValue  = "value"
)

// ConstantHandler выпускает заранее заданные значения из конфигурации.
//
// Конфигурация:
//
//	{
//	  "values": {"daily": [1, 2, 3], "weekly": 42},
//	  "value": "shared"
//	}
//
// "values" задаёт значение каждого слота по имени; запрошенный слот без
// значения сознательно отказывается от выпуска. "value" задаёт одно
// значение для всех запрошенных слотов — удобно для шага с единственным
// выходом. При обоих ключах "values" имеет приоритет.
type ConstantHandler struct{}

// NewConstantHandler создаёт обработчик constant.
func NewConstantHandler() *ConstantHandler {
	return &ConstantHandler{}
}

// Kind возвращает имя типа вычисления.
func (h *ConstantHandler) Kind() string {
	return KindConstant
}

// Schema возвращает схему конфигурации constant.
func (h *ConstantHandler) Schema() ConfigSchema {
	return ConfigSchema{
		constantConfigValues: {Type: FieldMap},
		constantConfigValue:  {Type: FieldAny},
	}
}

// Execute выпускает сконфигурированные значения в запрошенные слоты.
func (h *ConstantHandler) Execute(ctx context.Context, call *Call) (Result, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
	default:
	}

	values := GetConfigMap(call.Config, constantConfigValues)
	single, hasSingle := call.Config[constantConfigValue]

	result := make(Result, len(call.RequestedSlots))
	for _, slot := range call.RequestedSlots {
		if values != nil {
			if v, ok := values[slot]; ok {
				result[slot] = Produce(v)
			} else {
				result[slot] = Decline()
			}
			continue
		}
		if hasSingle {
			result[slot] = Produce(single)
			continue
		}
		result[slot] = Decline()
	}
	return result, nil
}
