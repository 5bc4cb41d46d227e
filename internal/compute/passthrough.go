package compute

import (
	"context"
	"fmt"
)

// KindPassthrough — тип вычисления passthrough.
const KindPassthrough = "passthrough"

// passthroughConfigInput — имя входа-источника.
const passthroughConfigInput = "input"

// PassthroughHandler копирует значение upstream-ассета в запрошенные слоты.
//
// Конфигурация:
//
//	{
//	  "input": "events"
//	}
//
// "input" выбирает вход-источник; при единственном входе он необязателен.
// Полезен для переноса ассета между группами и для переключения хранилища.
type PassthroughHandler struct{}

// NewPassthroughHandler создаёт обработчик passthrough.
func NewPassthroughHandler() *PassthroughHandler {
	return &PassthroughHandler{}
}

// Kind возвращает имя типа вычисления.
func (h *PassthroughHandler) Kind() string {
	return KindPassthrough
}

// Schema возвращает схему конфигурации passthrough.
func (h *PassthroughHandler) Schema() ConfigSchema {
	return ConfigSchema{
		passthroughConfigInput: {Type: FieldString},
	}
}

// Execute копирует значение входа во все запрошенные слоты.
func (h *PassthroughHandler) Execute(ctx context.Context, call *Call) (Result, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
	default:
	}

	var src InputValue
	var err error
	if name := GetConfigString(call.Config, passthroughConfigInput); name != "" {
		var ok bool
		src, ok = call.Input(name)
		if !ok {
			return nil, fmt.Errorf("%w: step %s has no input %q", ErrInvalidConfig, call.StepID, name)
		}
	} else {
		src, err = call.SoleInput()
		if err != nil {
			return nil, err
		}
	}

	result := make(Result, len(call.RequestedSlots))
	if !src.Produced {
		return result, nil
	}
	for _, slot := range call.RequestedSlots {
		result[slot] = ProduceMeta(src.Value, map[string]any{"copied_from": src.Key.String()})
	}
	return result, nil
}
