package compute

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// KindTransform — тип вычисления transform.
const KindTransform = "transform"

// Операции transform.
const (
	transformOpAppend = "append"
	transformOpMerge  = "merge"
	transformOpPick   = "pick"
	transformOpRename = "rename"
)

// Ключи конфигурации transform.
const (
	transformConfigOperation = "operation"
	transformConfigInput     = "input"
	transformConfigItems     = "items"
	transformConfigFields    = "fields"
	transformConfigMapping   = "mapping"
	transformConfigExtra     = "extra"
)

// TransformHandler преобразует загруженные значения upstream-ассетов.
//
// Конфигурация:
//
//	{
//	  "operation": "append",
//	  "input": "events",
//	  "items": [4],
//	  "fields": ["id", "name"],
//	  "mapping": {"old": "new"},
//	  "extra": {"source": "transform"}
//	}
//
// Операции: "append" добавляет items к списку, "merge" объединяет все
// входы-карты и extra поверх, "pick" оставляет в карте только fields,
// "rename" переименовывает ключи карты по mapping. "input" выбирает
// вход-источник; при единственном входе он необязателен. Результат
// выпускается во все запрошенные слоты.
//
// Если выбранный upstream не произвёл значение, transform сознательно
// отказывается от выпуска всех слотов.
type TransformHandler struct{}

// NewTransformHandler создаёт обработчик transform.
func NewTransformHandler() *TransformHandler {
	return &TransformHandler{}
}

// Kind возвращает имя типа вычисления.
func (h *TransformHandler) Kind() string {
	return KindTransform
}

// Schema возвращает схему конфигурации transform.
func (h *TransformHandler) Schema() ConfigSchema {
	return ConfigSchema{
		transformConfigOperation: {
			Type:     FieldString,
			Required: true,
			Enum:     []string{transformOpAppend, transformOpMerge, transformOpPick, transformOpRename},
		},
		transformConfigInput:   {Type: FieldString},
		transformConfigItems:   {Type: FieldList},
		transformConfigFields:  {Type: FieldList},
		transformConfigMapping: {Type: FieldMap},
		transformConfigExtra:   {Type: FieldMap},
	}
}

// Execute применяет операцию и выпускает результат в запрошенные слоты.
func (h *TransformHandler) Execute(ctx context.Context, call *Call) (Result, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
	default:
	}

	op := GetConfigString(call.Config, transformConfigOperation)

	var value any
	var err error
	switch op {
	case transformOpMerge:
		value, err = h.merge(call)
	case transformOpAppend, transformOpPick, transformOpRename:
		src, srcErr := h.sourceInput(call)
		if srcErr != nil {
			return nil, srcErr
		}
		if !src.Produced {
			call.Logger.Debug("transform input not produced, declining all slots",
				"step_id", call.StepID, "input_key", src.Key.String())
			return Result{}, nil
		}
		switch op {
		case transformOpAppend:
			value, err = h.append(call, src)
		case transformOpPick:
			value, err = h.pick(call, src)
		case transformOpRename:
			value, err = h.rename(call, src)
		}
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidConfig, op)
	}
	if err != nil {
		return nil, err
	}

	result := make(Result, len(call.RequestedSlots))
	for _, slot := range call.RequestedSlots {
		result[slot] = Produce(value)
	}
	return result, nil
}

// sourceInput выбирает вход-источник: названный в конфиге или единственный.
func (h *TransformHandler) sourceInput(call *Call) (InputValue, error) {
	if name := GetConfigString(call.Config, transformConfigInput); name != "" {
		src, ok := call.Input(name)
		if !ok {
			return InputValue{}, fmt.Errorf("%w: step %s has no input %q", ErrInvalidConfig, call.StepID, name)
		}
		return src, nil
	}
	return call.SoleInput()
}

func (h *TransformHandler) append(call *Call, src InputValue) (any, error) {
	list, err := asList(src)
	if err != nil {
		return nil, err
	}
	items := GetConfigList(call.Config, transformConfigItems)
	return append(slices.Clone(list), items...), nil
}

// merge объединяет все произведённые входы-карты в порядке имён входов,
// затем extra поверх. Поздние значения замещают ранние.
func (h *TransformHandler) merge(call *Call) (any, error) {
	names := make([]string, 0, len(call.Inputs))
	for name := range call.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make(map[string]any)
	for _, name := range names {
		in := call.Inputs[name]
		if !in.Produced {
			continue
		}
		m, err := asMap(in)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			merged[k] = v
		}
	}
	for k, v := range GetConfigMap(call.Config, transformConfigExtra) {
		merged[k] = v
	}
	return merged, nil
}

func (h *TransformHandler) pick(call *Call, src InputValue) (any, error) {
	m, err := asMap(src)
	if err != nil {
		return nil, err
	}
	fields := GetConfigStringList(call.Config, transformConfigFields)
	picked := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := m[f]; ok {
			picked[f] = v
		}
	}
	return picked, nil
}

func (h *TransformHandler) rename(call *Call, src InputValue) (any, error) {
	m, err := asMap(src)
	if err != nil {
		return nil, err
	}
	mapping := GetConfigMapString(call.Config, transformConfigMapping)
	renamed := make(map[string]any, len(m))
	for k, v := range m {
		if newName, ok := mapping[k]; ok {
			renamed[newName] = v
		} else {
			renamed[k] = v
		}
	}
	return renamed, nil
}

// asList приводит значение входа к списку.
func asList(in InputValue) ([]any, error) {
	switch v := in.Value.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: asset %s is %T, expected a list", ErrInvalidInput, in.Key.String(), in.Value)
	}
}

// asMap приводит значение входа к карте.
func asMap(in InputValue) (map[string]any, error) {
	switch v := in.Value.(type) {
	case map[string]any:
		return v, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("%w: asset %s is %T, expected a map", ErrInvalidInput, in.Key.String(), in.Value)
	}
}
