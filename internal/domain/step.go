package domain

// InputSlot — привязанный входной слот шага.
//
// Привязка имени к ключу upstream-ассета вычисляется резолвером один раз
// (по явному ключу или по совпадению имени с последним сегментом ключа)
// и дальше не меняется — никакой рефлексии во время выполнения.
type InputSlot struct {
	// Name — имя параметра вычисления.
	Name string `json:"name"`

	// Key — ключ upstream-ассета, к которому привязан вход.
	Key AssetKey `json:"key"`

	// Kind — тип зависимости: explicit (только порядок) или loaded
	// (значение загружается и передаётся в вычисление).
	Kind EdgeKind `json:"kind"`
}

// OutputSlot — выходной слот шага; ровно один ассет на слот.
type OutputSlot struct {
	// Name — имя слота (по умолчанию последний сегмент ключа).
	Name string `json:"name"`

	// Key — ключ ассета, который материализует слот.
	Key AssetKey `json:"key"`

	// Required — обязан ли шаг произвести слот.
	// Отказ от required-слота — нарушение контракта (MissingRequiredOutput);
	// отказ от optional-слота — легитимный исход Skipped.
	Required bool `json:"required"`
}

// Step — единица вычисления: один или несколько выходных слотов,
// каждый из которых соответствует одному ассету.
//
// Шаги создаются резолвером и неизменяемы в течение жизни графа.
type Step struct {
	// ID — уникальный идентификатор шага в графе.
	ID string `json:"id"`

	// Kind — тип вычисления (разрешается через реестр compute).
	Kind string `json:"kind"`

	// Config — конфигурация вычисления.
	// Валидируется резолвером против схемы, объявленной типом вычисления.
	Config map[string]any `json:"config,omitempty"`

	// Subsettable — может ли движок запросить выполнение шага со строгим
	// непустым подмножеством слотов. Для Subsettable=false выбор любого
	// слота расширяется до всех слотов шага.
	Subsettable bool `json:"subsettable,omitempty"`

	// Inputs — привязанные входные слоты (binding table резолвера).
	Inputs []InputSlot `json:"inputs,omitempty"`

	// Outputs — выходные слоты. Ключ каждого слота глобально уникален.
	Outputs []OutputSlot `json:"outputs"`

	// InternalDeps — карта внутренних зависимостей: имя выходного слота →
	// имена входов, которые его питают. Пустая карта или отсутствующий
	// слот означают «все входы питают все выходы».
	InternalDeps map[string][]string `json:"internal_deps,omitempty"`

	// Retry — политика повторных попыток шага. Nil — без повторов.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// Output возвращает выходной слот по имени.
func (s *Step) Output(name string) (OutputSlot, bool) {
	for _, out := range s.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputSlot{}, false
}

// OutputByKey возвращает выходной слот по ключу ассета.
func (s *Step) OutputByKey(key AssetKey) (OutputSlot, bool) {
	for _, out := range s.Outputs {
		if out.Key == key {
			return out, true
		}
	}
	return OutputSlot{}, false
}

// Input возвращает входной слот по имени.
func (s *Step) Input(name string) (InputSlot, bool) {
	for _, in := range s.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputSlot{}, false
}

// SlotNames возвращает имена всех выходных слотов в объявленном порядке.
func (s *Step) SlotNames() []string {
	names := make([]string, len(s.Outputs))
	for i, out := range s.Outputs {
		names[i] = out.Name
	}
	return names
}

// FeedsSlot возвращает true, если вход inputName питает выходной слот
// slotName с учётом InternalDeps. Без записи в InternalDeps действует
// правило «все входы питают все выходы».
func (s *Step) FeedsSlot(inputName, slotName string) bool {
	if len(s.InternalDeps) == 0 {
		return true
	}
	feeding, ok := s.InternalDeps[slotName]
	if !ok {
		return true
	}
	for _, name := range feeding {
		if name == inputName {
			return true
		}
	}
	return false
}

// InputsFeeding возвращает входные слоты, питающие хотя бы один из
// перечисленных выходных слотов. Порядок входов сохраняется.
func (s *Step) InputsFeeding(slotNames []string) []InputSlot {
	if len(slotNames) == 0 {
		return nil
	}
	var result []InputSlot
	for _, in := range s.Inputs {
		for _, slot := range slotNames {
			if s.FeedsSlot(in.Name, slot) {
				result = append(result, in)
				break
			}
		}
	}
	return result
}
