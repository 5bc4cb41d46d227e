package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Materia/internal/domain"
)

// InputBinding — разрешённая привязка входа для вызова шага.
type InputBinding struct {
	// Name — имя параметра вычисления.
	Name string `json:"name"`

	// Key — ключ upstream-ассета.
	Key domain.AssetKey `json:"key"`

	// Kind — тип зависимости: explicit (только ожидание) или loaded
	// (ожидание + загрузка значения через I/O manager).
	Kind domain.EdgeKind `json:"kind"`

	// ProducedBy — ID вызова плана, производящего ассет в этом run.
	// Пустая строка — ассет в плане не производится (source-ассет либо
	// невыбранный upstream): значение читается через последнее записанное
	// событие материализации.
	ProducedBy string `json:"produced_by,omitempty"`
}

// Invocation — один вызов шага в плане.
//
// Шаг встречается в плане не более одного раза: два вызова одного шага
// никогда не планируются в рамках одного run.
type Invocation struct {
	// StepID — ID вызываемого шага.
	StepID string `json:"step_id"`

	// Step — разрешённый шаг (ссылка в граф, только чтение).
	Step *domain.Step `json:"-"`

	// RequestedSlots — имена запрошенных выходных слотов в объявленном
	// порядке. Для не-subsettable шага — все его слоты.
	RequestedSlots []string `json:"requested_slots"`

	// Bindings — привязки входов, питающих хотя бы один запрошенный слот.
	Bindings []InputBinding `json:"bindings,omitempty"`

	// WaitsOn — ID вызовов плана, завершения которых нужно дождаться
	// (рёбра обоих типов), отсортированы.
	WaitsOn []string `json:"waits_on,omitempty"`
}

// RequestsSlot возвращает true, если выходной слот запрошен этим вызовом.
func (inv *Invocation) RequestsSlot(name string) bool {
	for _, slot := range inv.RequestedSlots {
		if slot == name {
			return true
		}
	}
	return false
}

// RequestedKeys возвращает ключи ассетов запрошенных слотов
// в порядке объявления слотов.
func (inv *Invocation) RequestedKeys() []domain.AssetKey {
	keys := make([]domain.AssetKey, 0, len(inv.RequestedSlots))
	for _, name := range inv.RequestedSlots {
		if slot, ok := inv.Step.Output(name); ok {
			keys = append(keys, slot.Key)
		}
	}
	return keys
}

// Plan — скомпилированный план выполнения выборки.
//
// План неизменяем после компиляции и безопасен для конкурентного чтения.
type Plan struct {
	// Graph — граф, по которому скомпилирован план.
	Graph *Graph `json:"-"`

	// Invocations — вызовы шагов по ID шага.
	Invocations map[string]*Invocation `json:"invocations"`

	// Order — детерминированный топологический порядок вызовов,
	// согласованный с WaitsOn.
	Order []string `json:"order"`

	// Selected — выбранные ключи ассетов, отсортированы.
	Selected []domain.AssetKey `json:"selected"`
}

// Size возвращает количество вызовов в плане.
func (p *Plan) Size() int {
	return len(p.Invocations)
}

// Producer возвращает вызов плана, который произведёт ассет key в этом
// run, или nil: для source-ассетов, для ассетов вне плана и для слотов,
// не запрошенных у subsettable шага.
func (p *Plan) Producer(key domain.AssetKey) *Invocation {
	node := p.Graph.GetNode(key)
	if node == nil || node.StepID == "" {
		return nil
	}
	inv := p.Invocations[node.StepID]
	if inv == nil {
		return nil
	}
	slot, ok := inv.Step.OutputByKey(key)
	if !ok || !inv.RequestsSlot(slot.Name) {
		return nil
	}
	return inv
}

// Compile компилирует выборку ключей в план вызовов шагов.
//
// Выбранные вычисляемые ключи группируются по владеющим шагам; для
// не-subsettable шага запрашиваются все слоты, даже если выбран один.
// Привязки входов ограничены входами, питающими хотя бы один запрошенный
// слот (по InternalDeps). Source-ассеты вызовов не порождают: их значения
// читаются из внешне записанного состояния.
func Compile(g *Graph, selected []domain.AssetKey) (*Plan, error) {
	plan := &Plan{
		Graph:       g,
		Invocations: make(map[string]*Invocation),
	}

	// Первый проход: какие слоты каждого шага запрошены.
	requested := make(map[string]map[string]bool)
	seen := make(map[domain.AssetKey]bool, len(selected))
	for _, key := range selected {
		if seen[key] {
			continue
		}
		seen[key] = true

		node := g.GetNode(key)
		if node == nil {
			return nil, fmt.Errorf("plan references unknown asset %s: %w", key, ErrUnknownDependency)
		}
		plan.Selected = append(plan.Selected, key)
		if node.IsSource {
			continue
		}

		step := g.Steps[node.StepID]
		slot, _ := step.OutputByKey(key)

		slots := requested[step.ID]
		if slots == nil {
			slots = make(map[string]bool, len(step.Outputs))
			requested[step.ID] = slots
		}
		slots[slot.Name] = true

		if !step.Subsettable {
			for _, out := range step.Outputs {
				slots[out.Name] = true
			}
		}
	}
	domain.SortKeys(plan.Selected)

	for stepID, slots := range requested {
		step := g.Steps[stepID]

		slotNames := make([]string, 0, len(slots))
		for _, out := range step.Outputs {
			if slots[out.Name] {
				slotNames = append(slotNames, out.Name)
			}
		}

		plan.Invocations[stepID] = &Invocation{
			StepID:         stepID,
			Step:           step,
			RequestedSlots: slotNames,
		}
	}

	// Второй проход: привязки входов и рёбра ожидания. Producer смотрит
	// на RequestedSlots других вызовов, поэтому все вызовы уже созданы.
	for _, inv := range plan.Invocations {
		waits := make(map[string]bool)
		for _, in := range inv.Step.InputsFeeding(inv.RequestedSlots) {
			binding := InputBinding{
				Name: in.Name,
				Key:  in.Key,
				Kind: in.Kind,
			}
			if producer := plan.Producer(in.Key); producer != nil {
				binding.ProducedBy = producer.StepID
				waits[producer.StepID] = true
			}
			inv.Bindings = append(inv.Bindings, binding)
		}

		inv.WaitsOn = make([]string, 0, len(waits))
		for id := range waits {
			inv.WaitsOn = append(inv.WaitsOn, id)
		}
		sort.Strings(inv.WaitsOn)
	}

	order, err := invocationOrder(plan)
	if err != nil {
		return nil, err
	}
	plan.Order = order

	return plan, nil
}

// invocationOrder строит детерминированный топологический порядок вызовов
// по рёбрам WaitsOn (Кан, из фронта всегда берётся минимальный ID).
func invocationOrder(plan *Plan) ([]string, error) {
	inDegree := make(map[string]int, len(plan.Invocations))
	dependents := make(map[string][]string, len(plan.Invocations))
	for id := range plan.Invocations {
		inDegree[id] = 0
	}
	for id, inv := range plan.Invocations {
		for _, upstream := range inv.WaitsOn {
			inDegree[id]++
			dependents[upstream] = append(dependents[upstream], id)
		}
	}

	var frontier []string
	for id, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(plan.Invocations))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		released := false
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				frontier = append(frontier, dep)
				released = true
			}
		}
		if released {
			sort.Strings(frontier)
		}
	}

	// рёбра WaitsOn наследуют ацикличность графа ассетов
	if len(order) != len(plan.Invocations) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}
