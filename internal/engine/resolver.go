package engine

import (
	"fmt"
	"strings"

	"github.com/shaiso/Materia/internal/domain"
)

// KindValidator проверяет типы вычислений и их конфигурацию.
//
// Реализуется реестром compute. Nil отключает проверку: граф разрешается
// без привязки к исполняемым вычислениям (например, только для lineage).
type KindValidator interface {
	// Known возвращает true, если тип вычисления зарегистрирован.
	Known(kind string) bool

	// ValidateConfig проверяет конфигурацию против схемы типа.
	ValidateConfig(kind string, config map[string]any) error
}

// Resolve разрешает DeclarationSet в неизменяемый граф ассетов.
//
// Проверяет:
//   - уникальность ключей ассетов (с указанием обоих мест декларации)
//   - уникальность ID шагов и имён слотов
//   - корректность типов вычислений и их конфигурации (через kinds)
//   - привязку входов: по явному ключу или по совпадению имени входа
//     с последним сегментом ключа ровно одного ассета
//   - валидность InternalDeps и политик повторов
//   - отсутствие циклов (DFS с маркировкой стека рекурсии)
//
// Любая ошибка прерывает загрузку целиком — частично пригодный граф не
// возвращается. Повторное разрешение неизменённого набора даёт граф с
// идентичными узлами, рёбрами и порядком.
func Resolve(set domain.DeclarationSet, kinds KindValidator) (*Graph, error) {
	g := &Graph{
		Name:       set.Name,
		Nodes:      make(map[domain.AssetKey]*domain.AssetNode),
		Steps:      make(map[string]*domain.Step),
		Dependents: make(map[domain.AssetKey][]domain.AssetKey),
	}

	// declaredBy запоминает место декларации каждого ключа
	// для сообщений об ошибках дублирования.
	declaredBy := make(map[domain.AssetKey]string)

	// Первый проход: source-ассеты и выходы шагов становятся узлами.
	for i := range set.Sources {
		if err := resolveSource(g, &set.Sources[i], declaredBy); err != nil {
			return nil, err
		}
	}
	for i := range set.Steps {
		if err := resolveStep(g, &set.Steps[i], declaredBy, kinds); err != nil {
			return nil, err
		}
	}

	// Второй проход: привязка входов и построение рёбер.
	// К этому моменту известны все ключи графа.
	leafIndex := buildLeafIndex(g)
	for i := range set.Steps {
		if err := bindStepInputs(g, &set.Steps[i], leafIndex); err != nil {
			return nil, err
		}
	}

	buildDependents(g)

	if err := detectCycle(g); err != nil {
		return nil, err
	}

	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	g.Topo = order

	return g, nil
}

// resolveSource добавляет узел source-ассета.
func resolveSource(g *Graph, decl *domain.SourceDecl, declaredBy map[domain.AssetKey]string) error {
	if decl.Key.IsZero() {
		return NewValidationError("", "key", "source asset has empty key", domain.ErrEmptyKey)
	}
	if prev, ok := declaredBy[decl.Key]; ok {
		return NewValidationError("", "key",
			fmt.Sprintf("asset %s declared by both %s and source declaration", decl.Key, prev),
			ErrDuplicateKey)
	}
	declaredBy[decl.Key] = "source declaration"

	g.Nodes[decl.Key] = &domain.AssetNode{
		Key:      decl.Key,
		Group:    groupOrDefault(decl.Group),
		IsSource: true,
		Metadata: decl.Metadata,
	}
	return nil
}

// resolveStep валидирует декларацию шага и добавляет узлы его выходов.
// Входы привязываются вторым проходом, когда известны все ключи графа.
func resolveStep(g *Graph, decl *domain.StepDecl, declaredBy map[domain.AssetKey]string, kinds KindValidator) error {
	if decl.ID == "" {
		return NewValidationError("", "id", "step has empty ID", ErrEmptyStepID)
	}
	if _, ok := g.Steps[decl.ID]; ok {
		return NewValidationError(decl.ID, "id",
			fmt.Sprintf("duplicate step ID: %s", decl.ID), ErrDuplicateStepID)
	}

	if decl.Kind == "" {
		return NewValidationError(decl.ID, "kind", "step has empty kind", ErrUnknownKind)
	}
	if kinds != nil {
		if !kinds.Known(decl.Kind) {
			return NewValidationError(decl.ID, "kind",
				fmt.Sprintf("unknown compute kind: %s", decl.Kind), ErrUnknownKind)
		}
		if err := kinds.ValidateConfig(decl.Kind, decl.Config); err != nil {
			return NewValidationError(decl.ID, "config", err.Error(), err)
		}
	}

	if decl.Retry != nil {
		if err := decl.Retry.Validate(); err != nil {
			return NewValidationError(decl.ID, "retry", err.Error(), err)
		}
	}

	if len(decl.Outputs) == 0 {
		return NewValidationError(decl.ID, "outputs", "step declares no outputs", ErrNoOutputs)
	}

	step := &domain.Step{
		ID:           decl.ID,
		Kind:         decl.Kind,
		Config:       decl.Config,
		Subsettable:  decl.Subsettable,
		Outputs:      make([]domain.OutputSlot, 0, len(decl.Outputs)),
		InternalDeps: decl.InternalDeps,
		Retry:        decl.Retry,
	}

	slotNames := make(map[string]bool, len(decl.Outputs))
	for _, out := range decl.Outputs {
		if out.Key.IsZero() {
			return NewValidationError(decl.ID, "outputs",
				fmt.Sprintf("output %s has empty key", out.Name), domain.ErrEmptyKey)
		}
		name := out.Name
		if name == "" {
			name = out.Key.Leaf()
		}
		if slotNames[name] {
			return NewValidationError(decl.ID, "outputs",
				fmt.Sprintf("duplicate output slot name: %s", name), ErrDuplicateSlot)
		}
		slotNames[name] = true

		if prev, ok := declaredBy[out.Key]; ok {
			return NewValidationError(decl.ID, "outputs",
				fmt.Sprintf("asset %s declared by both %s and step %s", out.Key, prev, decl.ID),
				ErrDuplicateKey)
		}
		declaredBy[out.Key] = "step " + decl.ID

		step.Outputs = append(step.Outputs, domain.OutputSlot{
			Name:     name,
			Key:      out.Key,
			Required: out.Required,
		})
		g.Nodes[out.Key] = &domain.AssetNode{
			Key:         out.Key,
			CodeVersion: out.CodeVersion,
			Group:       groupOrDefault(out.Group),
			StepID:      decl.ID,
			Metadata:    out.Metadata,
		}
	}

	g.Steps[decl.ID] = step
	return nil
}

// bindStepInputs привязывает входы шага к ключам графа и строит рёбра
// зависимостей для узлов его выходов.
func bindStepInputs(g *Graph, decl *domain.StepDecl, leafIndex map[string][]domain.AssetKey) error {
	step := g.Steps[decl.ID]

	inputNames := make(map[string]bool, len(decl.Inputs))
	for _, in := range decl.Inputs {
		if in.Name == "" {
			return NewValidationError(decl.ID, "inputs", "input has empty name", ErrUnknownDependency)
		}
		if inputNames[in.Name] {
			return NewValidationError(decl.ID, "inputs",
				fmt.Sprintf("duplicate input name: %s", in.Name), ErrDuplicateSlot)
		}
		inputNames[in.Name] = true

		kind := in.Kind
		if kind == "" {
			kind = domain.EdgeLoaded
		}
		if !kind.Valid() {
			return NewValidationError(decl.ID, "inputs",
				fmt.Sprintf("input %s has unknown dependency kind: %s", in.Name, in.Kind),
				ErrUnknownEdgeKind)
		}

		key := in.Key
		if key.IsZero() {
			// привязка по имени: вход должен совпасть с последним
			// сегментом ключа ровно одного ассета графа
			matches := leafIndex[in.Name]
			switch len(matches) {
			case 0:
				return NewValidationError(decl.ID, "inputs",
					fmt.Sprintf("input %s matches no declared asset", in.Name), ErrUnknownDependency)
			case 1:
				key = matches[0]
			default:
				return NewValidationError(decl.ID, "inputs",
					fmt.Sprintf("input %s matches multiple assets: %s", in.Name, joinKeys(matches)),
					ErrUnknownDependency)
			}
		} else if !g.HasNode(key) {
			return NewValidationError(decl.ID, "inputs",
				fmt.Sprintf("input %s references unknown asset: %s", in.Name, key),
				ErrUnknownDependency)
		}

		if g.Nodes[key].StepID == decl.ID {
			return NewValidationError(decl.ID, "inputs",
				fmt.Sprintf("input %s references output of the same step: %s", in.Name, key),
				ErrSelfDependency)
		}

		step.Inputs = append(step.Inputs, domain.InputSlot{
			Name: in.Name,
			Key:  key,
			Kind: kind,
		})
	}

	// InternalDeps ссылаются только на объявленные слоты.
	for slotName, feeding := range step.InternalDeps {
		if _, ok := step.Output(slotName); !ok {
			return NewValidationError(decl.ID, "internal_deps",
				fmt.Sprintf("internal deps reference unknown output slot: %s", slotName),
				ErrUnknownDependency)
		}
		for _, inputName := range feeding {
			if !inputNames[inputName] {
				return NewValidationError(decl.ID, "internal_deps",
					fmt.Sprintf("internal deps of slot %s reference unknown input: %s", slotName, inputName),
					ErrUnknownDependency)
			}
		}
	}

	// Рёбра выходных узлов: вход питает выход по правилам InternalDeps.
	for _, out := range step.Outputs {
		node := g.Nodes[out.Key]
		for _, in := range step.Inputs {
			if step.FeedsSlot(in.Name, out.Name) {
				addEdge(node, domain.DependencyEdge{Upstream: in.Key, Kind: in.Kind})
			}
		}
	}
	return nil
}

// addEdge добавляет ребро к узлу, игнорируя точные дубликаты.
func addEdge(node *domain.AssetNode, edge domain.DependencyEdge) {
	for _, existing := range node.Deps {
		if existing == edge {
			return
		}
	}
	node.Deps = append(node.Deps, edge)
}

// buildLeafIndex индексирует ключи графа по последнему сегменту
// для привязки входов по имени.
func buildLeafIndex(g *Graph) map[string][]domain.AssetKey {
	index := make(map[string][]domain.AssetKey)
	for k := range g.Nodes {
		leaf := k.Leaf()
		index[leaf] = append(index[leaf], k)
	}
	for leaf := range index {
		domain.SortKeys(index[leaf])
	}
	return index
}

// buildDependents строит обратный индекс прямых downstream-зависимых.
func buildDependents(g *Graph) {
	for key, node := range g.Nodes {
		seen := make(map[domain.AssetKey]bool, len(node.Deps))
		for _, d := range node.Deps {
			if seen[d.Upstream] {
				continue
			}
			seen[d.Upstream] = true
			g.Dependents[d.Upstream] = append(g.Dependents[d.Upstream], key)
		}
	}
	for key := range g.Dependents {
		domain.SortKeys(g.Dependents[key])
	}
}

// Цвета DFS-обхода при поиске циклов.
const (
	colorWhite = iota // не посещён
	colorGray         // в стеке рекурсии
	colorBlack        // обработан
)

// detectCycle ищет цикл DFS-обходом с маркировкой стека рекурсии.
// Найденный цикл возвращается как CycleError с полной последовательностью
// ключей. Обход стартует с ключей по возрастанию, поэтому сообщение
// детерминировано и при нескольких циклах.
func detectCycle(g *Graph) error {
	color := make(map[domain.AssetKey]int, len(g.Nodes))
	var stack []domain.AssetKey

	var visit func(key domain.AssetKey) *CycleError
	visit = func(key domain.AssetKey) *CycleError {
		color[key] = colorGray
		stack = append(stack, key)

		for _, next := range g.Dependents[key] {
			switch color[next] {
			case colorWhite:
				if cerr := visit(next); cerr != nil {
					return cerr
				}
			case colorGray:
				// next уже в стеке рекурсии: вырезаем цикл от него до вершины
				start := 0
				for i, k := range stack {
					if k == next {
						start = i
						break
					}
				}
				cycle := make([]domain.AssetKey, 0, len(stack)-start+1)
				cycle = append(cycle, stack[start:]...)
				cycle = append(cycle, next)
				return &CycleError{Keys: cycle}
			}
		}

		stack = stack[:len(stack)-1]
		color[key] = colorBlack
		return nil
	}

	keys := make([]domain.AssetKey, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	domain.SortKeys(keys)

	for _, k := range keys {
		if color[k] != colorWhite {
			continue
		}
		if cerr := visit(k); cerr != nil {
			return cerr
		}
	}
	return nil
}

// topoSort вычисляет топологический порядок алгоритмом Кана.
// Из фронта всегда берётся минимальный ключ, поэтому порядок детерминирован.
func topoSort(g *Graph) ([]domain.AssetKey, error) {
	inDegree := make(map[domain.AssetKey]int, len(g.Nodes))
	for key, node := range g.Nodes {
		seen := make(map[domain.AssetKey]bool, len(node.Deps))
		deg := 0
		for _, d := range node.Deps {
			if !seen[d.Upstream] {
				seen[d.Upstream] = true
				deg++
			}
		}
		inDegree[key] = deg
	}

	var frontier []domain.AssetKey
	for key, deg := range inDegree {
		if deg == 0 {
			frontier = append(frontier, key)
		}
	}
	domain.SortKeys(frontier)

	order := make([]domain.AssetKey, 0, len(g.Nodes))
	for len(frontier) > 0 {
		key := frontier[0]
		frontier = frontier[1:]
		order = append(order, key)

		released := false
		for _, dep := range g.Dependents[key] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				frontier = append(frontier, dep)
				released = true
			}
		}
		if released {
			domain.SortKeys(frontier)
		}
	}

	// порядок короче множества узлов — остался цикл
	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

// Compose объединяет разрешённые графы разных локаций в один.
//
// Ключ source-ассета, совпадающий с ключом вычисляемого ассета другого
// графа, разрешается в вычисляемый узел: source — слабая ссылка, владеющий
// граф остаётся авторитетным для материализации. Два вычисляемых узла с
// одним ключом — ошибка дублирования. Составной граф проходит повторную
// проверку циклов: объединение может замкнуть цикл через source-ссылки.
func Compose(graphs ...*Graph) (*Graph, error) {
	composed := &Graph{
		Nodes:      make(map[domain.AssetKey]*domain.AssetNode),
		Steps:      make(map[string]*domain.Step),
		Dependents: make(map[domain.AssetKey][]domain.AssetKey),
	}

	var names []string
	producedBy := make(map[domain.AssetKey]string) // ключ → имя графа-владельца

	for _, g := range graphs {
		if g == nil {
			continue
		}
		if g.Name != "" {
			names = append(names, g.Name)
		}

		for id, step := range g.Steps {
			if _, ok := composed.Steps[id]; ok {
				return nil, NewValidationError(id, "id",
					fmt.Sprintf("duplicate step ID across composed graphs: %s", id),
					ErrDuplicateStepID)
			}
			composed.Steps[id] = step
		}

		for key, node := range g.Nodes {
			existing, ok := composed.Nodes[key]
			if !ok {
				composed.Nodes[key] = node
				if !node.IsSource {
					producedBy[key] = graphName(g)
				}
				continue
			}
			switch {
			case existing.IsSource && !node.IsSource:
				// вычисляемый узел вытесняет source-ссылку
				composed.Nodes[key] = node
				producedBy[key] = graphName(g)
			case existing.IsSource && node.IsSource:
				// повторная source-ссылка, остаётся первая
			case !existing.IsSource && node.IsSource:
				// source-ссылка на уже известный вычисляемый узел
			default:
				return nil, NewValidationError(node.StepID, "outputs",
					fmt.Sprintf("asset %s produced by both graph %s and graph %s",
						key, producedBy[key], graphName(g)),
					ErrDuplicateKey)
			}
		}
	}

	composed.Name = strings.Join(names, "+")

	buildDependents(composed)

	if err := detectCycle(composed); err != nil {
		return nil, err
	}
	order, err := topoSort(composed)
	if err != nil {
		return nil, err
	}
	composed.Topo = order

	return composed, nil
}

// graphName возвращает имя графа для сообщений об ошибках.
func graphName(g *Graph) string {
	if g.Name == "" {
		return "(unnamed)"
	}
	return g.Name
}

// groupOrDefault возвращает группу декларации или DefaultGroup.
func groupOrDefault(group string) string {
	if group == "" {
		return domain.DefaultGroup
	}
	return group
}

// joinKeys соединяет канонические формы ключей через запятую.
func joinKeys(keys []domain.AssetKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}
