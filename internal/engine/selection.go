package engine

import (
	"fmt"

	"github.com/shaiso/Materia/internal/domain"
)

// Select вычисляет замкнутую выборку ключей по структурному запросу.
//
// Результат — всегда подмножество ключей графа, отсортированное и
// замкнутое относительно шагов: любой слот не-subsettable шага подтягивает
// все слоты этого шага, у subsettable шагов остаются только выбранные.
// Замыкания вверх/вниз считаются от явно выбранных ключей (seed-набора),
// Upstream/Downstream ограничивают глубину, -1 — без ограничения.
//
// Неизвестный ключ или группа — ошибка, прерывающая только этот запрос;
// граф остаётся пригодным.
func Select(g *Graph, sel domain.Selection) ([]domain.AssetKey, error) {
	if sel.IsEmpty() {
		return nil, ErrEmptySelection
	}

	selected := make(map[domain.AssetKey]bool)

	for _, key := range sel.Keys {
		if !g.HasNode(key) {
			return nil, fmt.Errorf("selection references unknown asset %s: %w", key, ErrUnknownDependency)
		}
		selected[key] = true
	}

	for _, group := range sel.Groups {
		keys := g.GroupKeys(group)
		if len(keys) == 0 {
			return nil, fmt.Errorf("selection references unknown group %s: %w", group, ErrUnknownDependency)
		}
		for _, key := range keys {
			selected[key] = true
		}
	}

	seeds := make([]domain.AssetKey, 0, len(selected))
	for key := range selected {
		seeds = append(seeds, key)
	}

	expandUpstream(g, seeds, sel.Upstream, selected)
	expandDownstream(g, seeds, sel.Downstream, selected)
	expandSteps(g, selected)

	result := make([]domain.AssetKey, 0, len(selected))
	for key := range selected {
		result = append(result, key)
	}
	return domain.SortKeys(result), nil
}

// expandUpstream добавляет upstream-замыкание: BFS вверх по рёбрам
// зависимостей на hops шагов от seed-ключей. hops < 0 — без ограничения.
func expandUpstream(g *Graph, seeds []domain.AssetKey, hops int, selected map[domain.AssetKey]bool) {
	if hops == 0 {
		return
	}
	visited := make(map[domain.AssetKey]bool, len(seeds))
	for _, key := range seeds {
		visited[key] = true
	}

	frontier := seeds
	for depth := 0; hops < 0 || depth < hops; depth++ {
		var next []domain.AssetKey
		for _, key := range frontier {
			for _, d := range g.Nodes[key].Deps {
				if visited[d.Upstream] {
					continue
				}
				visited[d.Upstream] = true
				selected[d.Upstream] = true
				next = append(next, d.Upstream)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
}

// expandDownstream добавляет downstream-замыкание: BFS вниз по обратному
// индексу на hops шагов от seed-ключей. hops < 0 — без ограничения.
func expandDownstream(g *Graph, seeds []domain.AssetKey, hops int, selected map[domain.AssetKey]bool) {
	if hops == 0 {
		return
	}
	visited := make(map[domain.AssetKey]bool, len(seeds))
	for _, key := range seeds {
		visited[key] = true
	}

	frontier := seeds
	for depth := 0; hops < 0 || depth < hops; depth++ {
		var next []domain.AssetKey
		for _, key := range frontier {
			for _, dep := range g.Dependents[key] {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				selected[dep] = true
				next = append(next, dep)
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
}

// expandSteps замыкает выборку относительно не-subsettable шагов:
// выбор любого слота такого шага означает выбор всех его слотов.
// Подтянутые слоты новых шагов не затрагивают — они принадлежат тем же
// шагам, что и исходные ключи, поэтому одного прохода достаточно.
func expandSteps(g *Graph, selected map[domain.AssetKey]bool) {
	var extra []domain.AssetKey
	for key := range selected {
		step := g.StepFor(key)
		if step == nil || step.Subsettable {
			continue
		}
		for _, out := range step.Outputs {
			if !selected[out.Key] {
				extra = append(extra, out.Key)
			}
		}
	}
	for _, key := range extra {
		selected[key] = true
	}
}
