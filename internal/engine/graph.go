package engine

import (
	"sort"

	"github.com/shaiso/Materia/internal/domain"
)

// Graph — разрешённый граф ассетов.
//
// Граф строится резолвером один раз и после этого только читается:
// новая версия деклараций даёт новый Graph, никогда не мутацию на месте.
// Безопасен для конкурентного чтения без блокировок.
type Graph struct {
	// Name — имя графа из DeclarationSet.
	Name string

	// Nodes — все узлы графа по ключу ассета.
	Nodes map[domain.AssetKey]*domain.AssetNode

	// Steps — все шаги графа по ID.
	Steps map[string]*domain.Step

	// Dependents — обратный индекс: ключ ассета → ключи его прямых
	// downstream-зависимых (по рёбрам обоих типов), отсортированы.
	Dependents map[domain.AssetKey][]domain.AssetKey

	// Topo — топологический порядок всех ключей: upstream раньше
	// downstream, при равных возможностях — по возрастанию ключа.
	Topo []domain.AssetKey
}

// Size возвращает количество узлов графа.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// GetNode возвращает узел по ключу или nil, если ключа нет в графе.
func (g *Graph) GetNode(key domain.AssetKey) *domain.AssetNode {
	return g.Nodes[key]
}

// GetStep возвращает шаг по ID или nil.
func (g *Graph) GetStep(id string) *domain.Step {
	return g.Steps[id]
}

// StepFor возвращает шаг, материализующий ассет key.
// Nil для source-ассетов и неизвестных ключей.
func (g *Graph) StepFor(key domain.AssetKey) *domain.Step {
	node := g.Nodes[key]
	if node == nil || node.StepID == "" {
		return nil
	}
	return g.Steps[node.StepID]
}

// HasNode возвращает true, если ключ объявлен в графе.
func (g *Graph) HasNode(key domain.AssetKey) bool {
	_, ok := g.Nodes[key]
	return ok
}

// DependentsOf возвращает ключи прямых downstream-зависимых ассета.
func (g *Graph) DependentsOf(key domain.AssetKey) []domain.AssetKey {
	return g.Dependents[key]
}

// GroupKeys возвращает отсортированные ключи всех ассетов группы.
func (g *Graph) GroupKeys(group string) []domain.AssetKey {
	var keys []domain.AssetKey
	for k, node := range g.Nodes {
		if node.Group == group {
			keys = append(keys, k)
		}
	}
	return domain.SortKeys(keys)
}

// Groups возвращает отсортированные имена всех групп графа.
func (g *Graph) Groups() []string {
	seen := make(map[string]bool)
	for _, node := range g.Nodes {
		seen[node.Group] = true
	}
	groups := make([]string, 0, len(seen))
	for name := range seen {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	return groups
}

// SourceKeys возвращает отсортированные ключи source-ассетов графа.
func (g *Graph) SourceKeys() []domain.AssetKey {
	var keys []domain.AssetKey
	for k, node := range g.Nodes {
		if node.IsSource {
			keys = append(keys, k)
		}
	}
	return domain.SortKeys(keys)
}
