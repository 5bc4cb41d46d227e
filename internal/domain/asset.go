package domain

// DefaultGroup — группа, назначаемая ассетам без явно указанной группы.
const DefaultGroup = "default"

// EdgeKind — тип зависимости между ассетами.
type EdgeKind string

const (
	// EdgeExplicit — зависимость только по порядку выполнения:
	// upstream должен завершиться, но его значение в вычисление не передаётся.
	EdgeExplicit EdgeKind = "explicit"

	// EdgeLoaded — значение upstream загружается через I/O manager
	// и передаётся в вычисление.
	EdgeLoaded EdgeKind = "loaded"
)

// Valid проверяет, что тип зависимости известен.
func (k EdgeKind) Valid() bool {
	return k == EdgeExplicit || k == EdgeLoaded
}

// DependencyEdge — ребро от ассета к его upstream-зависимости.
type DependencyEdge struct {
	// Upstream — ключ ассета, от которого зависим.
	Upstream AssetKey `json:"upstream"`

	// Kind — тип зависимости.
	Kind EdgeKind `json:"kind"`
}

// AssetNode — один объявленный ассет в разрешённом графе.
//
// Узлы создаются резолвером при загрузке declaration set и не изменяются
// в течение жизни графа: новый набор деклараций даёт новый граф.
type AssetNode struct {
	// Key — уникальный ключ ассета в графе.
	Key AssetKey `json:"key"`

	// Deps — upstream-зависимости ассета.
	Deps []DependencyEdge `json:"deps,omitempty"`

	// CodeVersion — версия кода вычисления, объявленная для ассета.
	// Пустая строка — версия не объявлена.
	CodeVersion string `json:"code_version,omitempty"`

	// Group — имя группы ассета (DefaultGroup, если не указана).
	Group string `json:"group"`

	// IsSource — source-ассет: вычисления нет, значение поставляется извне.
	IsSource bool `json:"is_source,omitempty"`

	// StepID — шаг, который материализует ассет.
	// Пустой для source-ассетов.
	StepID string `json:"step_id,omitempty"`

	// Metadata — статические метаданные декларации.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DependsOn возвращает true, если у узла есть прямая зависимость от key.
func (n *AssetNode) DependsOn(key AssetKey) bool {
	for _, d := range n.Deps {
		if d.Upstream == key {
			return true
		}
	}
	return false
}
