package domain

// DeclarationSet — финализированный набор деклараций ассетов и шагов.
//
// Это входной формат движка: декларации приходят от внешнего механизма
// (API, файл, встраивающий код) уже в структурном виде — движок не
// разбирает никакой текстовой нотации. Набор неизменяем: повторная
// публикация даёт новую версию графа, а не мутацию существующего.
type DeclarationSet struct {
	// Name — имя графа (например, "analytics", "ingest-pipeline").
	Name string `json:"name,omitempty"`

	// Sources — декларации source-ассетов (значение поставляется извне).
	Sources []SourceDecl `json:"sources,omitempty"`

	// Steps — декларации шагов; их выходы объявляют вычисляемые ассеты.
	Steps []StepDecl `json:"steps"`
}

// SourceDecl — декларация source-ассета.
type SourceDecl struct {
	// Key — ключ ассета в канонической форме ("a/b/c").
	Key AssetKey `json:"key"`

	// Group — группа ассета (DefaultGroup, если пусто).
	Group string `json:"group,omitempty"`

	// Metadata — статические метаданные декларации.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StepDecl — декларация шага вычисления.
type StepDecl struct {
	// ID — уникальный идентификатор шага в наборе.
	ID string `json:"id"`

	// Kind — тип вычисления из реестра compute.
	Kind string `json:"kind"`

	// Config — конфигурация вычисления (валидируется против схемы Kind).
	Config map[string]any `json:"config,omitempty"`

	// Subsettable — разрешено ли частичное выполнение шага.
	Subsettable bool `json:"subsettable,omitempty"`

	// Inputs — входы шага. Key пустой — привязка по совпадению Name
	// с последним сегментом ключа upstream-ассета.
	Inputs []InputDecl `json:"inputs,omitempty"`

	// Outputs — выходные слоты; каждый объявляет вычисляемый ассет.
	Outputs []OutputDecl `json:"outputs"`

	// InternalDeps — имя выходного слота → имена входов, питающих его.
	// Отсутствие записи — «все входы питают все выходы».
	InternalDeps map[string][]string `json:"internal_deps,omitempty"`

	// Retry — политика повторных попыток шага.
	Retry *RetryPolicy `json:"retry,omitempty"`
}

// InputDecl — декларация входа шага.
type InputDecl struct {
	// Name — имя параметра вычисления.
	Name string `json:"name"`

	// Key — явный ключ upstream-ассета. Пустой ключ означает привязку
	// по имени: Name должен совпасть с последним сегментом ровно одного
	// ассета графа.
	Key AssetKey `json:"key,omitzero"`

	// Kind — тип зависимости. Пустое значение трактуется как loaded.
	Kind EdgeKind `json:"kind,omitempty"`
}

// OutputDecl — декларация выходного слота шага.
type OutputDecl struct {
	// Name — имя слота. Пустое — последний сегмент Key.
	Name string `json:"name,omitempty"`

	// Key — ключ вычисляемого ассета.
	Key AssetKey `json:"key"`

	// Required — обязан ли шаг произвести слот. По умолчанию false:
	// вычисление может сознательно отказаться от выпуска значения.
	Required bool `json:"required,omitempty"`

	// CodeVersion — версия кода вычисления для этого ассета.
	CodeVersion string `json:"code_version,omitempty"`

	// Group — группа ассета (DefaultGroup, если пусто).
	Group string `json:"group,omitempty"`

	// Metadata — статические метаданные декларации.
	Metadata map[string]any `json:"metadata,omitempty"`
}
