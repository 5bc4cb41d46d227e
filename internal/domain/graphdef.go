package domain

import (
	"time"

	"github.com/google/uuid"
)

// GraphDef — именованное определение графа ассетов.
//
// Сами декларации живут в версиях (GraphVersion): каждая загрузка нового
// набора создаёт следующую версию, прежние остаются неизменными. Runs
// ссылаются на конкретную версию, поэтому история выполнения читается
// против того набора деклараций, по которому она происходила.
type GraphDef struct {
	// ID — уникальный идентификатор определения.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя графа.
	Name string `json:"name"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewGraphDef создаёт определение графа.
func NewGraphDef(name string) *GraphDef {
	return &GraphDef{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// GraphVersion — одна версия набора деклараций графа.
type GraphVersion struct {
	// GraphID — определение, к которому относится версия.
	GraphID uuid.UUID `json:"graph_id"`

	// Version — номер версии, монотонно растёт с единицы.
	Version int `json:"version"`

	// Declarations — набор деклараций этой версии.
	Declarations DeclarationSet `json:"declarations"`

	// CreatedAt — время загрузки версии.
	CreatedAt time.Time `json:"created_at"`
}
