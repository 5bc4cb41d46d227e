package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaterializationEvent — неизменяемая запись об успешной материализации
// ассета.
//
// События создаются движком выполнения (или внешним отчётом для
// source-ассетов) и никогда не изменяются и не удаляются. Лог событий
// append-only; последнее событие по ключу — «текущая материализация».
type MaterializationEvent struct {
	// ID — уникальный идентификатор события.
	ID uuid.UUID `json:"id"`

	// Key — ключ материализованного ассета.
	Key AssetKey `json:"key"`

	// RunID — run, породивший событие.
	// uuid.Nil для событий, зарегистрированных внешним отчётом.
	RunID uuid.UUID `json:"run_id"`

	// Seq — монотонный порядковый номер в логе. Присваивается логом
	// при записи; до записи равен нулю.
	Seq int64 `json:"seq,omitempty"`

	// CodeVersion — версия кода, действовавшая при материализации.
	CodeVersion string `json:"code_version,omitempty"`

	// Metadata — открытый набор метаданных события.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp — время материализации.
	Timestamp time.Time `json:"timestamp"`
}

// NewMaterializationEvent создаёт событие материализации.
func NewMaterializationEvent(key AssetKey, runID uuid.UUID, codeVersion string, metadata map[string]any) *MaterializationEvent {
	return &MaterializationEvent{
		ID:          uuid.New(),
		Key:         key,
		RunID:       runID,
		CodeVersion: codeVersion,
		Metadata:    metadata,
		Timestamp:   time.Now().UTC(),
	}
}

// IsExternal возвращает true для события, зарегистрированного внешним
// отчётом (вне какого-либо run).
func (e *MaterializationEvent) IsExternal() bool {
	return e.RunID == uuid.Nil
}
