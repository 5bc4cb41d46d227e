// Package iomanager содержит контракт хранилища значений ассетов и его
// встроенные реализации: memory, fs и badger.
//
// Движок никогда не заглядывает внутрь значения: для планировщика это
// непрозрачный payload. Какое значение лежит за ключом source-ассета —
// забота внешнего состояния бэкенда, движок не выполняет для него шагов.
package iomanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Materia/internal/domain"
)

// ErrNotFound — для ключа нет сохранённого значения.
var ErrNotFound = errors.New("no stored value for asset")

// Manager — контракт хранилища значений ассетов.
//
// Две операции, полиморфные по бэкенду. Ошибка Store или Load — ошибка
// одного вызова шага и его downstream-замыкания, не всего run.
type Manager interface {
	// Store сохраняет значение ассета под ключом.
	Store(ctx context.Context, key domain.AssetKey, value any, metadata map[string]any) error

	// Load возвращает последнее сохранённое значение ключа.
	// Для отсутствующего значения ошибка оборачивает ErrNotFound.
	Load(ctx context.Context, key domain.AssetKey) (any, error)
}

// StoreError — ошибка записи значения ассета.
type StoreError struct {
	Key domain.AssetKey
	Err error
}

// Error реализует интерфейс error.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Key.String(), e.Err)
}

// Unwrap возвращает причину ошибки.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// LoadError — ошибка чтения значения ассета.
type LoadError struct {
	Key domain.AssetKey
	Err error
}

// Error реализует интерфейс error.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Key.String(), e.Err)
}

// Unwrap возвращает причину ошибки.
func (e *LoadError) Unwrap() error {
	return e.Err
}
