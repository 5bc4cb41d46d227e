package iomanager

import (
	"context"
	"sync"

	"github.com/shaiso/Materia/internal/domain"
)

// Memory — хранилище значений в памяти процесса.
//
// Бэкенд по умолчанию для встраивания движка и тестов. Значения живут
// до конца процесса; повторный Store замещает предыдущее значение ключа.
type Memory struct {
	mu     sync.RWMutex
	values map[domain.AssetKey]any
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[domain.AssetKey]any),
	}
}

// Store сохраняет значение ассета под ключом.
func (m *Memory) Store(ctx context.Context, key domain.AssetKey, value any, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Key: key, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Load возвращает последнее сохранённое значение ключа.
func (m *Memory) Load(ctx context.Context, key domain.AssetKey) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Key: key, Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, &LoadError{Key: key, Err: ErrNotFound}
	}
	return v, nil
}

// Seed записывает значение source-ассета напрямую, без события
// материализации. Внешнее состояние для тестов и локальных запусков.
func (m *Memory) Seed(key domain.AssetKey, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Keys возвращает отсортированные ключи с сохранёнными значениями.
func (m *Memory) Keys() []domain.AssetKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]domain.AssetKey, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return domain.SortKeys(keys)
}
