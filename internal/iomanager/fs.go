package iomanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shaiso/Materia/internal/domain"
)

// FS — хранилище значений в файлах: один JSON-файл на ключ.
//
// Сегменты ключа становятся каталогами, последний сегмент — именем
// файла: warehouse/daily/users → <root>/warehouse/daily/users.json.
// Значения проходят JSON-кодирование, поэтому после чтения числа
// приходят как float64, объекты — как map[string]any.
type FS struct {
	root string
}

// storedValue — дисковый формат значения ассета.
type storedValue struct {
	Value    any            `json:"value"`
	Metadata map[string]any `json:"metadata,omitempty"`
	StoredAt time.Time      `json:"stored_at"`
}

// NewFS создаёт файловое хранилище в каталоге root.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("fs io manager: root directory is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("fs io manager: create root %s: %w", root, err)
	}
	return &FS{root: root}, nil
}

// Root возвращает корневой каталог хранилища.
func (f *FS) Root() string {
	return f.root
}

// Store сохраняет значение ассета в файл ключа.
func (f *FS) Store(ctx context.Context, key domain.AssetKey, value any, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Key: key, Err: err}
	}

	data, err := json.Marshal(storedValue{
		Value:    value,
		Metadata: metadata,
		StoredAt: time.Now().UTC(),
	})
	if err != nil {
		return &StoreError{Key: key, Err: err}
	}

	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return &StoreError{Key: key, Err: err}
	}

	// Запись во временный файл и rename: читатель никогда не видит
	// недописанное значение.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return &StoreError{Key: key, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &StoreError{Key: key, Err: err}
	}
	return nil
}

// Load возвращает последнее сохранённое значение ключа.
func (f *FS) Load(ctx context.Context, key domain.AssetKey) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Key: key, Err: err}
	}

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Key: key, Err: ErrNotFound}
		}
		return nil, &LoadError{Key: key, Err: err}
	}

	var stored storedValue
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, &LoadError{Key: key, Err: err}
	}
	return stored.Value, nil
}

// path возвращает путь файла значения для ключа.
func (f *FS) path(key domain.AssetKey) string {
	parts := append([]string{f.root}, key.Segments()...)
	return filepath.Join(parts...) + ".json"
}
