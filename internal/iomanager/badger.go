package iomanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/shaiso/Materia/internal/domain"
)

// BadgerConfig — конфигурация встроенного badger-хранилища.
type BadgerConfig struct {
	// Path — каталог файлов базы. Обязателен, если не InMemory.
	Path string

	// InMemory включает режим без диска. Для тестов.
	InMemory bool

	// SyncWrites включает синхронную запись на диск.
	SyncWrites bool

	// Logger — логгер для внутренних сообщений badger.
	// Nil отключает внутреннее логирование.
	Logger *slog.Logger
}

// Badger — персистентное встроенное хранилище значений на badger.
//
// Ключ ассета хранится в канонической форме, значение — в том же
// JSON-конверте, что и у файлового бэкенда.
type Badger struct {
	db *badger.DB
}

// badgerLogger адаптирует slog.Logger к интерфейсу логгера badger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadger открывает badger-хранилище с заданной конфигурацией.
// Вызывающий обязан закрыть хранилище через Close.
func NewBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger io manager: path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("badger io manager: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger io manager: open: %w", err)
	}
	return &Badger{db: db}, nil
}

// Store сохраняет значение ассета под ключом.
func (b *Badger) Store(ctx context.Context, key domain.AssetKey, value any, metadata map[string]any) error {
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

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), data)
	})
	if err != nil {
		return &StoreError{Key: key, Err: err}
	}
	return nil
}

// Load возвращает последнее сохранённое значение ключа.
func (b *Badger) Load(ctx context.Context, key domain.AssetKey) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Key: key, Err: err}
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
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

// Close закрывает базу.
func (b *Badger) Close() error {
	return b.db.Close()
}
