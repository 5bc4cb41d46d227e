package compute

import (
	"fmt"
	"sort"
	"sync"
)

// Registry — потокобезопасный реестр типов вычислений.
//
// Движок обращается к реестру дважды: при резолве графа для проверки
// типов и конфигов шагов и при выполнении для получения обработчика.
// Пользовательские типы регистрируются до резолва.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными типами вычислений.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewConstantHandler())
	r.Register(NewHTTPFetchHandler())
	r.Register(NewTransformHandler())
	r.Register(NewPassthroughHandler())
	return r
}

// Register регистрирует обработчик типа вычисления.
// Повторная регистрация замещает предыдущий обработчик.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Get возвращает обработчик по имени типа.
func (r *Registry) Get(kind string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindNotFound, kind)
	}
	return h, nil
}

// Known сообщает, зарегистрирован ли тип вычисления.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[kind]
	return ok
}

// ValidateConfig проверяет конфиг шага схемой его типа.
func (r *Registry) ValidateConfig(kind string, config map[string]any) error {
	h, err := r.Get(kind)
	if err != nil {
		return err
	}
	return h.Schema().Validate(config)
}

// Kinds возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
