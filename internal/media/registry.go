// registry.go — реестр движков медиафайлов по пользователям.
package media

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry кэширует по одному Manager на пользователя: открытие индекса
// на каждый запрос было бы расточительным, а два Manager одного
// пользователя нарушили бы сериализацию выдачи usn.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
	logger   *slog.Logger
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
		logger:   logger,
	}
}

// ForUser возвращает движок пользователя, открывая его при первом
// обращении.
func (r *Registry) ForUser(username, userDir string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[username]; ok {
		return m, nil
	}

	m, err := NewManager(userDir, username, r.logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия медиафайлов пользователя %s: %w", username, err)
	}
	r.managers[username] = m
	return m, nil
}

// Close закрывает все открытые движки.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, m := range r.managers {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.managers, name)
	}
	return firstErr
}
