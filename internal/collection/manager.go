// manager.go — единственный процессный слот открытой коллекции.
package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName — имя файла коллекции в каталоге пользователя.
const FileName = "collection.anki2"

// Manager держит не более одной открытой коллекции на процесс.
// Переключение владельца закрывает текущую коллекцию и открывает
// другую; параллельные запросы разных пользователей будут
// перещёлкивать слот, а не работать одновременно. Это принятое
// ограничение однописательного движка, а не дефект.
type Manager struct {
	engine Engine

	mu     sync.Mutex
	owner  string
	handle Handle
}

// NewManager создаёт слот с заданным движком.
func NewManager(engine Engine) *Manager {
	return &Manager{engine: engine}
}

// needSwap решает, требуется ли перещёлкивание слота. Вынесено в
// чистую функцию: правило одно, и проверяется оно отдельно от
// открытия и закрытия.
func needSwap(currentOwner string, hasHandle bool, requested string) bool {
	return !hasHandle || currentOwner != requested
}

// EnsureFor гарантирует, что открытая коллекция принадлежит
// пользователю, перещёлкивая слот при несовпадении владельца.
// Вызывается перед первой операцией структурированной синхронизации
// раунда.
func (m *Manager) EnsureFor(username, userDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !needSwap(m.owner, m.handle != nil, username) {
		return nil
	}

	if m.handle != nil {
		if err := m.handle.Close(); err != nil {
			return fmt.Errorf("ошибка закрытия коллекции %s: %w", m.owner, err)
		}
		m.handle = nil
		m.owner = ""
	}

	handle, err := m.engine.Open(filepath.Join(userDir, FileName))
	if err != nil {
		return fmt.Errorf("ошибка открытия коллекции %s: %w", username, err)
	}
	m.handle = handle
	m.owner = username
	return nil
}

// Dispatch передаёт операцию открытой коллекции.
func (m *Manager) Dispatch(method string, data []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		return nil, ErrEngineUnavailable
	}
	return m.handle.Request(method, data)
}

// FullUpload принимает полную выгрузку коллекции: полезная нагрузка
// записывается во временный файл рядом с коллекцией, после чего движок
// перенимает её. Временный файл остаётся движку: он решает, валидна ли
// коллекция, прежде чем заместить текущую.
func (m *Manager) FullUpload(username, userDir string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tmpPath := filepath.Join(userDir, FileName+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return fmt.Errorf("ошибка записи выгрузки коллекции: %w", err)
	}

	if m.handle == nil || m.owner != username {
		return ErrEngineUnavailable
	}
	if _, err := m.handle.Request("upload", nil); err != nil {
		return err
	}
	return nil
}

// FullDownload отдаёт файл открытой коллекции целиком.
func (m *Manager) FullDownload(username string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil || m.owner != username {
		return nil, ErrEngineUnavailable
	}

	data, err := os.ReadFile(m.handle.Path())
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла коллекции: %w", err)
	}
	return data, nil
}

// Close закрывает слот.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil {
		return nil
	}
	err := m.handle.Close()
	m.handle = nil
	m.owner = ""
	if err != nil {
		return fmt.Errorf("ошибка закрытия коллекции: %w", err)
	}
	return nil
}
