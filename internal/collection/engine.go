// Пакет collection — шов к внешнему движку коллекций.
//
// Структурированная синхронизация (meta, start, chunk и далее)
// выполняется движком коллекций — внешним компонентом со своим
// хранилищем. Сервер отвечает только за то, какая коллекция открыта
// (см. Manager): движок однописательный, и процесс держит не более
// одной открытой коллекции одновременно.
package collection

import "errors"

// ErrEngineUnavailable — движок коллекций не подключён к сборке.
var ErrEngineUnavailable = errors.New("движок коллекций недоступен")

// Engine открывает коллекции по пути.
type Engine interface {
	// Open открывает коллекцию в каталоге пользователя.
	Open(path string) (Handle, error)
}

// Handle — открытая коллекция одного пользователя.
type Handle interface {
	// Request выполняет операцию структурированной синхронизации над
	// JSON-нагрузкой и возвращает JSON-ответ.
	Request(method string, data []byte) ([]byte, error)
	// Path возвращает путь файла коллекции.
	Path() string
	// Close закрывает коллекцию.
	Close() error
}

// Unimplemented — заглушка движка: любые обращения возвращают
// ErrEngineUnavailable. Используется, пока движок не подключён.
type Unimplemented struct{}

// Open реализует Engine.
func (Unimplemented) Open(string) (Handle, error) {
	return nil, ErrEngineUnavailable
}
