// Пакет media — движок синхронизации медиафайлов.
//
// Сервер сверяет набор медиафайлов клиента со своим, обмениваясь
// ограниченными по размеру пакетами. Состояние каждого пользователя —
// каталог collection.media и индекс collection.media.server.db рядом с
// ним. Удаление моделируется надгробием: запись остаётся в индексе с
// пустой контрольной суммой и свежим usn, чтобы другие клиенты узнали
// об удалении из очередного пакета изменений.
package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/arturkryukov/ankisyncd/internal/api/middleware"
)

const (
	// mediaDirName — каталог медиафайлов внутри каталога пользователя.
	mediaDirName = "collection.media"
	// indexDBName — файл индекса внутри каталога пользователя.
	indexDBName = "collection.media.server.db"

	// DefaultMaxArchiveBytes — суммарный бюджет архива отдачи (2.5 МиБ).
	// Превысив его, сервер обрывает архив: клиент дозапросит остаток.
	DefaultMaxArchiveBytes = 2621440
	// DefaultMaxFileBytes — бюджет одного файла (100 МиБ). Файлы
	// крупнее не передаются вовсе.
	DefaultMaxFileBytes = 100 * 1024 * 1024
)

// Manager — движок синхронизации медиафайлов одного пользователя.
// Все операции сериализованы мьютексом: usn выдаётся чтением максимума
// с инкрементом, и параллельные писатели выдали бы дубликаты.
type Manager struct {
	username string
	mediaDir string
	idx      *index

	mu sync.Mutex

	// normalized — политика пропуска проверки нормализации имён
	normalized NormalizedPredicate
	// maxArchive, maxFile — бюджеты архива отдачи
	maxArchive int
	maxFile    int

	logger *slog.Logger
}

// NewManager открывает состояние медиафайлов пользователя, создавая
// каталог и индекс при первом обращении.
func NewManager(userDir, username string, logger *slog.Logger) (*Manager, error) {
	mediaDir := filepath.Join(userDir, mediaDirName)
	if err := os.MkdirAll(mediaDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог медиафайлов %s: %w", mediaDir, err)
	}

	idx, err := openIndex(filepath.Join(userDir, indexDBName))
	if err != nil {
		return nil, err
	}

	return &Manager{
		username:   username,
		mediaDir:   mediaDir,
		idx:        idx,
		normalized: CheckAllNames,
		maxArchive: DefaultMaxArchiveBytes,
		maxFile:    DefaultMaxFileBytes,
		logger: logger.With(
			slog.String("component", "media"),
			slog.String("username", username),
		),
	}, nil
}

// LastUsn возвращает текущий последний usn пользователя.
func (m *Manager) LastUsn() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx.lastUsn()
}

// Changes возвращает записи, появившиеся после usn клиента, в порядке
// возрастания. Клиент, догнавший сервер, получает пустой пакет.
func (m *Manager) Changes(clientLastUsn int) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx.changesSince(clientLastUsn)
}

// UploadChanges применяет архив загрузки: добавления записываются на
// диск и в индекс, удаления превращаются в надгробия. Каждая затронутая
// запись потребляет один свежий usn. Возвращает число обработанных
// записей и usn после всего пакета.
func (m *Manager) UploadChanges(zipData []byte) (processed, lastUsn int, err error) {
	arch, err := parseUploadArchive(zipData)
	if err != nil {
		return 0, 0, err
	}
	payloads, err := arch.payloads()
	if err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	usn, err := m.idx.lastUsn()
	if err != nil {
		return 0, 0, err
	}

	for _, p := range payloads {
		// Клиент мог прислать ненормализованное имя: файл хранится
		// под нормализованным.
		fname := NormalizeFilename(p.fname)
		if err := writeFile(m.mediaDir, fname, p.data); err != nil {
			return 0, 0, err
		}
		usn++
		if err := m.idx.upsert(fname, usn, checksum(p.data)); err != nil {
			return 0, 0, err
		}
	}

	for _, fname := range arch.deletes {
		// Имя удаления проходит ту же нормализацию, что и имя
		// добавления: разделители пути вырезаются, поэтому запись вида
		// "../x" не выведет os.Remove за пределы каталога медиа.
		fname = NormalizeFilename(fname)
		if fname == "" {
			continue
		}
		if err := removeFile(m.mediaDir, fname); err != nil {
			return 0, 0, err
		}
		updated, err := m.idx.tombstone(fname, usn+1)
		if err != nil {
			return 0, 0, err
		}
		if updated {
			usn++
		}
	}

	processed = len(payloads) + len(arch.deletes)
	middleware.MediaFilesTransferredTotal.WithLabelValues("upload").Add(float64(len(payloads)))
	m.logger.Info("пакет изменений применён",
		slog.Int("added", len(payloads)),
		slog.Int("removed", len(arch.deletes)),
		slog.Int("last_usn", usn))
	return processed, usn, nil
}

// DownloadFiles собирает архив отдачи по списку имён с учётом бюджетов.
// Имя, за которым не оказалось пригодного файла (нет на диске, пустой,
// сверх бюджета, не проходит нормализацию), пропускается, а его запись
// удаляется из индекса: самовосстановление держит индекс согласованным
// с диском без отдельного прохода починки.
func (m *Manager) DownloadFiles(names []string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	builder := newArchiveBuilder()
	total := 0
	sent := 0

	for _, name := range names {
		if total > m.maxArchive {
			break
		}

		if !m.normalized(name) && NormalizeFilename(name) != name {
			if err := m.dropStale(name, "имя не нормализовано"); err != nil {
				return nil, err
			}
			continue
		}

		data, err := readFile(m.mediaDir, name)
		if err != nil {
			return nil, err
		}
		switch {
		case data == nil:
			err = m.dropStale(name, "файла нет на диске")
		case len(data) == 0:
			err = m.dropStale(name, "файл пуст")
		case len(data) > m.maxFile:
			err = m.dropStale(name, "файл сверх бюджета")
		default:
			total += len(data)
			sent++
			err = builder.add(name, data)
		}
		if err != nil {
			return nil, err
		}
	}

	middleware.MediaFilesTransferredTotal.WithLabelValues("download").Add(float64(sent))
	return builder.finish()
}

// dropStale удаляет негодную запись индекса.
func (m *Manager) dropStale(fname, reason string) error {
	m.logger.Warn("запись индекса удалена",
		slog.String("fname", fname),
		slog.String("reason", reason))
	return m.idx.remove(fname)
}

// SanityCheck сверяет число живых записей сервера с числом файлов
// клиента. Побочных эффектов нет: при расхождении клиент сам решает
// выполнить полную пересинхронизацию.
func (m *Manager) SanityCheck(localCount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.idx.count()
	if err != nil {
		return false, err
	}
	return n == localCount, nil
}

// Close закрывает индекс пользователя.
func (m *Manager) Close() error {
	return m.idx.close()
}
