// store.go — персистентное хранилище сессий поверх SQLite с LRU-кэшем.
package session

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound — сессия с указанным ключом не найдена.
var ErrNotFound = errors.New("сессия не найдена")

// Store — хранилище сессий. Сессии переживают перезапуск сервера:
// записи хранятся в SQLite, два LRU-кэша (по ключу аутентификации и
// по ключу сессии) снимают нагрузку с базы на горячем пути.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	byHost *lru.Cache[string, *Session]
	bySKey *lru.Cache[string, *Session]
	logger *slog.Logger
}

// NewStore открывает базу сессий, применяет миграции и создаёт кэши.
func NewStore(path string, cacheSize int, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы сессий: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	byHost, err := lru.New[string, *Session](cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания кэша сессий: %w", err)
	}
	bySKey, err := lru.New[string, *Session](cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания кэша сессий: %w", err)
	}

	return &Store{
		db:     db,
		byHost: byHost,
		bySKey: bySKey,
		logger: logger.With(slog.String("component", "session")),
	}, nil
}

// applyMigrations применяет SQL-миграции из встроенной файловой системы.
func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("ошибка инициализации драйвера миграций: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}
	return nil
}

// Save записывает сессию в базу и оба кэша. Повторная запись по тому же
// ключу аутентификации замещает прежнюю сессию.
func (s *Store) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO session (hkey, skey, username, path) VALUES (?, ?, ?, ?)`,
		sess.HostKey, sess.SessionKey, sess.Username, sess.Path,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения сессии: %w", err)
	}

	s.byHost.Add(sess.HostKey, sess)
	s.bySKey.Add(sess.SessionKey, sess)

	s.logger.Debug("сессия сохранена",
		slog.String("username", sess.Username))
	return nil
}

// ByHostKey находит сессию по ключу аутентификации.
func (s *Store) ByHostKey(hkey string) (*Session, error) {
	if sess, ok := s.byHost.Get(hkey); ok {
		return sess, nil
	}
	return s.load(`SELECT hkey, skey, username, path FROM session WHERE hkey = ?`, hkey)
}

// BySessionKey находит сессию по ключу сессии.
func (s *Store) BySessionKey(skey string) (*Session, error) {
	if sess, ok := s.bySKey.Get(skey); ok {
		return sess, nil
	}
	return s.load(`SELECT hkey, skey, username, path FROM session WHERE skey = ?`, skey)
}

// load читает одну сессию из базы и прогревает кэши.
func (s *Store) load(query, key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{}
	err := s.db.QueryRow(query, key).
		Scan(&sess.HostKey, &sess.SessionKey, &sess.Username, &sess.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сессии: %w", err)
	}

	s.byHost.Add(sess.HostKey, sess)
	s.bySKey.Add(sess.SessionKey, sess)
	return sess, nil
}

// Close закрывает базу сессий.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия базы сессий: %w", err)
	}
	return nil
}
