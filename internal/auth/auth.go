// Пакет auth — учётные записи пользователей синхронизации.
//
// Хранилище намеренно простое: таблица auth(username, hash). Хэш —
// шестнадцатеричный SHA-256 от конкатенации имени, пароля и соли, к
// которому дописана сама соль (шестнадцать шестнадцатеричных символов).
// Формат совместим с существующими базами: солью считаются последние
// шестнадцать символов значения.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// saltLen — длина соли в шестнадцатеричных символах.
const saltLen = 16

// Ошибки хранилища учётных записей.
var (
	// ErrBadCredentials — имя или пароль не подошли.
	ErrBadCredentials = errors.New("неверное имя пользователя или пароль")
	// ErrUserExists — пользователь с таким именем уже есть.
	ErrUserExists = errors.New("пользователь уже существует")
	// ErrUserNotFound — пользователь не найден.
	ErrUserNotFound = errors.New("пользователь не найден")
)

// Store — хранилище учётных записей поверх SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore открывает базу учётных записей и применяет миграции.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы учётных записей: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "auth")),
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

// Authenticate проверяет пару имя/пароль. Сравнение хэшей выполняется
// за постоянное время.
func (s *Store) Authenticate(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored string
	err := s.db.QueryRow(`SELECT hash FROM auth WHERE username = ?`, username).
		Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBadCredentials
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения учётной записи: %w", err)
	}
	if len(stored) <= saltLen {
		return fmt.Errorf("повреждённый хэш пользователя %q", username)
	}

	salt := stored[len(stored)-saltLen:]
	if subtle.ConstantTimeCompare([]byte(hashPassword(username, password, salt)), []byte(stored)) != 1 {
		return ErrBadCredentials
	}
	return nil
}

// AddUser создаёт учётную запись.
func (s *Store) AddUser(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM auth WHERE username = ?`, username).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка проверки учётной записи: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	hash, err := newHash(username, password)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO auth (username, hash) VALUES (?, ?)`,
		username, hash); err != nil {
		return fmt.Errorf("ошибка создания учётной записи: %w", err)
	}

	s.logger.Info("учётная запись создана", slog.String("username", username))
	return nil
}

// DelUser удаляет учётную запись.
func (s *Store) DelUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM auth WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("ошибка удаления учётной записи: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка удаления учётной записи: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	s.logger.Info("учётная запись удалена", slog.String("username", username))
	return nil
}

// SetPassword меняет пароль существующего пользователя.
func (s *Store) SetPassword(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, err := newHash(username, password)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE auth SET hash = ? WHERE username = ?`,
		hash, username)
	if err != nil {
		return fmt.Errorf("ошибка смены пароля: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка смены пароля: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	s.logger.Info("пароль изменён", slog.String("username", username))
	return nil
}

// ListUsers возвращает имена всех пользователей в алфавитном порядке.
func (s *Store) ListUsers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT username FROM auth ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка пользователей: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка чтения списка пользователей: %w", err)
		}
		users = append(users, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения списка пользователей: %w", err)
	}
	return users, nil
}

// EnsureUser создаёт учётную запись, если её ещё нет. Используется для
// учётной записи по умолчанию из переменных окружения.
func (s *Store) EnsureUser(username, password string) error {
	err := s.AddUser(username, password)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}

// Close закрывает базу учётных записей.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия базы учётных записей: %w", err)
	}
	return nil
}

// newHash возвращает хэш пароля со свежей солью.
func newHash(username, password string) (string, error) {
	saltBytes := make([]byte, saltLen/2)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	salt := fmt.Sprintf("%x", saltBytes)
	return hashPassword(username, password, salt), nil
}

// hashPassword вычисляет хранимое значение для заданной соли.
func hashPassword(username, password, salt string) string {
	sum := sha256.Sum256([]byte(username + password + salt))
	return fmt.Sprintf("%x%s", sum, salt)
}
