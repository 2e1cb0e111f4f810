// db.go — индекс медиафайлов пользователя поверх SQLite.
package media

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// schema — схема индекса. Базы создаются по мере появления
// пользователей, поэтому схема применяется при каждом открытии.
// Формат совместим с существующими базами.
const schema = `
CREATE TABLE IF NOT EXISTS media (
    fname TEXT NOT NULL PRIMARY KEY,
    usn   INT  NOT NULL,
    csum  TEXT
);
CREATE INDEX IF NOT EXISTS idx_media_usn ON media (usn);
`

// Change — одна запись индекса в пакете изменений. На проводе
// сериализуется как JSON-массив [имя, usn, контрольная сумма];
// пустая сумма означает надгробие.
type Change struct {
	Fname string
	Usn   int
	Csum  string
}

// MarshalJSON сериализует запись в позиционный массив протокола.
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{c.Fname, c.Usn, c.Csum})
}

// UnmarshalJSON разбирает позиционный массив протокола.
func (c *Change) UnmarshalJSON(data []byte) error {
	arr := [3]any{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	fname, _ := arr[0].(string)
	usn, _ := arr[1].(float64)
	csum, _ := arr[2].(string)
	c.Fname = fname
	c.Usn = int(usn)
	c.Csum = csum
	return nil
}

// index — доступ к базе индекса одного пользователя.
type index struct {
	db *sql.DB
}

// openIndex открывает базу индекса и применяет схему.
func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия индекса медиафайлов: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка применения схемы индекса: %w", err)
	}
	return &index{db: db}, nil
}

// lastUsn возвращает максимальный usn индекса; 0, если записей нет.
func (ix *index) lastUsn() (int, error) {
	var usn sql.NullInt64
	err := ix.db.QueryRow(`SELECT MAX(usn) FROM media`).Scan(&usn)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения последнего usn: %w", err)
	}
	return int(usn.Int64), nil
}

// changesSince возвращает записи с usn строго больше заданного в порядке
// возрастания. Ровно покрывает разрыв между клиентом и сервером
// независимо от плотности значений usn.
func (ix *index) changesSince(usn int) ([]Change, error) {
	rows, err := ix.db.Query(
		`SELECT fname, usn, csum FROM media WHERE usn > ? ORDER BY usn`, usn)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пакета изменений: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var csum sql.NullString
		if err := rows.Scan(&c.Fname, &c.Usn, &csum); err != nil {
			return nil, fmt.Errorf("ошибка чтения пакета изменений: %w", err)
		}
		c.Csum = csum.String
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения пакета изменений: %w", err)
	}
	return changes, nil
}

// upsert записывает или замещает запись индекса.
func (ix *index) upsert(fname string, usn int, csum string) error {
	_, err := ix.db.Exec(
		`INSERT OR REPLACE INTO media (fname, usn, csum) VALUES (?, ?, ?)`,
		fname, usn, csum)
	if err != nil {
		return fmt.Errorf("ошибка записи индекса: %w", err)
	}
	return nil
}

// tombstone помечает существующую запись удалённой: сумма обнуляется,
// usn получает свежее значение, чтобы удаление попало в следующий пакет
// изменений. Неизвестное имя — no-op: записи создаются только
// добавлением файла, и сервер не подтверждает удаление того, чего у
// него не было. Возвращает, была ли запись затронута.
func (ix *index) tombstone(fname string, usn int) (bool, error) {
	res, err := ix.db.Exec(
		`UPDATE media SET csum = NULL, usn = ? WHERE fname = ?`,
		usn, fname)
	if err != nil {
		return false, fmt.Errorf("ошибка записи надгробия: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка записи надгробия: %w", err)
	}
	return n > 0, nil
}

// remove удаляет запись индекса безвозвратно. Используется только
// самовосстановлением при отдаче файлов.
func (ix *index) remove(fname string) error {
	_, err := ix.db.Exec(`DELETE FROM media WHERE fname = ?`, fname)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи индекса: %w", err)
	}
	return nil
}

// count возвращает число живых записей (надгробия не считаются).
func (ix *index) count() (int, error) {
	var n int
	err := ix.db.QueryRow(`SELECT COUNT(*) FROM media WHERE csum IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей индекса: %w", err)
	}
	return n, nil
}

// close закрывает базу индекса.
func (ix *index) close() error {
	if err := ix.db.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия индекса медиафайлов: %w", err)
	}
	return nil
}
