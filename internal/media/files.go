// files.go — операции с физическими медиафайлами на диске.
package media

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeFile атомарно записывает содержимое медиафайла.
//
// Паттерн: temp файл с uuid-суффиксом → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func writeFile(dir, fname string, data []byte) error {
	fullPath := filepath.Join(dir, fname)
	tmpPath := fullPath + ".tmp-" + uuid.NewString()

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readFile читает медиафайл целиком. Отсутствие файла — не ошибка:
// возвращается (nil, nil), решение принимает вызывающий код.
func readFile(dir, fname string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, fname))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", fname, err)
	}
	return data, nil
}

// removeFile удаляет медиафайл с диска, если он существует.
func removeFile(dir, fname string) error {
	err := os.Remove(filepath.Join(dir, fname))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", fname, err)
	}
	return nil
}

// checksum возвращает шестнадцатеричный SHA-1 содержимого.
// Алгоритм зафиксирован протоколом: клиенты сверяют именно SHA-1.
func checksum(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
