// zip.go — архивы передачи медиафайлов.
//
// Обе стороны обмениваются zip-архивами со служебной записью "_meta".
// При загрузке на сервер _meta — JSON-массив пар [имя, идентификатор];
// идентификатор null или "" помечает имя на удаление, непустой —
// ссылается на запись архива с данными файла. При отдаче клиенту
// _meta — JSON-объект идентификатор→имя.
package media

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// metaName — имя служебной записи архива.
const metaName = "_meta"

// manifestEntry — пара манифеста загрузки.
type manifestEntry struct {
	// Fname — настоящее имя медиафайла
	Fname string
	// TransferID — идентификатор записи архива; nil или "" = удаление
	TransferID *string
}

// UnmarshalJSON разбирает позиционную пару [имя, идентификатор|null].
func (e *manifestEntry) UnmarshalJSON(data []byte) error {
	var arr [2]json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if err := json.Unmarshal(arr[0], &e.Fname); err != nil {
		return err
	}
	if string(arr[1]) != "null" {
		var id string
		if err := json.Unmarshal(arr[1], &id); err != nil {
			return err
		}
		e.TransferID = &id
	}
	return nil
}

// uploadArchive — разобранный архив загрузки.
type uploadArchive struct {
	// adds — идентификатор записи архива → настоящее имя файла
	adds map[string]string
	// deletes — имена, помеченные на удаление
	deletes []string

	zr *zip.Reader
}

// parseUploadArchive читает манифест архива загрузки и разделяет его
// на добавления и удаления.
func parseUploadArchive(data []byte) (*uploadArchive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия архива загрузки: %w", err)
	}

	meta, err := zr.Open(metaName)
	if err != nil {
		return nil, fmt.Errorf("в архиве загрузки нет записи %s: %w", metaName, err)
	}
	metaData, err := io.ReadAll(meta)
	meta.Close()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения манифеста: %w", err)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(metaData, &entries); err != nil {
		return nil, fmt.Errorf("ошибка разбора манифеста: %w", err)
	}

	arch := &uploadArchive{
		adds: make(map[string]string),
		zr:   zr,
	}
	for _, e := range entries {
		if e.TransferID == nil || *e.TransferID == "" {
			arch.deletes = append(arch.deletes, e.Fname)
			continue
		}
		arch.adds[*e.TransferID] = e.Fname
	}
	return arch, nil
}

// payload — одна запись архива с данными файла.
type payload struct {
	// fname — настоящее имя из манифеста
	fname string
	// data — содержимое файла
	data []byte
}

// payloads читает все записи архива с данными в порядке следования.
// Запись, не объявленная в манифесте, — нарушение протокола.
func (a *uploadArchive) payloads() ([]payload, error) {
	var out []payload
	for _, f := range a.zr.File {
		if f.Name == metaName {
			continue
		}
		fname, ok := a.adds[f.Name]
		if !ok {
			return nil, fmt.Errorf("запись %q отсутствует в манифесте архива", f.Name)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия записи %q: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения записи %q: %w", f.Name, err)
		}

		out = append(out, payload{fname: fname, data: data})
	}
	return out, nil
}

// archiveBuilder собирает архив отдачи: записи нумеруются по порядку
// добавления, манифест пишется последним.
type archiveBuilder struct {
	buf      bytes.Buffer
	zw       *zip.Writer
	manifest map[string]string
	next     int
}

func newArchiveBuilder() *archiveBuilder {
	b := &archiveBuilder{manifest: make(map[string]string)}
	b.zw = zip.NewWriter(&b.buf)
	return b
}

// add записывает содержимое файла под очередным идентификатором.
func (b *archiveBuilder) add(fname string, data []byte) error {
	id := strconv.Itoa(b.next)
	w, err := b.zw.Create(id)
	if err != nil {
		return fmt.Errorf("ошибка создания записи архива: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("ошибка записи в архив: %w", err)
	}
	b.manifest[id] = fname
	b.next++
	return nil
}

// finish дописывает манифест и возвращает готовый архив.
func (b *archiveBuilder) finish() ([]byte, error) {
	meta, err := json.Marshal(b.manifest)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации манифеста: %w", err)
	}
	w, err := b.zw.Create(metaName)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания манифеста: %w", err)
	}
	if _, err := w.Write(meta); err != nil {
		return nil, fmt.Errorf("ошибка записи манифеста: %w", err)
	}
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("ошибка завершения архива: %w", err)
	}
	return b.buf.Bytes(), nil
}
