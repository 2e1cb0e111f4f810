package media

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arturkryukov/ankisyncd/internal/api/middleware"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "alice", slog.Default())
	if err != nil {
		t.Fatalf("создание движка медиафайлов: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// buildUploadZip собирает архив загрузки: manifest — пары
// [имя, идентификатор|null], payloads — идентификатор → содержимое.
func buildUploadZip(t *testing.T, manifest [][2]any, payloads map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	meta, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("сериализация манифеста: %v", err)
	}
	w, err := zw.Create("_meta")
	if err != nil {
		t.Fatalf("создание _meta: %v", err)
	}
	if _, err := w.Write(meta); err != nil {
		t.Fatalf("запись _meta: %v", err)
	}

	for id, data := range payloads {
		w, err := zw.Create(id)
		if err != nil {
			t.Fatalf("создание записи %s: %v", id, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("запись %s: %v", id, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("завершение архива: %v", err)
	}
	return buf.Bytes()
}

// readDownloadZip разбирает архив отдачи: манифест и содержимое записей.
func readDownloadZip(t *testing.T, data []byte) (map[string]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("открытие архива отдачи: %v", err)
	}

	manifest := map[string]string{}
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("открытие записи %s: %v", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			t.Fatalf("чтение записи %s: %v", f.Name, err)
		}
		rc.Close()

		if f.Name == "_meta" {
			if err := json.Unmarshal(buf.Bytes(), &manifest); err != nil {
				t.Fatalf("разбор манифеста: %v", err)
			}
			continue
		}
		files[f.Name] = buf.Bytes()
	}
	return manifest, files
}

func TestUploadThenTombstoneScenario(t *testing.T) {
	m := newTestManager(t)
	content := []byte("картинка")

	// Добавление одного файла.
	processed, lastUsn, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", "0"}},
		map[string][]byte{"0": content},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}
	if processed != 1 || lastUsn != 1 {
		t.Errorf("ожидалось (1, 1), получено (%d, %d)", processed, lastUsn)
	}

	changes, err := m.Changes(0)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("ожидалась одна запись, получено %d", len(changes))
	}
	if changes[0].Fname != "a.jpg" || changes[0].Usn != 1 ||
		changes[0].Csum != checksum(content) {
		t.Errorf("неожиданная запись: %+v", changes[0])
	}

	if _, err := os.Stat(filepath.Join(m.mediaDir, "a.jpg")); err != nil {
		t.Errorf("файл не записан на диск: %v", err)
	}

	// Удаление того же файла.
	processed, lastUsn, err = m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", nil}},
		nil,
	))
	if err != nil {
		t.Fatalf("применение пакета удаления: %v", err)
	}
	if processed != 1 || lastUsn != 2 {
		t.Errorf("ожидалось (1, 2), получено (%d, %d)", processed, lastUsn)
	}

	// Надгробие видно в пакете изменений, но не в счётчике.
	changes, err = m.Changes(1)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 1 || changes[0].Csum != "" || changes[0].Usn != 2 {
		t.Errorf("ожидалось надгробие с usn=2, получено %+v", changes)
	}

	ok, err := m.SanityCheck(0)
	if err != nil {
		t.Fatalf("проверка целостности: %v", err)
	}
	if !ok {
		t.Error("надгробие попало в счётчик живых записей")
	}

	if _, err := os.Stat(filepath.Join(m.mediaDir, "a.jpg")); !os.IsNotExist(err) {
		t.Error("файл не удалён с диска")
	}
}

func TestUploadDeletionStaysInMediaDir(t *testing.T) {
	userDir := t.TempDir()
	m, err := NewManager(userDir, "alice", slog.Default())
	if err != nil {
		t.Fatalf("создание движка медиафайлов: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	// Файл за пределами каталога медиафайлов.
	outside := filepath.Join(userDir, "escape.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o640); err != nil {
		t.Fatalf("подготовка файла: %v", err)
	}

	processed, lastUsn, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"../escape.txt", nil}},
		nil,
	))
	if err != nil {
		t.Fatalf("применение пакета удаления: %v", err)
	}
	if processed != 1 || lastUsn != 0 {
		t.Errorf("ожидалось (1, 0), получено (%d, %d)", processed, lastUsn)
	}

	if _, err := os.Stat(outside); err != nil {
		t.Errorf("удаление вышло за пределы каталога медиафайлов: %v", err)
	}

	// Индекс не узнал ни о каком "../escape.txt".
	changes, err := m.Changes(0)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("удаление неизвестного имени породило записи: %+v", changes)
	}
}

func TestUploadDeletionUnknownNameIsNoop(t *testing.T) {
	m := newTestManager(t)

	processed, lastUsn, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"ghost.jpg", nil}},
		nil,
	))
	if err != nil {
		t.Fatalf("применение пакета удаления: %v", err)
	}
	// Запись сервера не создаётся, usn не расходуется.
	if processed != 1 || lastUsn != 0 {
		t.Errorf("ожидалось (1, 0), получено (%d, %d)", processed, lastUsn)
	}

	changes, err := m.Changes(0)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("надгробие появилось для несуществующей записи: %+v", changes)
	}
}

func TestUploadDeletionNormalizesName(t *testing.T) {
	m := newTestManager(t)

	// "é" в разложенной форме: e + combining acute.
	decomposed := "café.jpg"
	composed := "café.jpg"

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{composed, "0"}},
		map[string][]byte{"0": []byte("x")},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}

	// Удаление под ненормализованным именем находит ту же запись.
	processed, lastUsn, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{decomposed, nil}},
		nil,
	))
	if err != nil {
		t.Fatalf("применение пакета удаления: %v", err)
	}
	if processed != 1 || lastUsn != 2 {
		t.Errorf("ожидалось (1, 2), получено (%d, %d)", processed, lastUsn)
	}

	changes, err := m.Changes(1)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 1 || changes[0].Fname != composed || changes[0].Csum != "" {
		t.Errorf("ожидалось надгробие %q, получено %+v", composed, changes)
	}
	if _, err := os.Stat(filepath.Join(m.mediaDir, composed)); !os.IsNotExist(err) {
		t.Error("файл не удалён с диска")
	}
}

func TestUploadEmptyManifestIsNoop(t *testing.T) {
	m := newTestManager(t)

	processed, lastUsn, err := m.UploadChanges(buildUploadZip(t, [][2]any{}, nil))
	if err != nil {
		t.Fatalf("применение пустого пакета: %v", err)
	}
	if processed != 0 || lastUsn != 0 {
		t.Errorf("ожидалось (0, 0), получено (%d, %d)", processed, lastUsn)
	}
}

func TestUploadUndeclaredEntryFails(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", "0"}},
		map[string][]byte{"0": []byte("x"), "1": []byte("y")},
	))
	if err == nil {
		t.Fatal("ожидалась ошибка для записи вне манифеста")
	}
}

func TestUploadNormalizesFilename(t *testing.T) {
	m := newTestManager(t)

	// "é" в разложенной форме: e + combining acute.
	decomposed := "café.jpg"
	composed := "café.jpg"

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{decomposed, "0"}},
		map[string][]byte{"0": []byte("x")},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}

	changes, err := m.Changes(0)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 1 || changes[0].Fname != composed {
		t.Errorf("ожидалось имя %q, получено %+v", composed, changes)
	}
	if _, err := os.Stat(filepath.Join(m.mediaDir, composed)); err != nil {
		t.Errorf("файл не хранится под нормализованным именем: %v", err)
	}
}

func TestChangesExactGap(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", "0"}, {"b.jpg", "1"}, {"c.jpg", "2"}},
		map[string][]byte{"0": []byte("a"), "1": []byte("b"), "2": []byte("c")},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}

	changes, err := m.Changes(1)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("ожидались две записи, получено %d", len(changes))
	}
	if changes[0].Usn != 2 || changes[1].Usn != 3 {
		t.Errorf("ожидался порядок возрастания usn, получено %+v", changes)
	}

	// Догнавший клиент получает пустой пакет.
	changes, err = m.Changes(3)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("ожидался пустой пакет, получено %+v", changes)
	}
}

func TestDownloadFiles(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", "0"}, {"b.jpg", "1"}},
		map[string][]byte{"0": []byte("содержимое-a"), "1": []byte("содержимое-b")},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}

	data, err := m.DownloadFiles([]string{"a.jpg", "b.jpg"})
	if err != nil {
		t.Fatalf("сборка архива отдачи: %v", err)
	}

	manifest, files := readDownloadZip(t, data)
	if len(manifest) != 2 {
		t.Fatalf("ожидались две записи манифеста, получено %v", manifest)
	}
	for id, fname := range manifest {
		want := "содержимое-" + fname[:1]
		if string(files[id]) != want {
			t.Errorf("запись %s (%s): ожидалось %q, получено %q",
				id, fname, want, files[id])
		}
	}
}

func TestDownloadSelfHealing(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", "0"}},
		map[string][]byte{"0": []byte("x")},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}

	// Файл пропал с диска, запись осталась.
	if err := os.Remove(filepath.Join(m.mediaDir, "a.jpg")); err != nil {
		t.Fatalf("удаление файла: %v", err)
	}

	data, err := m.DownloadFiles([]string{"a.jpg"})
	if err != nil {
		t.Fatalf("сборка архива отдачи: %v", err)
	}
	manifest, _ := readDownloadZip(t, data)
	if len(manifest) != 0 {
		t.Errorf("пропавший файл попал в манифест: %v", manifest)
	}

	// Запись удалена из индекса безвозвратно.
	changes, err := m.Changes(0)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("негодная запись осталась в индексе: %+v", changes)
	}
}

func TestDownloadBudgets(t *testing.T) {
	m := newTestManager(t)
	m.maxArchive = 10
	m.maxFile = 6

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"big.bin", "0"}, {"a.bin", "1"}, {"b.bin", "2"}, {"c.bin", "3"}},
		map[string][]byte{
			"0": bytes.Repeat([]byte("x"), 7), // сверх пофайлового бюджета
			"1": bytes.Repeat([]byte("a"), 6),
			"2": bytes.Repeat([]byte("b"), 6),
			"3": bytes.Repeat([]byte("c"), 6),
		},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}

	data, err := m.DownloadFiles([]string{"big.bin", "a.bin", "b.bin", "c.bin"})
	if err != nil {
		t.Fatalf("сборка архива отдачи: %v", err)
	}
	manifest, _ := readDownloadZip(t, data)

	// big.bin пропущен, a и b исчерпали суммарный бюджет, c не вошёл.
	if len(manifest) != 2 {
		t.Errorf("ожидались две записи манифеста, получено %v", manifest)
	}
	for _, fname := range manifest {
		if fname == "big.bin" || fname == "c.bin" {
			t.Errorf("файл %s не должен был попасть в архив", fname)
		}
	}

	// Запись сверхбюджетного файла удалена, обрезанного — сохранена.
	changes, err := m.Changes(0)
	if err != nil {
		t.Fatalf("чтение изменений: %v", err)
	}
	for _, c := range changes {
		if c.Fname == "big.bin" {
			t.Error("запись сверхбюджетного файла осталась в индексе")
		}
	}
	found := false
	for _, c := range changes {
		if c.Fname == "c.bin" {
			found = true
		}
	}
	if !found {
		t.Error("запись не вошедшего в архив файла пропала из индекса")
	}
}

func TestSanityCheck(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", "0"}},
		map[string][]byte{"0": []byte("x")},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}

	ok, err := m.SanityCheck(1)
	if err != nil {
		t.Fatalf("проверка целостности: %v", err)
	}
	if !ok {
		t.Error("ожидалось совпадение счётчиков")
	}

	ok, err = m.SanityCheck(5)
	if err != nil {
		t.Fatalf("проверка целостности: %v", err)
	}
	if ok {
		t.Error("ожидалось расхождение счётчиков")
	}
}

func TestFilesTransferredCounters(t *testing.T) {
	m := newTestManager(t)
	upBefore := testutil.ToFloat64(
		middleware.MediaFilesTransferredTotal.WithLabelValues("upload"))
	downBefore := testutil.ToFloat64(
		middleware.MediaFilesTransferredTotal.WithLabelValues("download"))

	_, _, err := m.UploadChanges(buildUploadZip(t,
		[][2]any{{"a.jpg", "0"}, {"b.jpg", "1"}},
		map[string][]byte{"0": []byte("a"), "1": []byte("b")},
	))
	if err != nil {
		t.Fatalf("применение пакета: %v", err)
	}
	if _, err := m.DownloadFiles([]string{"a.jpg", "b.jpg"}); err != nil {
		t.Fatalf("сборка архива отдачи: %v", err)
	}

	up := testutil.ToFloat64(
		middleware.MediaFilesTransferredTotal.WithLabelValues("upload"))
	down := testutil.ToFloat64(
		middleware.MediaFilesTransferredTotal.WithLabelValues("download"))
	if up-upBefore != 2 {
		t.Errorf("ожидалось +2 по загрузке, получено %+v", up-upBefore)
	}
	if down-downBefore != 2 {
		t.Errorf("ожидалось +2 по отдаче, получено %+v", down-downBefore)
	}
}

func TestRegistryReusesManager(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(slog.Default())
	t.Cleanup(func() { reg.Close() })

	first, err := reg.ForUser("alice", dir)
	if err != nil {
		t.Fatalf("первое обращение: %v", err)
	}
	second, err := reg.ForUser("alice", dir)
	if err != nil {
		t.Fatalf("второе обращение: %v", err)
	}
	if first != second {
		t.Error("реестр открыл второй движок для того же пользователя")
	}
}

func TestNormalizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "обычное имя", in: "a.jpg", want: "a.jpg"},
		{name: "разложенная форма", in: "café.jpg", want: "café.jpg"},
		{name: "небезопасные символы", in: `a<b>:c?.jpg`, want: "abc.jpg"},
		{name: "управляющие символы", in: "a\x01b.jpg", want: "ab.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFilename(tt.in); got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}
}
