// normalize.go — нормализация имён медиафайлов.
package media

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizedPredicate сообщает, можно ли считать имя уже нормализованным
// и пропустить проверку. Политика зависит от поведения файловой системы
// хоста: там, где ФС сама приводит имена к композитной форме, проверка
// избыточна. По умолчанию проверяются все имена.
type NormalizedPredicate func(fname string) bool

// CheckAllNames — предикат по умолчанию: проверять каждое имя.
func CheckAllNames(string) bool { return false }

// unsafeChars — символы, недопустимые в именах файлов хотя бы на одной
// из клиентских платформ.
const unsafeChars = `[]<>:"/?*^\|`

// NormalizeFilename приводит имя к канонической композитной форме
// Unicode (NFC) и выбрасывает небезопасные для файловых систем символы.
// Возвращённое имя может отличаться от исходного: в этом случае файл
// хранится под новым именем.
func NormalizeFilename(fname string) string {
	name := norm.NFC.String(fname)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || unicode.Is(unicode.Cc, r) {
			return -1
		}
		if strings.ContainsRune(unsafeChars, r) {
			return -1
		}
		return r
	}, name)
	return name
}
