// version.go — версии протокола синхронизации.
package transport

import "fmt"

// Version — версия протокола синхронизации, заявленная клиентом.
// Версии 8-10 используют multipart-транспорт (устаревший), версия 11 и
// выше — заголовок с метаданными и zstd-поток.
type Version int

const (
	// VersionMin — минимальная поддерживаемая версия протокола.
	VersionMin Version = 8
	// VersionMultipart — версия, присваиваемая multipart-запросам,
	// не заявившим версию явно (старый протокол не передавал её
	// в каждом запросе).
	VersionMultipart Version = 10
	// VersionZstdMin — первая версия с заголовком и zstd-потоком.
	VersionZstdMin Version = 11
	// VersionMax — максимальная поддерживаемая версия протокола.
	VersionMax Version = 11
)

// EnsureSupported возвращает ошибку, если версия вне поддерживаемого диапазона.
func (v Version) EnsureSupported() error {
	if v < VersionMin || v > VersionMax {
		return fmt.Errorf("%w: версия протокола %d вне диапазона %d-%d",
			ErrUnsupportedVersion, int(v), int(VersionMin), int(VersionMax))
	}
	return nil
}

// IsZstd сообщает, использует ли версия zstd-сжатие тела.
func (v Version) IsZstd() bool {
	return v >= VersionZstdMin
}

// IsMultipart сообщает, использует ли версия multipart-транспорт.
func (v Version) IsMultipart() bool {
	return v < VersionZstdMin
}
