// response.go — кодирование ответов в согласованной версии протокола.
package transport

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/klauspost/compress/zstd"
)

// WriteResponse отдаёт тело ответа в транспорте согласованной версии:
// современный клиент получает zstd-поток и заголовок с несжатой длиной,
// устаревший — тело как есть.
func WriteResponse(w http.ResponseWriter, data []byte, version Version) error {
	if !version.IsZstd() {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("ошибка записи тела ответа: %w", err)
		}
		return nil
	}

	w.Header().Set(HeaderOriginalSize, strconv.Itoa(len(data)))

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("ошибка инициализации zstd-кодера: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("ошибка записи zstd-потока: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("ошибка завершения zstd-потока: %w", err)
	}
	return nil
}
