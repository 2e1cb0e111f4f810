// Пакет transport — кодек проводного протокола синхронизации.
//
// Поддерживаются два взаимоисключающих транспорта, определяемых по
// наличию заголовка HeaderName:
//   - современный (версия >= 11): JSON-метаданные в заголовке,
//     тело — zstd-поток;
//   - устаревший (версии 8-10): multipart-форма с частями
//     c / k / sk / s / v / data, полезная нагрузка опционально gzip.
//
// Кодек не имеет побочных эффектов: ошибка разбора не затрагивает
// ни сессии, ни хранилища.
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	// HeaderName — заголовок современного транспорта с JSON-метаданными.
	HeaderName = "anki-sync"
	// HeaderOriginalSize — заголовок ответа с длиной несжатого тела.
	HeaderOriginalSize = "anki-original-size"
)

// Ошибки транспортного уровня.
var (
	ErrUnsupportedVersion = errors.New("неподдерживаемая версия протокола")
	ErrBadHeader          = errors.New("некорректные метаданные заголовка")
	ErrDecompress         = errors.New("ошибка распаковки тела запроса")
)

// syncHeader — JSON-метаданные современного транспорта.
type syncHeader struct {
	// Версия протокола
	Version Version `json:"v"`
	// Ключ аутентификации (host key)
	SyncKey string `json:"k"`
	// Ключ сессии
	SessionKey string `json:"s"`
	// Версия клиента
	ClientVersion string `json:"c"`
}

// Request — нормализованный запрос после декодирования транспорта.
type Request struct {
	// SyncKey — ключ аутентификации (host key), если передан
	SyncKey string
	// SessionKey — ключ сессии, если передан
	SessionKey string
	// ClientVersion — версия клиента из заголовка современного транспорта
	ClientVersion string
	// MediaClientVersion — версия клиента из части "v" устаревшего
	// транспорта (передаётся только в msync/begin)
	MediaClientVersion string
	// Version — согласованная версия протокола; её же использует кодек ответа
	Version Version
	// Data — распакованная полезная нагрузка
	Data []byte
}

// DecodeRequest декодирует POST-запрос, автоматически определяя транспорт
// по наличию заголовка HeaderName.
func DecodeRequest(r *http.Request) (*Request, error) {
	if hv := r.Header.Get(HeaderName); hv != "" {
		return decodeHeaderStream(hv, r.Body)
	}
	return decodeMultipart(r)
}

// decodeHeaderStream разбирает современный транспорт: JSON-метаданные в
// заголовке, тело — zstd-поток.
func decodeHeaderStream(headerValue string, body io.Reader) (*Request, error) {
	var hdr syncHeader
	if err := json.Unmarshal([]byte(headerValue), &hdr); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadHeader, err.Error())
	}
	if err := hdr.Version.EnsureSupported(); err != nil {
		return nil, err
	}
	if !hdr.Version.IsZstd() {
		// заголовок появился одновременно с zstd-потоком; multipart-версии
		// с заголовком не существует
		return nil, fmt.Errorf("%w: версия %d несовместима с заголовочным транспортом",
			ErrUnsupportedVersion, int(hdr.Version))
	}

	data, err := decodeZstd(body)
	if err != nil {
		return nil, err
	}

	return &Request{
		SyncKey:       hdr.SyncKey,
		SessionKey:    hdr.SessionKey,
		ClientVersion: hdr.ClientVersion,
		Version:       hdr.Version,
		Data:          data,
	}, nil
}

// decodeMultipart разбирает устаревший multipart-транспорт.
// Части: c — флаг сжатия ("1" = gzip), k/sk — ключ аутентификации,
// s — ключ сессии, v — версия медиаклиента, data — полезная нагрузка.
func decodeMultipart(r *http.Request) (*Request, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора multipart-формы: %w", err)
	}

	req := &Request{Version: VersionMultipart}
	compressed := false
	var data []byte

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения multipart-части: %w", err)
		}

		switch part.FormName() {
		case "c":
			val, err := partString(part)
			if err != nil {
				return nil, err
			}
			compressed = val == "1"
		case "k", "sk":
			req.SyncKey, err = partString(part)
			if err != nil {
				return nil, err
			}
		case "s":
			req.SessionKey, err = partString(part)
			if err != nil {
				return nil, err
			}
		case "v":
			req.MediaClientVersion, err = partString(part)
			if err != nil {
				return nil, err
			}
		case "data":
			data, err = io.ReadAll(part)
			if err != nil {
				return nil, fmt.Errorf("ошибка чтения части data: %w", err)
			}
		}
	}

	// Пустая нагрузка проходит без распаковки: часть клиентов опускает
	// data в запросах только на чтение.
	if len(data) > 0 && compressed {
		data, err = decodeGzip(data)
		if err != nil {
			return nil, err
		}
	}
	req.Data = data

	return req, nil
}

// partString читает multipart-часть целиком как строку без пробельных хвостов.
func partString(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(part)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения части %q: %w", part.FormName(), err)
	}
	return strings.TrimSpace(string(b)), nil
}

// decodeZstd распаковывает zstd-поток целиком.
func decodeZstd(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecompress, err.Error())
	}
	defer dec.Close()

	data, err := io.ReadAll(dec.IOReadCloser())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecompress, err.Error())
	}
	return data, nil
}

// decodeGzip распаковывает gzip-данные целиком.
func decodeGzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecompress, err.Error())
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecompress, err.Error())
	}
	return out, nil
}
