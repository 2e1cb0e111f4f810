// Пакет errors — трансляция ошибок домена в HTTP-ответы.
//
// Протокол синхронизации отдаёт ошибки простым текстом: клиенты обеих
// линеек смотрят только на статус-код. Соответствие зафиксировано
// оригинальным поведением: сбой аутентификации или неизвестная сессия —
// 403, неизвестный метод — 404, негодный запрос — 400, остальное — 500.
package errors //nolint:revive // имя пакета повторяет stdlib намеренно, см. импорт apierrors

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/arturkryukov/ankisyncd/internal/auth"
	"github.com/arturkryukov/ankisyncd/internal/protocol"
	"github.com/arturkryukov/ankisyncd/internal/session"
	"github.com/arturkryukov/ankisyncd/internal/transport"
)

// statusFor возвращает статус-код для ошибки домена.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, auth.ErrBadCredentials),
		stderrors.Is(err, session.ErrNotFound):
		return http.StatusForbidden
	case stderrors.Is(err, protocol.ErrUnknownMethod):
		return http.StatusNotFound
	case stderrors.Is(err, transport.ErrBadHeader),
		stderrors.Is(err, transport.ErrUnsupportedVersion),
		stderrors.Is(err, transport.ErrDecompress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Write транслирует ошибку в HTTP-ответ и пишет её в лог. Тело ответа
// не раскрывает внутренностей: клиенту уходит только текст статуса.
func Write(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)

	if status == http.StatusInternalServerError {
		logger.Error("внутренняя ошибка обработки запроса", slog.Any("error", err))
	} else {
		logger.Warn("запрос отклонён",
			slog.Int("status", status),
			slog.Any("error", err))
	}

	http.Error(w, http.StatusText(status), status)
}
