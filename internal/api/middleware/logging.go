// logging.go — структурированное логирование HTTP-запросов.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestLogger возвращает middleware, пишущее одну запись на запрос:
// метод, путь, статус, длительность и адрес клиента.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newStatusWriter(w)
			next.ServeHTTP(wrapped, r)

			log.Info("запрос обработан",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		})
	}
}
