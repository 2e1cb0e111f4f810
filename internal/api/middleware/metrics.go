// metrics.go — Prometheus HTTP метрики сервера синхронизации.
// Регистрирует метрики: asd_http_requests_total,
// asd_http_request_duration_seconds. Пути в лейблах сводятся к
// шаблонам методов, чтобы не раздувать кардинальность.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asd_http_requests_total",
			Help: "Общее количество HTTP-запросов к серверу синхронизации",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asd_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к серверу синхронизации в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (обновляются из обработчиков и сервисного слоя)
var (
	// SyncOperationsTotal — количество операций синхронизации коллекции по методам.
	SyncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asd_sync_operations_total",
			Help: "Общее количество операций синхронизации коллекции",
		},
		[]string{"method", "result"},
	)

	// MediaOperationsTotal — количество операций синхронизации медиа по методам.
	MediaOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asd_media_operations_total",
			Help: "Общее количество операций синхронизации медиа",
		},
		[]string{"method", "result"},
	)

	// MediaFilesTransferredTotal — количество медиафайлов, переданных
	// в пакетах загрузки и отдачи.
	MediaFilesTransferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asd_media_files_transferred_total",
			Help: "Общее количество переданных медиафайлов",
		},
		[]string{"direction"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newStatusWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// statusWriter — обёртка для перехвата статус-кода.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// normalizePath сводит путь к шаблону маршрута. Имена методов
// синхронизации — закрытый список, поэтому их можно оставлять как есть;
// всё остальное сводится к "other".
func normalizePath(path string) string {
	switch {
	case path == "/", path == "/favicon.ico",
		path == "/health/live", path == "/health/ready", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/sync/"), strings.HasPrefix(path, "/msync/"):
		return path
	default:
		return "other"
	}
}
