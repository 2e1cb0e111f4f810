// Пакет handlers — HTTP-обработчики протокола синхронизации.
//
// Диспетчер разбирает имя метода один раз на границе маршрутизации,
// декодирует транспорт, находит сессию и передаёт управление движку
// медиафайлов или движку коллекций. Ответ кодируется в версии
// транспорта, согласованной при декодировании запроса.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	apierrors "github.com/arturkryukov/ankisyncd/internal/api/errors"
	"github.com/arturkryukov/ankisyncd/internal/auth"
	"github.com/arturkryukov/ankisyncd/internal/collection"
	"github.com/arturkryukov/ankisyncd/internal/config"
	"github.com/arturkryukov/ankisyncd/internal/media"
	"github.com/arturkryukov/ankisyncd/internal/session"
	"github.com/arturkryukov/ankisyncd/internal/transport"
)

// welcomeText — ответ корневого пути; по нему клиенты и люди проверяют,
// что сервер жив.
const welcomeText = "Anki Sync Server"

// Handler — обработчики всех маршрутов сервера синхронизации.
type Handler struct {
	cfg         *config.Config
	auth        *auth.Store
	sessions    *session.Store
	media       *media.Registry
	collections *collection.Manager
	logger      *slog.Logger
}

// New создаёт Handler со всеми зависимостями.
func New(
	cfg *config.Config,
	authStore *auth.Store,
	sessions *session.Store,
	mediaReg *media.Registry,
	collections *collection.Manager,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cfg:         cfg,
		auth:        authStore,
		sessions:    sessions,
		media:       mediaReg,
		collections: collections,
		logger:      logger.With(slog.String("component", "handlers")),
	}
}

// Welcome обрабатывает GET /.
func (h *Handler) Welcome(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, welcomeText)
}

// Favicon обрабатывает GET /favicon.ico: пустой 200, чтобы браузеры
// не засоряли лог ошибками.
func (h *Handler) Favicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HealthLive обрабатывает GET /health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, "alive")
}

// HealthReady обрабатывает GET /health/ready.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, "ready")
}

func writeHealth(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// resolveSession находит сессию запроса: сначала по ключу
// аутентификации, затем по ключу сессии. Запрос без ключей валиден
// только для метода hostKey, который сюда не попадает.
func (h *Handler) resolveSession(req *transport.Request) (*session.Session, error) {
	if req.SyncKey != "" {
		return h.sessions.ByHostKey(req.SyncKey)
	}
	if req.SessionKey != "" {
		return h.sessions.BySessionKey(req.SessionKey)
	}
	return nil, session.ErrNotFound
}

// issueSession аутентифицирует пользователя и создаёт новую сессию с
// каталогом данных.
func (h *Handler) issueSession(username, password string) (*session.Session, error) {
	if err := h.auth.Authenticate(username, password); err != nil {
		return nil, err
	}

	hostKey, err := session.NewHostKey(username)
	if err != nil {
		return nil, err
	}

	dir := h.cfg.UserDir(username)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог пользователя %s: %w", username, err)
	}

	sess := session.New(hostKey, username, dir)
	if err := h.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// respond кодирует успешный ответ в согласованной версии транспорта.
func (h *Handler) respond(w http.ResponseWriter, data []byte, version transport.Version) {
	if err := transport.WriteResponse(w, data, version); err != nil {
		h.logger.Error("ошибка записи ответа", slog.Any("error", err))
	}
}

// respondJSON сериализует значение и кодирует его как успешный ответ.
func (h *Handler) respondJSON(w http.ResponseWriter, v any, version transport.Version) {
	data, err := json.Marshal(v)
	if err != nil {
		apierrors.Write(w, h.logger, fmt.Errorf("ошибка сериализации ответа: %w", err))
		return
	}
	h.respond(w, data, version)
}
