// sync.go — диспетчер коллекционной синхронизации (/sync/{method}).
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/ankisyncd/internal/api/errors"
	"github.com/arturkryukov/ankisyncd/internal/api/middleware"
	"github.com/arturkryukov/ankisyncd/internal/protocol"
	"github.com/arturkryukov/ankisyncd/internal/transport"
)

// hostKeyRequest — запрос аутентификации. Настольный клиент с 2.1.57
// шлёт ключи username/password, старые клиенты — u/p; принимаются оба
// набора.
type hostKeyRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	U        string `json:"u"`
	P        string `json:"p"`
}

// креды возвращает действующую пару имя/пароль.
func (r hostKeyRequest) creds() (string, string) {
	if r.Username != "" {
		return r.Username, r.Password
	}
	return r.U, r.P
}

// hostKeyResponse — ответ аутентификации.
type hostKeyResponse struct {
	Key string `json:"key"`
}

// CollectionSync обрабатывает POST /sync/{method}.
func (h *Handler) CollectionSync(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	method, err := protocol.ParseSyncMethod(name)
	if err != nil {
		apierrors.Write(w, h.logger, err)
		return
	}

	req, err := transport.DecodeRequest(r)
	if err != nil {
		apierrors.Write(w, h.logger, err)
		return
	}

	if err := h.dispatchSync(w, method, req); err != nil {
		middleware.SyncOperationsTotal.WithLabelValues(name, "error").Inc()
		apierrors.Write(w, h.logger, err)
		return
	}
	middleware.SyncOperationsTotal.WithLabelValues(name, "ok").Inc()
}

// dispatchSync выполняет метод и пишет успешный ответ. Любая
// возвращённая ошибка транслируется в статус-код целиком на уровне
// вызывающего: к этому моменту в ResponseWriter ещё ничего не записано.
func (h *Handler) dispatchSync(w http.ResponseWriter, method protocol.SyncMethod, req *transport.Request) error {
	// hostKey — единственный метод, валидный без сессии.
	if method == protocol.SyncHostKey {
		return h.handleHostKey(w, req)
	}

	sess, err := h.resolveSession(req)
	if err != nil {
		return err
	}

	switch method {
	case protocol.SyncMeta:
		// Первая операция раунда: слот коллекций перещёлкивается на
		// владельца сессии.
		if err := h.collections.EnsureFor(sess.Username, sess.Path); err != nil {
			return err
		}
		return h.delegate(w, method, req)

	case protocol.SyncFullUpload:
		if err := h.collections.FullUpload(sess.Username, sess.Path, req.Data); err != nil {
			return err
		}
		h.respond(w, []byte("OK"), req.Version)
		return nil

	case protocol.SyncFullDownload:
		data, err := h.collections.FullDownload(sess.Username)
		if err != nil {
			return err
		}
		h.respond(w, data, req.Version)
		return nil

	default:
		return h.delegate(w, method, req)
	}
}

// delegate передаёт операцию движку коллекций.
func (h *Handler) delegate(w http.ResponseWriter, method protocol.SyncMethod, req *transport.Request) error {
	out, err := h.collections.Dispatch(method.String(), req.Data)
	if err != nil {
		return err
	}
	h.respond(w, out, req.Version)
	return nil
}

// handleHostKey аутентифицирует пользователя и возвращает новый ключ.
func (h *Handler) handleHostKey(w http.ResponseWriter, req *transport.Request) error {
	var hkReq hostKeyRequest
	if err := json.Unmarshal(req.Data, &hkReq); err != nil {
		return fmt.Errorf("%w: %s", transport.ErrBadHeader, err.Error())
	}

	username, password := hkReq.creds()
	sess, err := h.issueSession(username, password)
	if err != nil {
		return err
	}

	h.logger.Info("пользователь аутентифицирован",
		slog.String("username", sess.Username))

	data, err := json.Marshal(hostKeyResponse{Key: sess.HostKey})
	if err != nil {
		return fmt.Errorf("ошибка сериализации ответа: %w", err)
	}
	h.respond(w, data, req.Version)
	return nil
}
