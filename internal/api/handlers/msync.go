// msync.go — диспетчер медиасинхронизации (/msync/{method}).
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/ankisyncd/internal/api/errors"
	"github.com/arturkryukov/ankisyncd/internal/api/middleware"
	"github.com/arturkryukov/ankisyncd/internal/media"
	"github.com/arturkryukov/ankisyncd/internal/protocol"
	"github.com/arturkryukov/ankisyncd/internal/session"
	"github.com/arturkryukov/ankisyncd/internal/transport"
)

// MediaSync обрабатывает POST /msync/{method}.
func (h *Handler) MediaSync(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	method, err := protocol.ParseMediaMethod(name)
	if err != nil {
		apierrors.Write(w, h.logger, err)
		return
	}

	req, err := transport.DecodeRequest(r)
	if err != nil {
		apierrors.Write(w, h.logger, err)
		return
	}

	if err := h.dispatchMedia(w, method, req); err != nil {
		middleware.MediaOperationsTotal.WithLabelValues(name, "error").Inc()
		apierrors.Write(w, h.logger, err)
		return
	}
	middleware.MediaOperationsTotal.WithLabelValues(name, "ok").Inc()
}

// MediaBeginGet обрабатывает GET /msync/begin: устаревшие клиенты
// начинают медиасинхронизацию GET-запросом с ключом и версией клиента
// в параметрах запроса.
func (h *Handler) MediaBeginGet(w http.ResponseWriter, r *http.Request) {
	hkey := r.URL.Query().Get("k")
	if hkey == "" {
		apierrors.Write(w, h.logger, session.ErrNotFound)
		return
	}

	req := &transport.Request{
		SyncKey:            hkey,
		MediaClientVersion: r.URL.Query().Get("v"),
		Version:            transport.VersionMultipart,
	}

	if err := h.dispatchMedia(w, protocol.MediaBegin, req); err != nil {
		middleware.MediaOperationsTotal.WithLabelValues("begin", "error").Inc()
		apierrors.Write(w, h.logger, err)
		return
	}
	middleware.MediaOperationsTotal.WithLabelValues("begin", "ok").Inc()
}

// dispatchMedia выполняет медиаоперацию и пишет успешный ответ.
func (h *Handler) dispatchMedia(w http.ResponseWriter, method protocol.MediaMethod, req *transport.Request) error {
	sess, err := h.resolveSession(req)
	if err != nil {
		return err
	}

	mgr, err := h.media.ForUser(sess.Username, sess.Path)
	if err != nil {
		return err
	}

	switch method {
	case protocol.MediaBegin:
		return h.mediaBegin(w, sess, mgr, req)

	case protocol.MediaChanges:
		var cr media.ChangesRequest
		if err := json.Unmarshal(req.Data, &cr); err != nil {
			return fmt.Errorf("ошибка разбора запроса mediaChanges: %w", err)
		}
		changes, err := mgr.Changes(cr.LastUsn)
		if err != nil {
			return err
		}
		h.respondJSON(w, media.ChangesResult{Data: changes}, req.Version)
		return nil

	case protocol.MediaUploadChanges:
		processed, lastUsn, err := mgr.UploadChanges(req.Data)
		if err != nil {
			return err
		}
		h.respondJSON(w, media.UploadResult{Data: [2]int{processed, lastUsn}}, req.Version)
		return nil

	case protocol.MediaDownloadFiles:
		var dr media.DownloadRequest
		if err := json.Unmarshal(req.Data, &dr); err != nil {
			return fmt.Errorf("ошибка разбора запроса downloadFiles: %w", err)
		}
		archive, err := mgr.DownloadFiles(dr.Files)
		if err != nil {
			return err
		}
		h.respond(w, archive, req.Version)
		return nil

	case protocol.MediaSanity:
		var sr media.SanityRequest
		if err := json.Unmarshal(req.Data, &sr); err != nil {
			return fmt.Errorf("ошибка разбора запроса mediaSanity: %w", err)
		}
		ok, err := mgr.SanityCheck(sr.Local)
		if err != nil {
			return err
		}
		result := media.SanityOK
		if !ok {
			result = media.SanityFailed
			h.logger.Warn("расхождение счётчиков медиафайлов",
				slog.String("username", sess.Username),
				slog.Int("local", sr.Local))
		}
		h.respondJSON(w, media.SanityResult{Data: result}, req.Version)
		return nil
	}

	return fmt.Errorf("%w: %d", protocol.ErrUnknownMethod, int(method))
}

// mediaBegin отвечает ключом сессии и последним usn сервера.
func (h *Handler) mediaBegin(w http.ResponseWriter, sess *session.Session, mgr *media.Manager, req *transport.Request) error {
	if req.MediaClientVersion != "" {
		h.logger.Debug("начало медиасинхронизации",
			slog.String("username", sess.Username),
			slog.String("client", req.MediaClientVersion))
	}

	lastUsn, err := mgr.LastUsn()
	if err != nil {
		return err
	}

	h.respondJSON(w, media.BeginResult{
		Data: &media.BeginData{SKey: sess.SessionKey, Usn: lastUsn},
	}, req.Version)
	return nil
}
