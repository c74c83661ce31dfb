package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/levelup-learning/levelup-video/internal/service"
	"github.com/levelup-learning/levelup-video/internal/streaming"
)

// StreamHandler answers the edge's auth subrequest. It never writes a body:
// 204 lets the edge serve the file, 403 denies it.
type StreamHandler struct {
	tokens service.VideoTokenServiceInterface
	logger *slog.Logger
	now    func() time.Time
}

func NewStreamHandler(tokens service.VideoTokenServiceInterface, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{tokens: tokens, logger: orDefaultLogger(logger), now: time.Now}
}

func (h *StreamHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	token, path := streamParams(r)
	if token == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if path == "" {
		h.logger.WarnContext(r.Context(), "stream request without a path; check the edge forwards path or X-Original-URI")
		w.WriteHeader(http.StatusForbidden)
		return
	}
	tok, err := h.tokens.Authorize(r.Context(), token, path, h.now())
	if err != nil {
		switch {
		case isTokenRejection(err):
			h.logger.DebugContext(r.Context(), "stream request denied", "path", path, "error", err)
			w.WriteHeader(http.StatusForbidden)
		default:
			h.logger.ErrorContext(r.Context(), "stream authorization failed", "path", path, "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		return
	}
	w.Header().Set("X-Video-Id", tok.VideoID)
	w.Header().Set("X-User-Id", tok.UserID)
	w.Header().Set("X-Content-Type", streaming.ContentType(path))
	w.WriteHeader(http.StatusNoContent)
}

// streamParams reads token and path from the query, falling back to the
// original URI the edge forwards.
func streamParams(r *http.Request) (token, path string) {
	q := r.URL.Query()
	token, path = q.Get("token"), q.Get("path")
	if token != "" && path != "" {
		return token, path
	}
	orig := r.Header.Get("X-Original-URI")
	if orig == "" {
		return token, path
	}
	u, err := url.Parse(orig)
	if err != nil {
		return token, path
	}
	if token == "" {
		token = u.Query().Get("token")
	}
	if path == "" {
		path = u.Path
	}
	return token, path
}

func isTokenRejection(err error) bool {
	return errors.Is(err, service.ErrTokenInvalid) ||
		errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrPathNotAllowed)
}
