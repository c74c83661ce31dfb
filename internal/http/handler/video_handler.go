package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/levelup-learning/levelup-video/internal/http/middleware"
	"github.com/levelup-learning/levelup-video/internal/http/response"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/service"
)

type VideoHandler struct {
	access   service.AccessDecider
	tokens   service.VideoTokenServiceInterface
	progress service.ProgressServiceInterface
	logger   *slog.Logger
}

func NewVideoHandler(access service.AccessDecider, tokens service.VideoTokenServiceInterface, progress service.ProgressServiceInterface, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{access: access, tokens: tokens, progress: progress, logger: orDefaultLogger(logger)}
}

type accessResponse struct {
	Allowed bool                 `json:"allowed"`
	Reason  service.AccessReason `json:"reason"`
}

// Access is the UX pre-check. Token issuance repeats the check.
func (h *VideoHandler) Access(w http.ResponseWriter, r *http.Request) {
	decision, err := h.access.Decide(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "access pre-check failed", "error", err)
	}
	response.JSON(w, r, http.StatusOK, accessResponse{Allowed: decision.Allowed, Reason: decision.Reason})
}

type issueTokenRequest struct {
	TTLMinutes int `json:"ttl_minutes" validate:"omitempty,min=1,max=720"`
}

func (h *VideoHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := middleware.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")
	issued, err := h.tokens.Issue(r.Context(), service.IssueRequest{
		UserID:    userID,
		VideoID:   videoID,
		TTL:       time.Duration(req.TTLMinutes) * time.Minute,
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !issued.Reused {
		observability.Audit(r, "video.token.issued", "user_id", userID, "video_id", videoID, "expires_at", issued.ExpiresAt)
	}
	response.JSON(w, r, http.StatusOK, issued)
}

type saveProgressRequest struct {
	WatchedSeconds *int `json:"watched_seconds" validate:"required,min=0"`
	TotalSeconds   *int `json:"total_seconds" validate:"required,min=0"`
}

func (h *VideoHandler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	var req saveProgressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.progress.Save(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), *req.WatchedSeconds, *req.TotalSeconds)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, p)
}

func (h *VideoHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.progress.Get(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, p)
}
