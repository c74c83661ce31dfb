package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/levelup-learning/levelup-video/internal/http/middleware"
	"github.com/levelup-learning/levelup-video/internal/http/response"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/service"
)

type DeviceHandler struct {
	tracker service.DeviceTrackerInterface
	logger  *slog.Logger
}

func NewDeviceHandler(tracker service.DeviceTrackerInterface, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{tracker: tracker, logger: orDefaultLogger(logger)}
}

type loginRequest struct {
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=128"`
}

type loginResponse struct {
	service.LoginResult
	TrackingError bool `json:"tracking_error,omitempty"`
}

// Login is the post-sign-in hook. A tracking write failure never blocks the
// sign-in: the response reports blocked=false with tracking_error set.
func (h *DeviceHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := middleware.UserIDFromContext(r.Context())
	result, err := h.tracker.RecordLogin(r.Context(), service.LoginEvent{
		UserID:      userID,
		Fingerprint: req.Fingerprint,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidUserID) {
			writeServiceError(w, r, h.logger, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "device tracking write failed", "user_id", userID, "error", err)
		response.JSON(w, r, http.StatusOK, loginResponse{LoginResult: service.LoginResult{Fingerprint: result.Fingerprint}, TrackingError: true})
		return
	}
	if result.Blocked {
		observability.Audit(r, "device.login.blocked", "user_id", userID, "switch_count", result.DeviceSwitchCount)
	}
	response.JSON(w, r, http.StatusOK, loginResponse{LoginResult: result})
}
