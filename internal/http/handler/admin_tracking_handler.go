package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/levelup-learning/levelup-video/internal/http/middleware"
	"github.com/levelup-learning/levelup-video/internal/http/response"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/repository"
	"github.com/levelup-learning/levelup-video/internal/service"
)

type AdminTrackingHandler struct {
	tracker service.DeviceTrackerInterface
	logger  *slog.Logger
}

func NewAdminTrackingHandler(tracker service.DeviceTrackerInterface, logger *slog.Logger) *AdminTrackingHandler {
	return &AdminTrackingHandler{tracker: tracker, logger: orDefaultLogger(logger)}
}

func (h *AdminTrackingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := repository.TrackingListQuery{
		PageRequest: repository.PageRequest{
			Page:     atoiDefault(q.Get("page"), repository.DefaultPage),
			PageSize: atoiDefault(q.Get("page_size"), repository.DefaultPageSize),
		},
		UserID: q.Get("user_id"),
	}
	if blocked, err := strconv.ParseBool(q.Get("blocked")); err == nil {
		query.BlockedOnly = blocked
	}
	page, err := h.tracker.ListTrackingData(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *AdminTrackingHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.tracker.ListDevices(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, devices)
}

func (h *AdminTrackingHandler) Reset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	state, err := h.tracker.ResetSwitches(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.audit(r, "admin.tracking.reset", userID)
	response.JSON(w, r, http.StatusOK, state)
}

func (h *AdminTrackingHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	state, err := h.tracker.Unblock(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.audit(r, "admin.tracking.unblock", userID)
	response.JSON(w, r, http.StatusOK, state)
}

type setMaxSwitchesRequest struct {
	MaxSwitches int `json:"max_switches" validate:"required,min=1,max=50"`
}

func (h *AdminTrackingHandler) SetMaxSwitches(w http.ResponseWriter, r *http.Request) {
	var req setMaxSwitchesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	state, err := h.tracker.SetMaxSwitches(r.Context(), userID, req.MaxSwitches)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.audit(r, "admin.tracking.max_switches", userID, "max_switches", req.MaxSwitches)
	response.JSON(w, r, http.StatusOK, state)
}

type setSwitchCountRequest struct {
	SwitchCount *int `json:"switch_count" validate:"required"`
}

// SetSwitchCount accepts any integer; the tracker clamps it to [0, max].
func (h *AdminTrackingHandler) SetSwitchCount(w http.ResponseWriter, r *http.Request) {
	var req setSwitchCountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	state, err := h.tracker.SetSwitchCount(r.Context(), userID, *req.SwitchCount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.audit(r, "admin.tracking.switch_count", userID, "requested", *req.SwitchCount, "stored", state.DeviceSwitchCount)
	response.JSON(w, r, http.StatusOK, state)
}

type setTrustedRequest struct {
	Trusted *bool `json:"trusted" validate:"required"`
}

func (h *AdminTrackingHandler) SetDeviceTrusted(w http.ResponseWriter, r *http.Request) {
	deviceID, err := strconv.ParseUint(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "invalid device id", nil)
		return
	}
	var req setTrustedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.tracker.SetDeviceTrusted(r.Context(), userID, uint(deviceID), *req.Trusted); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.audit(r, "admin.tracking.device_trust", userID, "device_id", deviceID, "trusted", *req.Trusted)
	response.JSON(w, r, http.StatusOK, map[string]any{"device_id": deviceID, "trusted": *req.Trusted})
}

func (h *AdminTrackingHandler) audit(r *http.Request, event, userID string, attrs ...any) {
	base := []any{"actor_id", middleware.UserIDFromContext(r.Context()), "target_user_id", userID}
	observability.Audit(r, event, append(base, attrs...)...)
}

func atoiDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
