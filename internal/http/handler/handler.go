// Package handler adapts the video, device and admin services to HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/levelup-learning/levelup-video/internal/http/response"
	"github.com/levelup-learning/levelup-video/internal/service"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads an optional JSON body and validates it. An empty body
// leaves dst at its zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid JSON body", nil)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "request validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}

// writeServiceError maps service sentinels onto envelope codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrNoSession), errors.Is(err, service.ErrInvalidUserID):
		response.Error(w, r, http.StatusUnauthorized, response.CodeNoSession, "sign in to continue", nil)
	case errors.Is(err, service.ErrAccessDenied):
		response.Error(w, r, http.StatusForbidden, response.CodeAccessDenied, "no access to this video", nil)
	case errors.Is(err, service.ErrVideoNotFound):
		response.Error(w, r, http.StatusNotFound, response.CodeVideoNotFound, "video not found", nil)
	case errors.Is(err, service.ErrTokenExpired):
		response.Error(w, r, http.StatusForbidden, response.CodeTokenExpired, "token expired", nil)
	case errors.Is(err, service.ErrTokenInvalid), errors.Is(err, service.ErrPathNotAllowed):
		response.Error(w, r, http.StatusForbidden, response.CodeTokenInvalid, "token not valid for this resource", nil)
	case errors.Is(err, service.ErrInvalidMaxSwitches), errors.Is(err, service.ErrInvalidProgress):
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	case errors.Is(err, service.ErrProgressNotFound), errors.Is(err, service.ErrDeviceNotFound),
		errors.Is(err, service.ErrUserNotTracked):
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, err.Error(), nil)
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "internal error", nil)
	}
}

// clientIP expects chi's RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func orDefaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
