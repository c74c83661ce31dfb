package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/levelup-learning/levelup-video/internal/http/response"
)

type AccountStatusChecker interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
}

// RequireActiveAccount rejects users the device tracker has blocked. A failed
// lookup rejects too: video routes fail closed.
func RequireActiveAccount(status AccountStatusChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			if userID == "" {
				response.Error(w, r, http.StatusUnauthorized, response.CodeNoSession, "missing auth context", nil)
				return
			}
			blocked, err := status.IsBlocked(r.Context(), userID)
			if err != nil {
				slog.ErrorContext(r.Context(), "account status lookup failed", "user_id", userID, "error", err)
				response.Error(w, r, http.StatusServiceUnavailable, response.CodeInternal, "account status unavailable", nil)
				return
			}
			if blocked {
				response.Error(w, r, http.StatusForbidden, response.CodeAccountBlocked, "account blocked after too many device switches", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
