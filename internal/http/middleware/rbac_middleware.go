package middleware

import (
	"net/http"

	"github.com/levelup-learning/levelup-video/internal/http/response"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/security"
)

// RequirePermission checks the permissions carried in the session claims.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, response.CodeNoSession, "missing auth context", nil)
				return
			}
			if !security.HasPermission(claims.Permissions, permission) {
				observability.Audit(r, "permission.denied", "user_id", claims.UserID(), "required", permission)
				response.Error(w, r, http.StatusForbidden, response.CodeForbidden, "insufficient permission", map[string]string{"required": permission})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
