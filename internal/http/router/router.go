package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/levelup-learning/levelup-video/internal/health"
	"github.com/levelup-learning/levelup-video/internal/http/handler"
	"github.com/levelup-learning/levelup-video/internal/http/middleware"
	"github.com/levelup-learning/levelup-video/internal/http/response"
	"github.com/levelup-learning/levelup-video/internal/security"
)

type Dependencies struct {
	VideoHandler    *handler.VideoHandler
	DeviceHandler   *handler.DeviceHandler
	AdminHandler    *handler.AdminTrackingHandler
	StreamHandler   *handler.StreamHandler
	JWTManager      *security.JWTManager
	AccountStatus   middleware.AccountStatusChecker
	CORSOrigins     []string
	APIRateLimitRPM int
	// TokenRateLimiter guards token issuance per subject. Nil falls back to a
	// process-local httprate limiter at TokenRateLimitRPM.
	TokenRateLimiter  TokenRateLimiterFunc
	TokenRateLimitRPM int
	Readiness         *health.ProbeRunner
	EnableOTelHTTP    bool
}

type TokenRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.APIRateLimitRPM > 0 {
		r.Use(middleware.GlobalIPLimit(dep.APIRateLimitRPM))
	}

	tokenLimiter := dep.TokenRateLimiter
	if tokenLimiter == nil {
		tokenLimiter = middleware.LocalRateLimit(
			middleware.RateLimitPolicy{Limit: dep.TokenRateLimitRPM, Window: time.Minute},
			"video_token", middleware.SubjectOrIPKey,
		)
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	auth := middleware.AuthMiddleware(dep.JWTManager)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stream/authorize", dep.StreamHandler.Authorize)

		r.With(auth).Post("/devices/login", dep.DeviceHandler.Login)

		r.Route("/videos/{id}", func(r chi.Router) {
			r.Use(auth)
			r.Put("/progress", dep.VideoHandler.SaveProgress)
			r.Get("/progress", dep.VideoHandler.GetProgress)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireActiveAccount(dep.AccountStatus))
				r.Get("/access", dep.VideoHandler.Access)
				r.With(tokenLimiter).Post("/token", dep.VideoHandler.IssueToken)
			})
		})

		r.Route("/admin/tracking", func(r chi.Router) {
			r.Use(auth)
			read := middleware.RequirePermission(security.PermissionTrackingRead)
			write := middleware.RequirePermission(security.PermissionTrackingWrite)
			r.With(read).Get("/", dep.AdminHandler.List)
			r.With(read).Get("/{userID}/devices", dep.AdminHandler.Devices)
			r.With(write).Post("/{userID}/reset", dep.AdminHandler.Reset)
			r.With(write).Post("/{userID}/unblock", dep.AdminHandler.Unblock)
			r.With(write).Patch("/{userID}/max-switches", dep.AdminHandler.SetMaxSwitches)
			r.With(write).Patch("/{userID}/switch-count", dep.AdminHandler.SetSwitchCount)
			r.With(write).Patch("/{userID}/devices/{deviceID}/trust", dep.AdminHandler.SetDeviceTrusted)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
