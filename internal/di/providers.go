package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/levelup-learning/levelup-video/internal/config"
	"github.com/levelup-learning/levelup-video/internal/database"
	"github.com/levelup-learning/levelup-video/internal/health"
	"github.com/levelup-learning/levelup-video/internal/http/handler"
	"github.com/levelup-learning/levelup-video/internal/http/middleware"
	"github.com/levelup-learning/levelup-video/internal/http/router"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/repository"
	"github.com/levelup-learning/levelup-video/internal/security"
	"github.com/levelup-learning/levelup-video/internal/service"
	"github.com/levelup-learning/levelup-video/internal/streaming"
)

const redisKeyPrefix = "levelup"

func provideObservability(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	return database.Open(cfg, logger)
}

// provideRedis returns nil when REDIS_ADDR is unset; every Redis-backed store
// then falls back to its in-process variant.
func provideRedis(cfg *config.Config) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func provideKeyRing(cfg *config.Config) (*security.KeyRing, error) {
	return security.NewKeyRing(cfg.TokenHashSecret)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
}

func provideResolver(cfg *config.Config) *streaming.Resolver {
	return streaming.NewResolver(cfg.StreamBaseURL)
}

func provideContentStore(videos repository.VideoRepository) repository.ContentStore {
	return videos
}

func provideCooldownStore(rdb redis.UniversalClient) service.IssuanceCooldownStore {
	if rdb == nil {
		return service.NewInMemoryIssuanceCooldownStore()
	}
	return service.NewRedisIssuanceCooldownStore(rdb, redisKeyPrefix+":token_cooldown")
}

func provideAccountStatusCacheStore(rdb redis.UniversalClient) service.AccountStatusCacheStore {
	if rdb == nil {
		return service.NewInMemoryAccountStatusCacheStore()
	}
	return service.NewRedisAccountStatusCacheStore(rdb, redisKeyPrefix+":account_status")
}

func provideVideoTokenService(
	access service.AccessDecider,
	content repository.ContentStore,
	tokens repository.AccessTokenRepository,
	keys *security.KeyRing,
	resolver *streaming.Resolver,
	cooldown service.IssuanceCooldownStore,
	cfg *config.Config,
	logger *slog.Logger,
) *service.VideoTokenService {
	return service.NewVideoTokenService(access, content, tokens, keys, resolver, cooldown, service.VideoTokenConfig{
		DefaultTTL: cfg.VideoTokenTTL,
		Cooldown:   cfg.VideoTokenCooldown,
		Retention:  cfg.VideoTokenRetention,
	}, logger)
}

func provideDeviceTracker(repo repository.TrackingRepository, keys *security.KeyRing, cache service.AccountStatusCacheStore, cfg *config.Config, logger *slog.Logger) *service.DeviceTracker {
	return service.NewDeviceTracker(repo, keys, cache, service.DeviceTrackerConfig{
		DefaultMaxSwitches:  cfg.DefaultMaxSwitches,
		FreeDeviceAllowance: cfg.FreeDeviceAllowance,
	}, logger)
}

func provideAccountStatus(cache service.AccountStatusCacheStore, tracker *service.DeviceTracker, cfg *config.Config) middleware.AccountStatusChecker {
	return service.NewCachedAccountStatus(cache, tracker, cfg.AccountStatusCacheTTL)
}

// provideTokenRateLimiter shares the issuance budget across instances when
// Redis is configured. Nil lets the router use LocalRateLimit.
func provideTokenRateLimiter(rdb redis.UniversalClient, cfg *config.Config) router.TokenRateLimiterFunc {
	if rdb == nil {
		return nil
	}
	return middleware.NewRateLimiter(
		middleware.NewRedisLimiter(rdb, redisKeyPrefix+":rl"),
		middleware.RateLimitPolicy{Limit: cfg.TokenRateLimitRPM, Window: time.Minute},
		middleware.FailClosed, "video_token", middleware.SubjectOrIPKey,
	).Middleware()
}

func provideReadiness(db *gorm.DB, rdb redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if rdb != nil {
		checkers = append(checkers, health.NewRedisChecker(rdb))
	}
	return health.NewProbeRunner(2*time.Second, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	videos *handler.VideoHandler,
	devices *handler.DeviceHandler,
	admin *handler.AdminTrackingHandler,
	stream *handler.StreamHandler,
	jwtMgr *security.JWTManager,
	status middleware.AccountStatusChecker,
	tokenLimiter router.TokenRateLimiterFunc,
	readiness *health.ProbeRunner,
) router.Dependencies {
	return router.Dependencies{
		VideoHandler:      videos,
		DeviceHandler:     devices,
		AdminHandler:      admin,
		StreamHandler:     stream,
		JWTManager:        jwtMgr,
		AccountStatus:     status,
		CORSOrigins:       cfg.CORSOrigins,
		APIRateLimitRPM:   cfg.APIRateLimitRPM,
		TokenRateLimiter:  tokenLimiter,
		TokenRateLimitRPM: cfg.TokenRateLimitRPM,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
