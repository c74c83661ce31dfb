//go:build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/levelup-learning/levelup-video/internal/app"
	"github.com/levelup-learning/levelup-video/internal/config"
	"github.com/levelup-learning/levelup-video/internal/http/handler"
	"github.com/levelup-learning/levelup-video/internal/http/router"
	"github.com/levelup-learning/levelup-video/internal/repository"
	"github.com/levelup-learning/levelup-video/internal/service"
)

var storeSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewVideoRepository,
	provideContentStore,
	repository.NewAccessTokenRepository,
	repository.NewProgressRepository,
	repository.NewTrackingRepository,
	provideCooldownStore,
	provideAccountStatusCacheStore,
)

var serviceSet = wire.NewSet(
	provideKeyRing,
	provideJWTManager,
	provideResolver,
	service.NewAccessEvaluator,
	wire.Bind(new(service.AccessDecider), new(*service.AccessEvaluator)),
	provideVideoTokenService,
	wire.Bind(new(service.VideoTokenServiceInterface), new(*service.VideoTokenService)),
	wire.Bind(new(app.TokenCleaner), new(*service.VideoTokenService)),
	provideDeviceTracker,
	wire.Bind(new(service.DeviceTrackerInterface), new(*service.DeviceTracker)),
	service.NewProgressService,
	wire.Bind(new(service.ProgressServiceInterface), new(*service.ProgressService)),
	provideAccountStatus,
)

var httpSet = wire.NewSet(
	handler.NewVideoHandler,
	handler.NewDeviceHandler,
	handler.NewAdminTrackingHandler,
	handler.NewStreamHandler,
	provideTokenRateLimiter,
	provideReadiness,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*app.App, error) {
	wire.Build(
		provideObservability,
		storeSet,
		serviceSet,
		httpSet,
		app.New,
	)
	return nil, nil
}
