package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/levelup-learning/levelup-video/internal/config"
	"github.com/levelup-learning/levelup-video/internal/health"
	"github.com/levelup-learning/levelup-video/internal/observability"
)

// TokenCleaner prunes video access tokens past their retention window.
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Readiness     *health.ProbeRunner
	Tokens        TokenCleaner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
	CleanupInterval              time.Duration
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	rdb redis.UniversalClient,
	readiness *health.ProbeRunner,
	tokens TokenCleaner,
) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		DB:                           db,
		Redis:                        rdb,
		Readiness:                    readiness,
		Tokens:                       tokens,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		CleanupInterval:              cfg.TokenCleanupInterval,
	}
}

// Run serves until ctx is cancelled or the listener fails, then shuts down in
// phases: drain HTTP, close stores, flush telemetry.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.Tokens != nil && a.CleanupInterval > 0 {
		g.Go(func() error {
			a.cleanupLoop(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) cleanupLoop(ctx context.Context) {
	t := time.NewTicker(a.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.Tokens.CleanupExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.Logger.Warn("video token cleanup failed", "error", err)
				}
				continue
			}
			if n > 0 {
				a.Logger.Info("video tokens pruned", "count", n)
			}
		}
	}
}

func (a *App) shutdown() error {
	deadline := time.Now().Add(a.ShutdownTimeout)
	var errs []error

	drainCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownHTTPDrainTimeout)
	if err := a.Server.Shutdown(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("http drain: %w", err))
	}
	cancel()

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}

	obsTimeout := min(a.ShutdownObservabilityTimeout, max(time.Until(deadline), 0))
	obsCtx, cancel := context.WithTimeout(context.Background(), obsTimeout)
	if err := a.Observability.Shutdown(obsCtx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	cancel()

	err := errors.Join(errs...)
	if err != nil {
		a.Logger.Error("shutdown finished with errors", "error", err)
	} else {
		a.Logger.Info("shutdown complete")
	}
	return err
}
