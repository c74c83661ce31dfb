package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levelup-learning/levelup-video/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "levelup-video"

type AppMetrics struct {
	accessDecisionCounter   metric.Int64Counter
	tokenIssueCounter       metric.Int64Counter
	tokenValidationCounter  metric.Int64Counter
	sessionTokenCounter     metric.Int64Counter
	deviceLoginCounter      metric.Int64Counter
	accountBlockCounter     metric.Int64Counter
	trackingFailureCounter  metric.Int64Counter
	adminTrackingCounter    metric.Int64Counter
	progressSaveCounter     metric.Int64Counter
	repositoryOpCounter     metric.Int64Counter
	rateLimitCounter        metric.Int64Counter
	rateLimitRetryHistogram metric.Float64Histogram
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.accessDecisionCounter, "video.access.decisions"},
		{&m.tokenIssueCounter, "video.token.issuance"},
		{&m.tokenValidationCounter, "video.token.validations"},
		{&m.sessionTokenCounter, "auth.session_token.validations"},
		{&m.deviceLoginCounter, "device.logins"},
		{&m.accountBlockCounter, "device.account.blocks"},
		{&m.trackingFailureCounter, "device.tracking.write_failures"},
		{&m.adminTrackingCounter, "admin.tracking.mutations"},
		{&m.progressSaveCounter, "video.progress.saves"},
		{&m.repositoryOpCounter, "repository.operations"},
		{&m.rateLimitCounter, "http.rate_limit.decisions"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
	}
	m.rateLimitRetryHistogram, err = meter.Float64Histogram("http.rate_limit.retry_after", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAccessDecision(ctx context.Context, allowed bool, reason string) {
	m := current()
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.accessDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// RecordTokenIssuance outcome is one of minted, reused, denied, error.
func RecordTokenIssuance(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenIssueCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordTokenValidation(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenValidationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionTokenCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

// RecordDeviceLogin kind is one of repeat, free, switch.
func RecordDeviceLogin(ctx context.Context, kind string, blocked bool) {
	m := current()
	if m == nil {
		return
	}
	m.deviceLoginCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("blocked", blocked),
	))
}

func RecordAccountBlocked(ctx context.Context, trigger string) {
	m := current()
	if m == nil {
		return
	}
	m.accountBlockCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func RecordTrackingWriteFailure(ctx context.Context) {
	m := current()
	if m == nil {
		return
	}
	m.trackingFailureCounter.Add(ctx, 1)
}

func RecordAdminTrackingMutation(ctx context.Context, action string) {
	m := current()
	if m == nil {
		return
	}
	m.adminTrackingCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func RecordProgressSave(ctx context.Context, status string, completed bool) {
	m := current()
	if m == nil {
		return
	}
	m.progressSaveCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("completed", completed),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, mode, keyType string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("mode", mode),
		attribute.String("key_type", keyType),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, retryAfter time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitRetryHistogram.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("reason", reason),
	))
}
