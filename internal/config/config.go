package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	ConfigFileEnvVar = "LEVELUP_CONFIG_FILE"
	DotEnvFile       = ".env"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseDriver string
	DatabaseURL    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer   string
	JWTAudience string
	JWTSecret   string

	TokenHashSecret      string
	StreamBaseURL        string
	VideoTokenTTL        time.Duration
	VideoTokenCooldown   time.Duration
	VideoTokenRetention  time.Duration
	TokenCleanupInterval time.Duration

	DefaultMaxSwitches    int
	FreeDeviceAllowance   int
	AccountStatusCacheTTL time.Duration

	CORSOrigins       []string
	APIRateLimitRPM   int
	TokenRateLimitRPM int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSampleRatio      float64

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads .env (existing environment wins), an optional YAML file named by
// LEVELUP_CONFIG_FILE, then the process environment, and validates the result.
func Load() (*Config, error) {
	cfg, err := load()
	profile := os.Getenv("APP_ENV")
	if cfg != nil {
		profile = cfg.AppEnv
	}
	recordLoad(context.Background(), profile, err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	if _, err := os.Stat(DotEnvFile); err == nil {
		if err := godotenv.Load(DotEnvFile); err != nil {
			return nil, failAt(stageDotEnv, fmt.Errorf("load %s: %w", DotEnvFile, err))
		}
	}

	k := koanf.New(".")
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnvVar)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, failAt(stageFile, fmt.Errorf("load config file %s: %w", path, err))
		}
	}
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, failAt(stageEnv, fmt.Errorf("load environment: %w", err))
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	r := reader{k: k}
	cfg := &Config{
		AppEnv:   r.str("APP_ENV", "development"),
		HTTPAddr: r.str("HTTP_ADDR", ":8080"),
		LogLevel: r.str("LOG_LEVEL", "info"),

		DatabaseDriver: strings.ToLower(r.str("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    r.str("DATABASE_URL", ""),

		RedisAddr:     r.str("REDIS_ADDR", ""),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		RedisDB:       r.int("REDIS_DB", 0),

		JWTIssuer:   r.str("JWT_ISSUER", "levelup"),
		JWTAudience: r.str("JWT_AUDIENCE", "levelup-web"),
		JWTSecret:   r.str("JWT_SECRET", ""),

		TokenHashSecret:      r.str("TOKEN_HASH_SECRET", ""),
		StreamBaseURL:        strings.TrimRight(r.str("STREAM_BASE_URL", ""), "/"),
		VideoTokenTTL:        r.duration("VIDEO_TOKEN_TTL", 120*time.Minute),
		VideoTokenCooldown:   r.duration("VIDEO_TOKEN_COOLDOWN", 30*time.Second),
		VideoTokenRetention:  r.duration("VIDEO_TOKEN_RETENTION", 24*time.Hour),
		TokenCleanupInterval: r.duration("TOKEN_CLEANUP_INTERVAL", 15*time.Minute),

		DefaultMaxSwitches:    r.int("DEFAULT_MAX_SWITCHES", 10),
		FreeDeviceAllowance:   r.int("FREE_DEVICE_ALLOWANCE", 2),
		AccountStatusCacheTTL: r.duration("ACCOUNT_STATUS_CACHE_TTL", 15*time.Second),

		CORSOrigins:       r.list("CORS_ORIGINS", []string{"http://localhost:5173"}),
		APIRateLimitRPM:   r.int("API_RATE_LIMIT_RPM", 600),
		TokenRateLimitRPM: r.int("TOKEN_RATE_LIMIT_RPM", 30),

		OTELServiceName:           r.str("OTEL_SERVICE_NAME", "levelup-video"),
		OTELEnvironment:           r.str("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  r.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  r.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        r.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        r.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           r.bool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: r.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSampleRatio:      r.float("OTEL_TRACE_SAMPLE_RATIO", 1.0),

		ShutdownTimeout:              r.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		ShutdownHTTPDrainTimeout:     r.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: r.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
	}
	if r.err != nil {
		return nil, failAt(stageParse, r.err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, failAt(stageValidate, fmt.Errorf("validate config: %w", err))
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if len(c.TokenHashSecret) < 32 {
		errs = append(errs, errors.New("TOKEN_HASH_SECRET must be at least 32 characters"))
	}
	if u, err := url.Parse(c.StreamBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, errors.New("STREAM_BASE_URL must be an absolute URL"))
	}
	if c.VideoTokenTTL < time.Minute {
		errs = append(errs, errors.New("VIDEO_TOKEN_TTL must be at least 1m"))
	}
	if c.VideoTokenCooldown < 0 || c.VideoTokenCooldown >= c.VideoTokenTTL {
		errs = append(errs, errors.New("VIDEO_TOKEN_COOLDOWN must be non-negative and shorter than VIDEO_TOKEN_TTL"))
	}
	if c.DefaultMaxSwitches < 1 || c.DefaultMaxSwitches > 50 {
		errs = append(errs, errors.New("DEFAULT_MAX_SWITCHES must be within [1, 50]"))
	}
	if c.FreeDeviceAllowance < 0 {
		errs = append(errs, errors.New("FREE_DEVICE_ALLOWANCE must be non-negative"))
	}
	if c.APIRateLimitRPM <= 0 || c.TokenRateLimitRPM <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.ShutdownHTTPDrainTimeout > c.ShutdownTimeout || c.ShutdownObservabilityTimeout > c.ShutdownTimeout {
		errs = append(errs, errors.New("shutdown phase timeouts must not exceed SHUTDOWN_TIMEOUT"))
	}
	if c.OTELTraceSampleRatio < 0 || c.OTELTraceSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLE_RATIO must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	env := appEnvLabel(c.AppEnv)
	return env == "production" || env == "prod"
}

// reader keeps the first parse error so fromKoanf can read every key in one pass.
type reader struct {
	k   *koanf.Koanf
	err error
}

func (r *reader) raw(key string) (string, bool) {
	path := strings.ToLower(key)
	if !r.k.Exists(path) {
		return "", false
	}
	v := strings.TrimSpace(r.k.String(path))
	return v, v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("parse %s: %w", key, err)
	}
}
