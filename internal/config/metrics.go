package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// loadStage names the step of Load that failed.
type loadStage string

const (
	stageDotEnv   loadStage = "dotenv"
	stageFile     loadStage = "file"
	stageEnv      loadStage = "env"
	stageParse    loadStage = "parse"
	stageValidate loadStage = "validation"
)

type stageError struct {
	stage loadStage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failAt(stage loadStage, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

// stageOf reports "none" for a nil error and "load" for errors Load did not tag.
func stageOf(err error) string {
	if err == nil {
		return "none"
	}
	var se *stageError
	if errors.As(err, &se) {
		return string(se.stage)
	}
	return "load"
}

var loadEvents = sync.OnceValue(func() metric.Int64Counter {
	counter, err := otel.Meter("levelup-video").Int64Counter("config.load.events",
		metric.WithDescription("Configuration load attempts by outcome and failing stage"))
	if err != nil {
		return nil
	}
	return counter
})

func recordLoad(ctx context.Context, appEnv string, err error) {
	counter := loadEvents()
	if counter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_env", appEnvLabel(appEnv)),
		attribute.String("outcome", outcome),
		attribute.String("stage", stageOf(err)),
		attribute.Bool("file", strings.TrimSpace(os.Getenv(ConfigFileEnvVar)) != ""),
	))
}

func appEnvLabel(appEnv string) string {
	v := strings.ToLower(strings.TrimSpace(appEnv))
	if v == "" {
		return "unknown"
	}
	return v
}
