package player

import (
	"context"
	"time"

	"github.com/levelup-learning/levelup-video/internal/streaming"
)

type AccessChecker interface {
	CanAccess(ctx context.Context, videoID string) (bool, error)
}

// Grant is a playback token with the URLs resolved for it.
type Grant struct {
	Token          string
	ExpiresAt      time.Time
	ProgressiveURL string
	AdaptiveURL    string
}

type TokenIssuer interface {
	IssueToken(ctx context.Context, videoID string) (*Grant, error)
}

type ProgressStore interface {
	SaveProgress(ctx context.Context, videoID string, watchedSeconds, totalSeconds int) error
}

type EventKind int

const (
	EventEnded EventKind = iota + 1
	EventFatal
)

type EngineEvent struct {
	Kind EventKind
	Err  error
}

// Engine decodes one source. Load blocks until the source is ready to play.
// Events is closed when the engine is closed.
type Engine interface {
	Load(ctx context.Context, url string) error
	Play() error
	Pause() error
	Seek(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	UpdateToken(token string) error
	Events() <-chan EngineEvent
	Close() error
}

type EngineFactory func(variant streaming.Variant) (Engine, error)
