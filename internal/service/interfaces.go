package service

import (
	"context"
	"time"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/repository"
)

type AccessDecider interface {
	Decide(ctx context.Context, userID, videoID string) (AccessDecision, error)
}

type VideoTokenServiceInterface interface {
	Issue(ctx context.Context, req IssueRequest) (*IssuedToken, error)
	Validate(ctx context.Context, raw string, now time.Time) (*domain.AccessToken, error)
	Authorize(ctx context.Context, raw, path string, now time.Time) (*domain.AccessToken, error)
}

type DeviceTrackerInterface interface {
	RecordLogin(ctx context.Context, ev LoginEvent) (LoginResult, error)
	IsBlocked(ctx context.Context, userID string) (bool, error)
	ResetSwitches(ctx context.Context, userID string) (*domain.UserTrackingState, error)
	Unblock(ctx context.Context, userID string) (*domain.UserTrackingState, error)
	SetMaxSwitches(ctx context.Context, userID string, newMax int) (*domain.UserTrackingState, error)
	SetSwitchCount(ctx context.Context, userID string, count int) (*domain.UserTrackingState, error)
	ListTrackingData(ctx context.Context, q repository.TrackingListQuery) (repository.PageResult[TrackingRow], error)
	ListDevices(ctx context.Context, userID string) ([]domain.DeviceRecord, error)
	SetDeviceTrusted(ctx context.Context, userID string, deviceID uint, trusted bool) error
}

type ProgressServiceInterface interface {
	Save(ctx context.Context, userID, videoID string, watchedSeconds, totalSeconds int) (*domain.WatchProgress, error)
	Get(ctx context.Context, userID, videoID string) (*domain.WatchProgress, error)
}

// AccountStatusChecker is what the account middleware needs from the tracker.
type AccountStatusChecker interface {
	IsBlocked(ctx context.Context, userID string) (bool, error)
}
