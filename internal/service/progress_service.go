package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/repository"
)

var (
	ErrInvalidProgress  = errors.New("watched and total seconds must be non-negative")
	ErrProgressNotFound = errors.New("watch progress not found")
)

type ProgressService struct {
	repo repository.ProgressRepository
	now  func() time.Time
}

func NewProgressService(repo repository.ProgressRepository) *ProgressService {
	return &ProgressService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Save upserts the (user, video) row. completed is derived here, never taken from the client.
func (s *ProgressService) Save(ctx context.Context, userID, videoID string, watchedSeconds, totalSeconds int) (*domain.WatchProgress, error) {
	if userID == "" {
		return nil, ErrNoSession
	}
	if watchedSeconds < 0 || totalSeconds < 0 {
		return nil, ErrInvalidProgress
	}
	p := &domain.WatchProgress{
		UserID:         userID,
		VideoID:        videoID,
		WatchedSeconds: watchedSeconds,
		TotalSeconds:   totalSeconds,
		Completed:      domain.IsComplete(watchedSeconds, totalSeconds),
		LastWatchedAt:  s.now(),
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		observability.RecordProgressSave(ctx, "error", p.Completed)
		return nil, fmt.Errorf("upsert progress: %w", err)
	}
	observability.RecordProgressSave(ctx, "success", p.Completed)
	return p, nil
}

func (s *ProgressService) Get(ctx context.Context, userID, videoID string) (*domain.WatchProgress, error) {
	if userID == "" {
		return nil, ErrNoSession
	}
	p, err := s.repo.Find(ctx, userID, videoID)
	if err != nil {
		if errors.Is(err, repository.ErrProgressNotFound) {
			return nil, ErrProgressNotFound
		}
		return nil, err
	}
	return p, nil
}
