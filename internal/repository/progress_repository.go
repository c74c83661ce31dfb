package repository

import (
	"context"
	"errors"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrProgressNotFound = errors.New("watch progress not found")

type ProgressRepository interface {
	Upsert(ctx context.Context, p *domain.WatchProgress) error
	Find(ctx context.Context, userID, videoID string) (*domain.WatchProgress, error)
}

type GormProgressRepository struct{ db *gorm.DB }

func NewProgressRepository(db *gorm.DB) ProgressRepository { return &GormProgressRepository{db: db} }

// Upsert relies on the (user_id, video_id) unique index; the last write wins.
func (r *GormProgressRepository) Upsert(ctx context.Context, p *domain.WatchProgress) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"watched_seconds", "total_seconds", "completed", "last_watched_at"}),
	}).Create(p).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "watch_progress", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "watch_progress", "upsert", "success")
	return nil
}

func (r *GormProgressRepository) Find(ctx context.Context, userID, videoID string) (*domain.WatchProgress, error) {
	var p domain.WatchProgress
	err := r.db.WithContext(ctx).Where("user_id = ? AND video_id = ?", userID, videoID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "watch_progress", "find", "not_found")
			return nil, ErrProgressNotFound
		}
		observability.RecordRepositoryOperation(ctx, "watch_progress", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "watch_progress", "find", "success")
	return &p, nil
}
