package repository

import (
	"context"
	"errors"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
)

// ContentStore is the read side of the catalogue the access evaluator needs.
type ContentStore interface {
	FindVideoByID(ctx context.Context, id string) (*domain.VideoAsset, error)
	FindEnrollment(ctx context.Context, userID, courseID string) (*domain.Enrollment, error)
}

type VideoRepository interface {
	ContentStore
	SaveVideo(ctx context.Context, v *domain.VideoAsset) error
	SaveEnrollment(ctx context.Context, e *domain.Enrollment) error
}

type GormVideoRepository struct{ db *gorm.DB }

func NewVideoRepository(db *gorm.DB) VideoRepository { return &GormVideoRepository{db: db} }

func (r *GormVideoRepository) FindVideoByID(ctx context.Context, id string) (*domain.VideoAsset, error) {
	var v domain.VideoAsset
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "video", "find_by_id", "not_found")
			return nil, ErrVideoNotFound
		}
		observability.RecordRepositoryOperation(ctx, "video", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "video", "find_by_id", "success")
	return &v, nil
}

func (r *GormVideoRepository) FindEnrollment(ctx context.Context, userID, courseID string) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := r.db.WithContext(ctx).Where("user_id = ? AND course_id = ?", userID, courseID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "enrollment", "find", "not_found")
			return nil, ErrEnrollmentNotFound
		}
		observability.RecordRepositoryOperation(ctx, "enrollment", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "enrollment", "find", "success")
	return &e, nil
}

func (r *GormVideoRepository) SaveVideo(ctx context.Context, v *domain.VideoAsset) error {
	if err := r.db.WithContext(ctx).Save(v).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "video", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "video", "save", "success")
	return nil
}

func (r *GormVideoRepository) SaveEnrollment(ctx context.Context, e *domain.Enrollment) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payment_status", "updated_at"}),
	}).Create(e).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "enrollment", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "enrollment", "save", "success")
	return nil
}
