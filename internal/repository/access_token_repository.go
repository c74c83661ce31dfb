package repository

import (
	"context"
	"errors"
	"time"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/observability"

	"gorm.io/gorm"
)

var ErrAccessTokenNotFound = errors.New("access token not found")

type AccessTokenRepository interface {
	Create(ctx context.Context, t *domain.AccessToken) error
	FindByHash(ctx context.Context, hash string) (*domain.AccessToken, error)
	CountIssuedSince(ctx context.Context, userID, videoID string, since time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormAccessTokenRepository struct{ db *gorm.DB }

func NewAccessTokenRepository(db *gorm.DB) AccessTokenRepository {
	return &GormAccessTokenRepository{db: db}
}

func (r *GormAccessTokenRepository) Create(ctx context.Context, t *domain.AccessToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "access_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "access_token", "create", "success")
	return nil
}

func (r *GormAccessTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.AccessToken, error) {
	var t domain.AccessToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "access_token", "find_by_hash", "not_found")
			return nil, ErrAccessTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "access_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "access_token", "find_by_hash", "success")
	return &t, nil
}

func (r *GormAccessTokenRepository) CountIssuedSince(ctx context.Context, userID, videoID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.AccessToken{}).
		Where("user_id = ? AND video_id = ? AND issued_at >= ?", userID, videoID, since).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "access_token", "count_issued_since", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "access_token", "count_issued_since", "success")
	return n, nil
}

// DeleteExpiredBefore removes audit rows whose expiry is older than cutoff.
func (r *GormAccessTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", cutoff).Delete(&domain.AccessToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "access_token", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "access_token", "delete_expired", "success")
	return res.RowsAffected, nil
}
