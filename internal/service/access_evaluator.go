package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/repository"
)

type AccessReason string

const (
	ReasonFreePreview    AccessReason = "free_preview"
	ReasonEnrolled       AccessReason = "enrolled"
	ReasonNotEnrolled    AccessReason = "not_enrolled"
	ReasonPaymentPending AccessReason = "payment_pending"
	ReasonVideoNotFound  AccessReason = "video_not_found"
	ReasonNoSession      AccessReason = "no_session"
	ReasonLookupError    AccessReason = "lookup_error"
)

type AccessDecision struct {
	Allowed bool               `json:"allowed"`
	Reason  AccessReason       `json:"reason"`
	Video   *domain.VideoAsset `json:"-"`
}

// AccessEvaluator decides whether a user may play a video. It fails closed
// and re-reads the catalogue on every call.
type AccessEvaluator struct {
	content repository.ContentStore
	logger  *slog.Logger
}

func NewAccessEvaluator(content repository.ContentStore, logger *slog.Logger) *AccessEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessEvaluator{content: content, logger: logger}
}

func (e *AccessEvaluator) CanAccess(ctx context.Context, userID, videoID string) bool {
	d, _ := e.Decide(ctx, userID, videoID)
	return d.Allowed
}

// Decide returns a denied decision together with the error when a lookup fails.
func (e *AccessEvaluator) Decide(ctx context.Context, userID, videoID string) (AccessDecision, error) {
	d, err := e.decide(ctx, userID, videoID)
	observability.RecordAccessDecision(ctx, d.Allowed, string(d.Reason))
	if err != nil {
		e.logger.WarnContext(ctx, "access lookup failed", "user_id", userID, "video_id", videoID, "error", err)
	}
	return d, err
}

func (e *AccessEvaluator) decide(ctx context.Context, userID, videoID string) (AccessDecision, error) {
	if userID == "" {
		return AccessDecision{Reason: ReasonNoSession}, nil
	}
	video, err := e.content.FindVideoByID(ctx, videoID)
	if err != nil {
		if errors.Is(err, repository.ErrVideoNotFound) {
			return AccessDecision{Reason: ReasonVideoNotFound}, nil
		}
		return AccessDecision{Reason: ReasonLookupError}, err
	}
	if video.IsFreePreview {
		return AccessDecision{Allowed: true, Reason: ReasonFreePreview, Video: video}, nil
	}
	if video.CourseID == nil || *video.CourseID == "" {
		return AccessDecision{Reason: ReasonNotEnrolled, Video: video}, nil
	}
	enrollment, err := e.content.FindEnrollment(ctx, userID, *video.CourseID)
	if err != nil {
		if errors.Is(err, repository.ErrEnrollmentNotFound) {
			return AccessDecision{Reason: ReasonNotEnrolled, Video: video}, nil
		}
		return AccessDecision{Reason: ReasonLookupError, Video: video}, err
	}
	switch {
	case enrollment.IsPaid():
		return AccessDecision{Allowed: true, Reason: ReasonEnrolled, Video: video}, nil
	case enrollment.PaymentStatus == domain.PaymentStatusPending:
		return AccessDecision{Reason: ReasonPaymentPending, Video: video}, nil
	default:
		return AccessDecision{Reason: ReasonNotEnrolled, Video: video}, nil
	}
}
