package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/observability"
	"github.com/levelup-learning/levelup-video/internal/repository"
	"github.com/levelup-learning/levelup-video/internal/security"
	"github.com/levelup-learning/levelup-video/internal/streaming"
)

const (
	DefaultVideoTokenTTL = 120 * time.Minute
	MinVideoTokenTTL     = time.Minute
	MaxVideoTokenTTL     = 720 * time.Minute
	TokenRefreshLead     = 5 * time.Minute
)

var (
	ErrNoSession      = errors.New("no user session")
	ErrAccessDenied   = errors.New("access denied")
	ErrVideoNotFound  = errors.New("video not found")
	ErrTokenInvalid   = errors.New("invalid video token")
	ErrTokenExpired   = errors.New("video token expired")
	ErrPathNotAllowed = errors.New("path not covered by token")
)

type IssueRequest struct {
	UserID    string
	VideoID   string
	TTL       time.Duration
	UserAgent string
	IP        string
}

type IssuedToken struct {
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	RefreshAt      time.Time `json:"refresh_at"`
	ProgressiveURL string    `json:"progressive_url,omitempty"`
	AdaptiveURL    string    `json:"adaptive_url,omitempty"`
	Reused         bool      `json:"-"`
}

type VideoTokenConfig struct {
	DefaultTTL time.Duration
	Cooldown   time.Duration
	Retention  time.Duration
}

// VideoTokenService mints opaque playback tokens. It runs the access check
// itself; a client-side pre-check is never trusted.
type VideoTokenService struct {
	access   AccessDecider
	content  repository.ContentStore
	tokens   repository.AccessTokenRepository
	keys     *security.KeyRing
	resolver *streaming.Resolver
	cooldown IssuanceCooldownStore
	cfg      VideoTokenConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewVideoTokenService(
	access AccessDecider,
	content repository.ContentStore,
	tokens repository.AccessTokenRepository,
	keys *security.KeyRing,
	resolver *streaming.Resolver,
	cooldown IssuanceCooldownStore,
	cfg VideoTokenConfig,
	logger *slog.Logger,
) *VideoTokenService {
	if cooldown == nil {
		cooldown = NewNoopIssuanceCooldownStore()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultVideoTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoTokenService{
		access:   access,
		content:  content,
		tokens:   tokens,
		keys:     keys,
		resolver: resolver,
		cooldown: cooldown,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func ClampTTL(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = def
	}
	if ttl < MinVideoTokenTTL {
		return MinVideoTokenTTL
	}
	if ttl > MaxVideoTokenTTL {
		return MaxVideoTokenTTL
	}
	return ttl
}

func (s *VideoTokenService) Issue(ctx context.Context, req IssueRequest) (*IssuedToken, error) {
	if req.UserID == "" {
		observability.RecordTokenIssuance(ctx, "no_session")
		return nil, ErrNoSession
	}
	decision, err := s.access.Decide(ctx, req.UserID, req.VideoID)
	if err != nil {
		observability.RecordTokenIssuance(ctx, "error")
		return nil, fmt.Errorf("check access: %w", err)
	}
	if !decision.Allowed {
		observability.RecordTokenIssuance(ctx, "denied")
		if decision.Reason == ReasonVideoNotFound {
			return nil, ErrVideoNotFound
		}
		return nil, ErrAccessDenied
	}
	video := decision.Video
	if video == nil {
		if video, err = s.content.FindVideoByID(ctx, req.VideoID); err != nil {
			observability.RecordTokenIssuance(ctx, "error")
			return nil, fmt.Errorf("load video: %w", err)
		}
	}
	now := s.now()

	if cached, ok := s.reusable(ctx, req, now); ok {
		observability.RecordTokenIssuance(ctx, "reused")
		return s.build(video, cached.Token, cached.ExpiresAt, true), nil
	}

	raw, err := security.NewOpaqueToken()
	if err != nil {
		observability.RecordTokenIssuance(ctx, "error")
		return nil, fmt.Errorf("generate token: %w", err)
	}
	expiresAt := now.Add(ClampTTL(req.TTL, s.cfg.DefaultTTL))
	if err := s.tokens.Create(ctx, &domain.AccessToken{
		TokenHash: s.keys.HashToken(raw),
		UserID:    req.UserID,
		VideoID:   req.VideoID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		UserAgent: truncate(req.UserAgent, 512),
		IP:        truncate(req.IP, 64),
	}); err != nil {
		observability.RecordTokenIssuance(ctx, "error")
		return nil, fmt.Errorf("persist token: %w", err)
	}
	if s.cfg.Cooldown > 0 {
		if err := s.cooldown.Set(ctx, req.UserID, req.VideoID, CachedIssuance{Token: raw, ExpiresAt: expiresAt}, s.cfg.Cooldown); err != nil {
			s.logger.WarnContext(ctx, "issuance cooldown write failed", "user_id", req.UserID, "video_id", req.VideoID, "error", err)
		}
	}
	observability.RecordTokenIssuance(ctx, "issued")
	return s.build(video, raw, expiresAt, false), nil
}

// reusable returns the token minted inside the cooldown window while it still
// has more than the refresh lead left.
func (s *VideoTokenService) reusable(ctx context.Context, req IssueRequest, now time.Time) (*CachedIssuance, bool) {
	if s.cfg.Cooldown <= 0 {
		return nil, false
	}
	cached, ok, err := s.cooldown.Get(ctx, req.UserID, req.VideoID)
	if err != nil {
		s.logger.WarnContext(ctx, "issuance cooldown read failed", "user_id", req.UserID, "video_id", req.VideoID, "error", err)
		return nil, false
	}
	if !ok || cached == nil || cached.ExpiresAt.Sub(now) <= TokenRefreshLead {
		return nil, false
	}
	return cached, true
}

func (s *VideoTokenService) build(video *domain.VideoAsset, raw string, expiresAt time.Time, reused bool) *IssuedToken {
	urls := s.resolver.BuildPlaybackURLs(video, raw)
	return &IssuedToken{
		Token:          raw,
		ExpiresAt:      expiresAt,
		RefreshAt:      expiresAt.Add(-TokenRefreshLead),
		ProgressiveURL: urls.Progressive,
		AdaptiveURL:    urls.Adaptive,
		Reused:         reused,
	}
}

// Validate resolves a raw token; it is valid iff now is strictly before expires_at.
func (s *VideoTokenService) Validate(ctx context.Context, raw string, now time.Time) (*domain.AccessToken, error) {
	if raw == "" {
		observability.RecordTokenValidation(ctx, "missing")
		return nil, ErrTokenInvalid
	}
	tok, err := s.tokens.FindByHash(ctx, s.keys.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrAccessTokenNotFound) {
			observability.RecordTokenValidation(ctx, "unknown")
			return nil, ErrTokenInvalid
		}
		observability.RecordTokenValidation(ctx, "error")
		return nil, err
	}
	if !tok.ValidAt(now) {
		observability.RecordTokenValidation(ctx, "expired")
		return nil, ErrTokenExpired
	}
	observability.RecordTokenValidation(ctx, "valid")
	return tok, nil
}

// Authorize is the edge check: a valid token and a path that belongs to the
// token's video. A request without a path is denied.
func (s *VideoTokenService) Authorize(ctx context.Context, raw, path string, now time.Time) (*domain.AccessToken, error) {
	tok, err := s.Validate(ctx, raw, now)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrPathNotAllowed
	}
	video, err := s.content.FindVideoByID(ctx, tok.VideoID)
	if err != nil {
		if errors.Is(err, repository.ErrVideoNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !streaming.PathAllowed(video, path) {
		return nil, ErrPathNotAllowed
	}
	return tok, nil
}

// CleanupExpired drops token rows that expired more than the retention window ago.
func (s *VideoTokenService) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.tokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("delete expired tokens: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired video tokens removed", "count", n)
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
