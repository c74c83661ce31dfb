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
)

var (
	ErrInvalidMaxSwitches = errors.New("max switches must be within [1, 50]")
	ErrInvalidUserID      = errors.New("user id is required")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrUserNotTracked     = errors.New("user has no tracking state")
)

type LoginEvent struct {
	UserID      string
	Fingerprint string
	IP          string
	UserAgent   string
}

type LoginResult struct {
	Blocked            bool   `json:"blocked"`
	NewDevice          bool   `json:"new_device"`
	DeviceID           uint   `json:"device_id"`
	Fingerprint        string `json:"fingerprint"`
	DeviceSwitchCount  int    `json:"device_switch_count"`
	MaxSwitchesAllowed int    `json:"max_switches_allowed"`
}

type TrackingRow struct {
	domain.UserTrackingState
	Severity    Severity `json:"severity"`
	DeviceCount int64    `json:"device_count"`
}

type DeviceTrackerConfig struct {
	DefaultMaxSwitches  int
	FreeDeviceAllowance int
}

// DeviceTracker counts device switches at login and blocks users who exceed
// their budget. Writes for one user are serialized by locking the state row.
type DeviceTracker struct {
	repo        repository.TrackingRepository
	keys        *security.KeyRing
	statusCache AccountStatusCacheStore
	cfg         DeviceTrackerConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewDeviceTracker(repo repository.TrackingRepository, keys *security.KeyRing, statusCache AccountStatusCacheStore, cfg DeviceTrackerConfig, logger *slog.Logger) *DeviceTracker {
	if cfg.DefaultMaxSwitches < domain.MinMaxSwitchesAllowed || cfg.DefaultMaxSwitches > domain.MaxMaxSwitchesAllowed {
		cfg.DefaultMaxSwitches = domain.DefaultMaxSwitchesAllowed
	}
	if cfg.FreeDeviceAllowance < 0 {
		cfg.FreeDeviceAllowance = domain.FreeDeviceAllowance
	}
	if statusCache == nil {
		statusCache = NewNoopAccountStatusCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceTracker{
		repo:        repo,
		keys:        keys,
		statusCache: statusCache,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (t *DeviceTracker) RecordLogin(ctx context.Context, ev LoginEvent) (LoginResult, error) {
	if ev.UserID == "" {
		return LoginResult{}, ErrInvalidUserID
	}
	fingerprint := ev.Fingerprint
	if fingerprint == "" {
		fingerprint = t.keys.DeriveFingerprint(ev.UserAgent, ev.IP)
	}
	now := t.now()
	result := LoginResult{Fingerprint: fingerprint}
	blockedNow := false

	err := t.repo.Transaction(ctx, func(tx repository.TrackingRepository) error {
		state, err := tx.LockState(ctx, ev.UserID, t.cfg.DefaultMaxSwitches)
		if err != nil {
			return fmt.Errorf("lock tracking state: %w", err)
		}
		dev, err := tx.FindDevice(ctx, ev.UserID, fingerprint)
		switch {
		case err == nil:
			if err := tx.TouchDevice(ctx, dev.ID, ev.IP, now); err != nil {
				return fmt.Errorf("touch device: %w", err)
			}
			result.DeviceID = dev.ID
		case errors.Is(err, repository.ErrDeviceNotFound):
			meta := ParseDeviceMeta(ev.UserAgent)
			dev = &domain.DeviceRecord{
				UserID:      ev.UserID,
				Fingerprint: fingerprint,
				IPAddress:   truncate(ev.IP, 64),
				DeviceType:  meta.DeviceType,
				OS:          meta.OS,
				Browser:     meta.Browser,
				LoginCount:  1,
				FirstSeenAt: now,
				LastSeenAt:  now,
			}
			if err := tx.CreateDevice(ctx, dev); err != nil {
				return fmt.Errorf("create device: %w", err)
			}
			result.DeviceID = dev.ID
			result.NewDevice = true

			distinct, err := tx.CountDevices(ctx, ev.UserID)
			if err != nil {
				return fmt.Errorf("count devices: %w", err)
			}
			if distinct > int64(t.cfg.FreeDeviceAllowance) {
				state.DeviceSwitchCount++
				if state.OverBudget() && !state.IsBlocked {
					state.Block(now)
					blockedNow = true
				}
				if err := tx.SaveState(ctx, state); err != nil {
					return fmt.Errorf("save tracking state: %w", err)
				}
			}
		default:
			return fmt.Errorf("find device: %w", err)
		}
		result.Blocked = state.IsBlocked
		result.DeviceSwitchCount = state.DeviceSwitchCount
		result.MaxSwitchesAllowed = state.MaxSwitchesAllowed
		return nil
	})
	if err != nil {
		observability.RecordTrackingWriteFailure(ctx)
		return LoginResult{Fingerprint: fingerprint}, err
	}

	kind := "repeat"
	if result.NewDevice {
		kind = "new"
	}
	observability.RecordDeviceLogin(ctx, kind, result.Blocked)
	if blockedNow {
		t.invalidateStatus(ctx, ev.UserID)
		observability.RecordAccountBlocked(ctx, "login")
		t.logger.WarnContext(ctx, "account blocked after device switches",
			"user_id", ev.UserID,
			"device_switch_count", result.DeviceSwitchCount,
			"max_switches_allowed", result.MaxSwitchesAllowed,
		)
	}
	return result, nil
}

func (t *DeviceTracker) IsBlocked(ctx context.Context, userID string) (bool, error) {
	state, err := t.repo.GetState(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrTrackingStateNotFound) {
			return false, nil
		}
		return false, err
	}
	return state.IsBlocked, nil
}

func (t *DeviceTracker) ResetSwitches(ctx context.Context, userID string) (*domain.UserTrackingState, error) {
	return t.mutate(ctx, userID, "reset", func(s *domain.UserTrackingState, _ time.Time) error {
		s.DeviceSwitchCount = 0
		s.Unblock()
		return nil
	})
}

// Unblock clears the block only. The switch count is kept, so the next new
// device login re-trips the block until an admin resets the count.
func (t *DeviceTracker) Unblock(ctx context.Context, userID string) (*domain.UserTrackingState, error) {
	return t.mutate(ctx, userID, "unblock", func(s *domain.UserTrackingState, _ time.Time) error {
		s.Unblock()
		return nil
	})
}

func (t *DeviceTracker) SetMaxSwitches(ctx context.Context, userID string, newMax int) (*domain.UserTrackingState, error) {
	if newMax < domain.MinMaxSwitchesAllowed || newMax > domain.MaxMaxSwitchesAllowed {
		return nil, ErrInvalidMaxSwitches
	}
	return t.mutate(ctx, userID, "set_max_switches", func(s *domain.UserTrackingState, now time.Time) error {
		s.MaxSwitchesAllowed = newMax
		reevaluateBlock(s, now)
		return nil
	})
}

// SetSwitchCount clamps value to [0, max_switches_allowed].
func (t *DeviceTracker) SetSwitchCount(ctx context.Context, userID string, value int) (*domain.UserTrackingState, error) {
	return t.mutate(ctx, userID, "set_switch_count", func(s *domain.UserTrackingState, now time.Time) error {
		s.DeviceSwitchCount = max(0, min(value, s.MaxSwitchesAllowed))
		reevaluateBlock(s, now)
		return nil
	})
}

func reevaluateBlock(s *domain.UserTrackingState, now time.Time) {
	if s.OverBudget() {
		s.Block(now)
		return
	}
	s.Unblock()
}

func (t *DeviceTracker) mutate(ctx context.Context, userID, action string, fn func(*domain.UserTrackingState, time.Time) error) (*domain.UserTrackingState, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	now := t.now()
	var out *domain.UserTrackingState
	var wasBlocked bool
	err := t.repo.Transaction(ctx, func(tx repository.TrackingRepository) error {
		state, err := tx.LockExistingState(ctx, userID)
		if errors.Is(err, repository.ErrTrackingStateNotFound) {
			return ErrUserNotTracked
		}
		if err != nil {
			return err
		}
		wasBlocked = state.IsBlocked
		if err := fn(state, now); err != nil {
			return err
		}
		if err := tx.SaveState(ctx, state); err != nil {
			return err
		}
		out = state
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	t.invalidateStatus(ctx, userID)
	observability.RecordAdminTrackingMutation(ctx, action)
	if out.IsBlocked && !wasBlocked {
		observability.RecordAccountBlocked(ctx, action)
	}
	return out, nil
}

func (t *DeviceTracker) invalidateStatus(ctx context.Context, userID string) {
	if err := t.statusCache.InvalidateUser(ctx, userID); err != nil {
		t.logger.WarnContext(ctx, "account status cache invalidation failed", "user_id", userID, "error", err)
	}
}

func (t *DeviceTracker) ListTrackingData(ctx context.Context, q repository.TrackingListQuery) (repository.PageResult[TrackingRow], error) {
	page, err := t.repo.ListStates(ctx, q)
	if err != nil {
		return repository.PageResult[TrackingRow]{}, err
	}
	userIDs := make([]string, 0, len(page.Items))
	for _, s := range page.Items {
		userIDs = append(userIDs, s.UserID)
	}
	counts, err := t.repo.CountDevicesByUser(ctx, userIDs)
	if err != nil {
		return repository.PageResult[TrackingRow]{}, err
	}
	rows := make([]TrackingRow, 0, len(page.Items))
	for _, s := range page.Items {
		rows = append(rows, TrackingRow{UserTrackingState: s, Severity: ClassifySeverity(s), DeviceCount: counts[s.UserID]})
	}
	return repository.PageResult[TrackingRow]{
		Items:      rows,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}, nil
}

func (t *DeviceTracker) ListDevices(ctx context.Context, userID string) ([]domain.DeviceRecord, error) {
	return t.repo.ListDevices(ctx, userID)
}

func (t *DeviceTracker) SetDeviceTrusted(ctx context.Context, userID string, deviceID uint, trusted bool) error {
	if err := t.repo.SetDeviceTrusted(ctx, userID, deviceID, trusted); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}
	observability.RecordAdminTrackingMutation(ctx, "set_device_trusted")
	return nil
}
