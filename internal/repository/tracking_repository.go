package repository

import (
	"context"
	"errors"
	"time"

	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDeviceNotFound        = errors.New("device not found")
	ErrTrackingStateNotFound = errors.New("tracking state not found")
)

type TrackingListQuery struct {
	PageRequest
	BlockedOnly bool
	UserID      string
}

// TrackingRepository persists device records and per-user switch budgets.
// Transaction hands fn a repository bound to one database transaction.
type TrackingRepository interface {
	Transaction(ctx context.Context, fn func(tx TrackingRepository) error) error

	FindDevice(ctx context.Context, userID, fingerprint string) (*domain.DeviceRecord, error)
	CreateDevice(ctx context.Context, d *domain.DeviceRecord) error
	TouchDevice(ctx context.Context, id uint, ip string, now time.Time) error
	CountDevices(ctx context.Context, userID string) (int64, error)
	CountDevicesByUser(ctx context.Context, userIDs []string) (map[string]int64, error)
	ListDevices(ctx context.Context, userID string) ([]domain.DeviceRecord, error)
	SetDeviceTrusted(ctx context.Context, userID string, deviceID uint, trusted bool) error

	GetState(ctx context.Context, userID string) (*domain.UserTrackingState, error)
	LockState(ctx context.Context, userID string, defaultMax int) (*domain.UserTrackingState, error)
	LockExistingState(ctx context.Context, userID string) (*domain.UserTrackingState, error)
	SaveState(ctx context.Context, s *domain.UserTrackingState) error
	ListStates(ctx context.Context, q TrackingListQuery) (PageResult[domain.UserTrackingState], error)
}

type GormTrackingRepository struct{ db *gorm.DB }

func NewTrackingRepository(db *gorm.DB) TrackingRepository { return &GormTrackingRepository{db: db} }

func (r *GormTrackingRepository) Transaction(ctx context.Context, fn func(tx TrackingRepository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormTrackingRepository{db: tx})
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tracking", "transaction", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "tracking", "transaction", "success")
	return nil
}

func (r *GormTrackingRepository) FindDevice(ctx context.Context, userID, fingerprint string) (*domain.DeviceRecord, error) {
	var d domain.DeviceRecord
	err := r.db.WithContext(ctx).Where("user_id = ? AND fingerprint = ?", userID, fingerprint).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "device", "find", "not_found")
			return nil, ErrDeviceNotFound
		}
		observability.RecordRepositoryOperation(ctx, "device", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "device", "find", "success")
	return &d, nil
}

func (r *GormTrackingRepository) CreateDevice(ctx context.Context, d *domain.DeviceRecord) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "device", "create", "success")
	return nil
}

func (r *GormTrackingRepository) TouchDevice(ctx context.Context, id uint, ip string, now time.Time) error {
	updates := map[string]any{
		"login_count":  gorm.Expr("login_count + 1"),
		"last_seen_at": now,
	}
	if ip != "" {
		updates["ip_address"] = ip
	}
	res := r.db.WithContext(ctx).Model(&domain.DeviceRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device", "touch", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "device", "touch", "not_found")
		return ErrDeviceNotFound
	}
	observability.RecordRepositoryOperation(ctx, "device", "touch", "success")
	return nil
}

func (r *GormTrackingRepository) CountDevices(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.DeviceRecord{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "count", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "device", "count", "success")
	return n, nil
}

// CountDevicesByUser counts devices for every listed user in one grouped
// query. Users without devices are absent from the map.
func (r *GormTrackingRepository) CountDevicesByUser(ctx context.Context, userIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		UserID string
		N      int64
	}
	err := r.db.WithContext(ctx).Model(&domain.DeviceRecord{}).
		Select("user_id, COUNT(*) AS n").
		Where("user_id IN ?", userIDs).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "count_by_user", "error")
		return nil, err
	}
	for _, row := range rows {
		out[row.UserID] = row.N
	}
	observability.RecordRepositoryOperation(ctx, "device", "count_by_user", "success")
	return out, nil
}

func (r *GormTrackingRepository) ListDevices(ctx context.Context, userID string) ([]domain.DeviceRecord, error) {
	var out []domain.DeviceRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("last_seen_at desc").Order("id asc").Find(&out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "device", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "device", "list", "success")
	return out, nil
}

func (r *GormTrackingRepository) SetDeviceTrusted(ctx context.Context, userID string, deviceID uint, trusted bool) error {
	res := r.db.WithContext(ctx).Model(&domain.DeviceRecord{}).
		Where("id = ? AND user_id = ?", deviceID, userID).
		Update("is_trusted", trusted)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "device", "set_trusted", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "device", "set_trusted", "not_found")
		return ErrDeviceNotFound
	}
	observability.RecordRepositoryOperation(ctx, "device", "set_trusted", "success")
	return nil
}

func (r *GormTrackingRepository) GetState(ctx context.Context, userID string) (*domain.UserTrackingState, error) {
	var s domain.UserTrackingState
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "tracking_state", "get", "not_found")
			return nil, ErrTrackingStateNotFound
		}
		observability.RecordRepositoryOperation(ctx, "tracking_state", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "tracking_state", "get", "success")
	return &s, nil
}

// LockState creates the state row on first use and returns it locked for update.
// SQLite has no row locks; there the enclosing transaction serializes writers.
func (r *GormTrackingRepository) LockState(ctx context.Context, userID string, defaultMax int) (*domain.UserTrackingState, error) {
	seed := domain.UserTrackingState{UserID: userID, MaxSwitchesAllowed: defaultMax}
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "tracking_state", "lock", "error")
		return nil, err
	}
	var s domain.UserTrackingState
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&s).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "tracking_state", "lock", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "tracking_state", "lock", "success")
	return &s, nil
}

// LockExistingState locks a state row without creating one.
func (r *GormTrackingRepository) LockExistingState(ctx context.Context, userID string) (*domain.UserTrackingState, error) {
	var s domain.UserTrackingState
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "tracking_state", "lock_existing", "not_found")
			return nil, ErrTrackingStateNotFound
		}
		observability.RecordRepositoryOperation(ctx, "tracking_state", "lock_existing", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "tracking_state", "lock_existing", "success")
	return &s, nil
}

func (r *GormTrackingRepository) SaveState(ctx context.Context, s *domain.UserTrackingState) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "tracking_state", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "tracking_state", "save", "success")
	return nil
}

func (r *GormTrackingRepository) ListStates(ctx context.Context, q TrackingListQuery) (PageResult[domain.UserTrackingState], error) {
	page := normalizePageRequest(q.PageRequest)
	base := r.db.WithContext(ctx).Model(&domain.UserTrackingState{})
	if q.BlockedOnly {
		base = base.Where("is_blocked = ?", true)
	}
	if q.UserID != "" {
		base = base.Where("user_id = ?", q.UserID)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "tracking_state", "list", "error")
		return PageResult[domain.UserTrackingState]{}, err
	}
	var items []domain.UserTrackingState
	err := base.Session(&gorm.Session{}).
		Order("device_switch_count desc").
		Order("user_id asc").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "tracking_state", "list", "error")
		return PageResult[domain.UserTrackingState]{}, err
	}
	observability.RecordRepositoryOperation(ctx, "tracking_state", "list", "success")
	return PageResult[domain.UserTrackingState]{
		Items:      items,
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      total,
		TotalPages: calcTotalPages(total, page.PageSize),
	}, nil
}
