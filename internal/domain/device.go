package domain

import "time"

const (
	DefaultMaxSwitchesAllowed = 10
	MinMaxSwitchesAllowed     = 1
	MaxMaxSwitchesAllowed     = 50
	FreeDeviceAllowance       = 2
)

type DeviceRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"size:64;not null;uniqueIndex:idx_device_user_fingerprint" json:"user_id"`
	Fingerprint string    `gorm:"size:128;not null;uniqueIndex:idx_device_user_fingerprint" json:"fingerprint"`
	IPAddress   string    `gorm:"size:64" json:"ip_address"`
	DeviceType  string    `gorm:"size:32" json:"device_type"`
	OS          string    `gorm:"size:64" json:"os"`
	Browser     string    `gorm:"size:64" json:"browser"`
	IsTrusted   bool      `gorm:"not null;default:false" json:"is_trusted"`
	LoginCount  int       `gorm:"not null;default:1" json:"login_count"`
	FirstSeenAt time.Time `gorm:"not null" json:"first_seen_at"`
	LastSeenAt  time.Time `gorm:"not null;index" json:"last_seen_at"`
}

// UserTrackingState is the per-user device switch budget. IsBlocked mirrors
// DeviceSwitchCount >= MaxSwitchesAllowed except after an explicit admin unblock.
type UserTrackingState struct {
	UserID             string     `gorm:"primaryKey;size:64" json:"user_id"`
	DeviceSwitchCount  int        `gorm:"not null;default:0" json:"device_switch_count"`
	MaxSwitchesAllowed int        `gorm:"not null;default:10" json:"max_switches_allowed"`
	IsBlocked          bool       `gorm:"not null;default:false;index" json:"is_blocked"`
	BlockedAt          *time.Time `json:"blocked_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (s *UserTrackingState) OverBudget() bool {
	return s.DeviceSwitchCount >= s.MaxSwitchesAllowed
}

func (s *UserTrackingState) Block(now time.Time) {
	if s.IsBlocked {
		return
	}
	s.IsBlocked = true
	s.BlockedAt = &now
}

func (s *UserTrackingState) Unblock() {
	s.IsBlocked = false
	s.BlockedAt = nil
}

func Models() []any {
	return []any{
		&VideoAsset{},
		&Enrollment{},
		&AccessToken{},
		&WatchProgress{},
		&DeviceRecord{},
		&UserTrackingState{},
	}
}
