package domain

import "time"

// AccessToken grants playback of one video to one user until ExpiresAt.
// Only a keyed hash of the opaque token is stored.
type AccessToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TokenHash string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID    string    `gorm:"size:64;index:idx_access_token_user_video;not null" json:"user_id"`
	VideoID   string    `gorm:"size:64;index:idx_access_token_user_video;not null" json:"video_id"`
	IssuedAt  time.Time `gorm:"not null" json:"issued_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	UserAgent string    `gorm:"size:512" json:"user_agent"`
	IP        string    `gorm:"size:64" json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidAt reports whether the token is still accepted at t. Expired tokens are never reactivated.
func (t *AccessToken) ValidAt(now time.Time) bool {
	return t != nil && now.Before(t.ExpiresAt)
}
