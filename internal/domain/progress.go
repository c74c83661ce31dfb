package domain

import "time"

const CompletionThresholdPercent = 90

type WatchProgress struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	UserID         string    `gorm:"size:64;not null;uniqueIndex:idx_progress_user_video" json:"user_id"`
	VideoID        string    `gorm:"size:64;not null;uniqueIndex:idx_progress_user_video" json:"video_id"`
	WatchedSeconds int       `gorm:"not null;default:0" json:"watched_seconds"`
	TotalSeconds   int       `gorm:"not null;default:0" json:"total_seconds"`
	Completed      bool      `gorm:"not null;default:false" json:"completed"`
	LastWatchedAt  time.Time `gorm:"not null" json:"last_watched_at"`
}

// IsComplete applies the 90% rule without floating point: 899/1000 is not complete, 900/1000 is.
func IsComplete(watchedSeconds, totalSeconds int) bool {
	if totalSeconds <= 0 || watchedSeconds <= 0 {
		return false
	}
	return watchedSeconds*100 >= totalSeconds*CompletionThresholdPercent
}

func ProgressPercentage(watchedSeconds, totalSeconds int) int {
	if totalSeconds <= 0 || watchedSeconds <= 0 {
		return 0
	}
	pct := watchedSeconds * 100 / totalSeconds
	if pct > 100 {
		return 100
	}
	return pct
}
