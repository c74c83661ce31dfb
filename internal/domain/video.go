package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// VideoAsset is one playable lesson video. Non-preview videos must belong to a course.
type VideoAsset struct {
	ID                  string    `gorm:"primaryKey;size:64" json:"id"`
	CourseID            *string   `gorm:"size:64;index" json:"course_id,omitempty"`
	Title               string    `gorm:"size:255" json:"title"`
	StoragePathPrimary  *string   `gorm:"size:1024" json:"storage_path_primary,omitempty"`
	StoragePathAdaptive *string   `gorm:"size:1024" json:"storage_path_adaptive,omitempty"`
	DurationSeconds     int       `gorm:"not null;default:0" json:"duration_seconds"`
	IsFreePreview       bool      `gorm:"not null;default:false" json:"is_free_preview"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type Enrollment struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	UserID        string        `gorm:"size:64;not null;uniqueIndex:idx_enrollment_user_course" json:"user_id"`
	CourseID      string        `gorm:"size:64;not null;uniqueIndex:idx_enrollment_user_course" json:"course_id"`
	PaymentStatus PaymentStatus `gorm:"size:32;not null;default:pending" json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (e *Enrollment) IsPaid() bool {
	return e != nil && e.PaymentStatus == PaymentStatusCompleted
}
