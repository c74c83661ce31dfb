package service

import "github.com/levelup-learning/levelup-video/internal/domain"

type Severity string

const (
	SeverityBlocked  Severity = "blocked"
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityOK       Severity = "ok"
)

// ClassifySeverity ranks a tracking row for the admin view. First match wins.
func ClassifySeverity(s domain.UserTrackingState) Severity {
	switch n, max := s.DeviceSwitchCount, s.MaxSwitchesAllowed; {
	case s.IsBlocked:
		return SeverityBlocked
	case n >= max-1:
		return SeverityCritical
	case n >= max-3:
		return SeverityHigh
	case n >= 3:
		return SeverityMedium
	case n >= 1:
		return SeverityLow
	default:
		return SeverityOK
	}
}
