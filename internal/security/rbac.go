package security

import "strings"

const (
	PermissionTrackingRead  = "tracking:read"
	PermissionTrackingWrite = "tracking:write"
)

// HasPermission accepts an exact match, "resource:*" or "*".
func HasPermission(granted []string, required string) bool {
	resource, _, _ := strings.Cut(required, ":")
	for _, p := range granted {
		p = strings.TrimSpace(p)
		switch {
		case p == required, p == "*":
			return true
		case strings.HasSuffix(p, ":*") && strings.TrimSuffix(p, ":*") == resource:
			return true
		}
	}
	return false
}
