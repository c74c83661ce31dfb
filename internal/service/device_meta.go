package service

import (
	"strings"

	"github.com/mileusna/useragent"
)

type DeviceMeta struct {
	DeviceType string
	OS         string
	Browser    string
}

// ParseDeviceMeta is best effort; an unparseable agent yields "unknown" fields.
func ParseDeviceMeta(rawUA string) DeviceMeta {
	if strings.TrimSpace(rawUA) == "" {
		return DeviceMeta{DeviceType: "unknown", OS: "unknown", Browser: "unknown"}
	}
	ua := useragent.Parse(rawUA)
	meta := DeviceMeta{
		DeviceType: deviceType(ua),
		OS:         orUnknown(strings.TrimSpace(ua.OS + " " + ua.OSVersion)),
		Browser:    orUnknown(ua.Name),
	}
	meta.OS = truncate(meta.OS, 64)
	meta.Browser = truncate(meta.Browser, 64)
	return meta
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	case ua.Desktop:
		return "desktop"
	default:
		return "unknown"
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
