package streaming

import (
	"path"
	"strings"
)

type Variant int

const (
	VariantNone Variant = iota
	VariantProgressive
	VariantAdaptive
)

func (v Variant) String() string {
	switch v {
	case VariantProgressive:
		return "progressive"
	case VariantAdaptive:
		return "adaptive"
	default:
		return "none"
	}
}

// Capabilities describes what the playback environment can decode.
type Capabilities struct {
	NativeAdaptive  bool
	AdaptiveLibrary bool
}

func (c Capabilities) SupportsAdaptive() bool { return c.NativeAdaptive || c.AdaptiveLibrary }

// Selection is the source chosen for one load.
type Selection struct {
	Variant  Variant
	URL      string
	Fallback string
}

// SelectVariant is evaluated once per load. Adaptive is preferred when both the
// environment and the asset allow it; the progressive URL is kept as fallback.
func SelectVariant(caps Capabilities, urls PlaybackURLs) Selection {
	if caps.SupportsAdaptive() && urls.Adaptive != "" {
		return Selection{Variant: VariantAdaptive, URL: urls.Adaptive, Fallback: urls.Progressive}
	}
	if urls.Progressive != "" {
		return Selection{Variant: VariantProgressive, URL: urls.Progressive}
	}
	return Selection{Variant: VariantNone}
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".vtt":  "text/vtt",
}

func ContentType(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if ct, ok := contentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}
