// Package streaming builds tokenized playback URLs for the streaming edge and
// picks the playback variant for a client.
package streaming

import (
	"net/url"
	"path"
	"strings"

	"github.com/levelup-learning/levelup-video/internal/domain"
)

const streamPrefix = "/stream"

type PlaybackURLs struct {
	Progressive string `json:"progressive_url,omitempty"`
	Adaptive    string `json:"adaptive_url,omitempty"`
}

func (u PlaybackURLs) Empty() bool { return u.Progressive == "" && u.Adaptive == "" }

type Resolver struct {
	baseURL string
}

func NewResolver(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/")}
}

// BuildPlaybackURLs returns {base}/stream{path}?token={token} for every storage
// path the asset has. A missing path yields an empty URL.
func (r *Resolver) BuildPlaybackURLs(asset *domain.VideoAsset, token string) PlaybackURLs {
	var out PlaybackURLs
	if asset == nil {
		return out
	}
	if p := deref(asset.StoragePathPrimary); p != "" {
		out.Progressive = r.StreamURL(p, token)
	}
	if p := deref(asset.StoragePathAdaptive); p != "" {
		out.Adaptive = r.StreamURL(p, token)
	}
	return out
}

func (r *Resolver) StreamURL(storagePath, token string) string {
	u := &url.URL{Path: streamPrefix + NormalizePath(storagePath)}
	return r.baseURL + u.EscapedPath() + "?token=" + url.QueryEscape(token)
}

// NormalizePath makes p absolute and removes dot segments.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// PathAllowed reports whether an edge request path belongs to the asset. The
// primary path matches exactly. A packager-named manifest (master.m3u8,
// index.m3u8, ...) owns its whole directory; any other manifest only owns
// its <stem>/ subdirectory and <stem>_<tag> or <stem>-<tag> media siblings
// whose tag opens with a rendition or sequence number.
func PathAllowed(asset *domain.VideoAsset, requested string) bool {
	if asset == nil {
		return false
	}
	req := NormalizePath(strings.TrimPrefix(NormalizePath(requested), streamPrefix))
	if p := deref(asset.StoragePathPrimary); p != "" && req == NormalizePath(p) {
		return true
	}
	p := deref(asset.StoragePathAdaptive)
	if p == "" {
		return false
	}
	manifest := NormalizePath(p)
	if req == manifest {
		return true
	}
	dir, base := path.Split(manifest)
	if dir == "/" || !strings.HasPrefix(req, dir) {
		return false
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	if packagerManifests[strings.ToLower(stem)] {
		return true
	}
	rest := strings.TrimPrefix(req, dir)
	if strings.HasPrefix(rest, stem+"/") {
		return true
	}
	if strings.Contains(rest, "/") || !segmentExts[strings.ToLower(path.Ext(rest))] {
		return false
	}
	name := strings.TrimSuffix(rest, path.Ext(rest))
	for _, sep := range []string{"_", "-"} {
		if suffix, ok := strings.CutPrefix(name, stem+sep); ok {
			return isRenditionSuffix(suffix)
		}
	}
	return false
}

// isRenditionSuffix accepts tags that open with a number, such as 720p,
// 00001 or 720p_00003.
func isRenditionSuffix(s string) bool {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// Manifest names HLS packagers write once per output directory.
var packagerManifests = map[string]bool{
	"master":     true,
	"index":      true,
	"playlist":   true,
	"manifest":   true,
	"main":       true,
	"prog_index": true,
}

var segmentExts = map[string]bool{
	".m3u8": true,
	".ts":   true,
	".m4s":  true,
	".aac":  true,
	".vtt":  true,
	".key":  true,
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
