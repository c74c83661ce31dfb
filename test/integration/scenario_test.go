package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/levelup-learning/levelup-video/internal/apiclient"
	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/player"
	"github.com/levelup-learning/levelup-video/internal/player/headless"
	"github.com/levelup-learning/levelup-video/internal/streaming"
)

func (s *stack) newRuntime(session string) *player.Runtime {
	s.t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := apiclient.New(apiclient.Options{BaseURL: s.api.URL, Session: session, Timeout: 5 * time.Second, Logger: logger})
	if err != nil {
		s.t.Fatalf("api client: %v", err)
	}
	return player.NewRuntime(client, client, client,
		headless.Factory(s.edge.Client(), logger),
		player.Config{AutoPlay: true, Capabilities: streaming.Capabilities{AdaptiveLibrary: true}},
		logger)
}

// A first login from a new device creates the tracking row without spending
// the switch budget; an unenrolled user is then denied before any token exists.
func TestNewDeviceThenDeniedPlayback(t *testing.T) {
	s := newStack(t)
	s.seedCourse("", "")
	session := s.session("student-1")

	resp, env := s.do(http.MethodPost, "/api/v1/devices/login", session, map[string]string{"fingerprint": "fp-laptop"})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("device login failed: %d %+v", resp.StatusCode, env.Error)
	}
	var state domain.UserTrackingState
	if err := s.db.First(&state, "user_id = ?", "student-1").Error; err != nil {
		t.Fatalf("expected tracking row: %v", err)
	}
	if state.DeviceSwitchCount != 0 || state.IsBlocked {
		t.Fatalf("expected fresh tracking state, got %+v", state)
	}

	rt := s.newRuntime(session)
	defer rt.Close()
	err := rt.Load(context.Background(), "lesson-1")
	var perr *player.PlaybackError
	if !errors.As(err, &perr) || perr.Kind != player.KindAccessDenied {
		t.Fatalf("expected access denied playback error, got %v", err)
	}
	if rt.State() != player.Denied {
		t.Fatalf("expected Denied, got %s", rt.State())
	}
	if rt.Err() == nil || rt.Err().Message() != player.Message(player.KindAccessDenied) {
		t.Fatalf("expected localized access denied message, got %+v", rt.Err())
	}
	if n := s.countTokens(); n != 0 {
		t.Fatalf("expected no token issued, found %d", n)
	}

	// The issuer enforces the same rule without the pre-check.
	resp, env = s.do(http.MethodPost, "/api/v1/videos/lesson-1/token", session, map[string]any{})
	if resp.StatusCode != http.StatusForbidden || env.Error == nil || env.Error.Code != "ACCESS_DENIED" {
		t.Fatalf("expected ACCESS_DENIED from issuer, got %d %+v", resp.StatusCode, env.Error)
	}
	if n := s.countTokens(); n != 0 {
		t.Fatalf("expected no token after denied issuance, found %d", n)
	}
}

func TestEnrolledPlaybackThroughEdge(t *testing.T) {
	s := newStack(t)
	s.seedCourse("student-2", domain.PaymentStatusCompleted)
	session := s.session("student-2")

	rt := s.newRuntime(session)
	if err := rt.Load(context.Background(), "lesson-1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if rt.State() != player.Playing || rt.Variant() != streaming.VariantAdaptive {
		t.Fatalf("expected adaptive playback, got %s %s", rt.State(), rt.Variant())
	}
	if rt.Duration() != 6*time.Second {
		t.Fatalf("expected manifest duration 6s, got %s", rt.Duration())
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for i, status := range s.edgeLog.snapshot() {
		if status != http.StatusNoContent {
			t.Fatalf("edge request %d was not authorized: %d", i, status)
		}
	}
	if n := s.countTokens(); n != 1 {
		t.Fatalf("expected one persisted token, found %d", n)
	}
	var stored domain.AccessToken
	if err := s.db.First(&stored).Error; err != nil {
		t.Fatalf("load token: %v", err)
	}

	resp, env := s.do(http.MethodGet, "/api/v1/videos/lesson-1/progress", session, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected progress flushed on close, got %d %+v", resp.StatusCode, env.Error)
	}
	var progress domain.WatchProgress
	if err := json.Unmarshal(env.Data, &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.TotalSeconds != 6 || progress.Completed {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestEdgeRejectsForgedTokensAndForeignPaths(t *testing.T) {
	s := newStack(t)
	s.seedCourse("student-3", domain.PaymentStatusCompleted)
	session := s.session("student-3")

	resp, env := s.do(http.MethodPost, "/api/v1/videos/lesson-1/token", session, map[string]any{"ttl_minutes": 30})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("issue token: %d %+v", resp.StatusCode, env.Error)
	}
	var issued struct {
		Token       string `json:"token"`
		AdaptiveURL string `json:"adaptive_url"`
	}
	if err := json.Unmarshal(env.Data, &issued); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	get := func(path, token string) int {
		r, err := s.edge.Client().Get(s.edge.URL + path + "?token=" + token)
		if err != nil {
			t.Fatalf("edge get: %v", err)
		}
		_ = r.Body.Close()
		return r.StatusCode
	}
	if got := get("/stream/videos/lesson-1/hls/720p/seg1.ts", issued.Token); got != http.StatusOK {
		t.Fatalf("expected segment served, got %d", got)
	}
	if got := get("/stream/videos/lesson-1/hls/720p/seg1.ts", "forged"); got != http.StatusForbidden {
		t.Fatalf("expected forged token rejected, got %d", got)
	}
	if got := get("/stream/videos/lesson-2/hls/master.m3u8", issued.Token); got != http.StatusForbidden {
		t.Fatalf("expected other video's path rejected, got %d", got)
	}
	if got := get("/stream/videos/lesson-1/hls/../../preview-1/video.mp4", issued.Token); got != http.StatusForbidden {
		t.Fatalf("expected traversal rejected, got %d", got)
	}
}

func TestDeviceSwitchBudgetBlocksAndAdminUnblocks(t *testing.T) {
	s := newStack(t)
	s.seedCourse("student-4", domain.PaymentStatusCompleted)
	session := s.session("student-4")
	admin := s.session("admin-1", "tracking:*")

	var last struct {
		Blocked           bool `json:"blocked"`
		DeviceSwitchCount int  `json:"device_switch_count"`
	}
	for _, fp := range []string{"fp-1", "fp-2", "fp-3", "fp-4", "fp-5"} {
		resp, env := s.do(http.MethodPost, "/api/v1/devices/login", session, map[string]string{"fingerprint": fp})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login %s: %d", fp, resp.StatusCode)
		}
		if err := json.Unmarshal(env.Data, &last); err != nil {
			t.Fatalf("decode login: %v", err)
		}
	}
	if !last.Blocked || last.DeviceSwitchCount != 3 {
		t.Fatalf("expected block at 3 switches, got %+v", last)
	}

	resp, env := s.do(http.MethodPost, "/api/v1/videos/lesson-1/token", session, map[string]any{})
	if resp.StatusCode != http.StatusForbidden || env.Error == nil || env.Error.Code != "ACCOUNT_BLOCKED" {
		t.Fatalf("expected ACCOUNT_BLOCKED, got %d %+v", resp.StatusCode, env.Error)
	}

	resp, _ = s.do(http.MethodPost, "/api/v1/admin/tracking/student-4/unblock", session, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected student to lack tracking:write, got %d", resp.StatusCode)
	}
	resp, env = s.do(http.MethodPost, "/api/v1/admin/tracking/student-4/unblock", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin unblock: %d %+v", resp.StatusCode, env.Error)
	}

	resp, env = s.do(http.MethodPost, "/api/v1/videos/lesson-1/token", session, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected token after unblock, got %d %+v", resp.StatusCode, env.Error)
	}

	resp, env = s.do(http.MethodGet, "/api/v1/admin/tracking?blocked=false", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin list: %d %+v", resp.StatusCode, env.Error)
	}
	var page struct {
		Items []struct {
			UserID            string `json:"user_id"`
			DeviceSwitchCount int    `json:"device_switch_count"`
			Severity          string `json:"severity"`
			DeviceCount       int    `json:"device_count"`
		} `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].UserID != "student-4" || page.Items[0].DeviceCount != 5 || page.Items[0].Severity != "critical" {
		t.Fatalf("unexpected tracking page %+v", page.Items)
	}
}
