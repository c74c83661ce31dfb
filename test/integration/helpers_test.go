package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/grafov/m3u8"
	"gorm.io/gorm"

	"github.com/levelup-learning/levelup-video/internal/app"
	"github.com/levelup-learning/levelup-video/internal/config"
	"github.com/levelup-learning/levelup-video/internal/database"
	"github.com/levelup-learning/levelup-video/internal/di"
	"github.com/levelup-learning/levelup-video/internal/domain"
	"github.com/levelup-learning/levelup-video/internal/security"
)

const (
	testJWTSecret  = "integration-jwt-secret-0123456789abcdef"
	testHashSecret = "integration-hash-secret-0123456789abcde"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stack struct {
	t       *testing.T
	app     *app.App
	db      *gorm.DB
	api     *httptest.Server
	edge    *httptest.Server
	jwt     *security.JWTManager
	redis   *miniredis.Miniredis
	edgeLog *edgeLog
}

type edgeLog struct {
	mu       sync.Mutex
	statuses []int
}

func (l *edgeLog) add(status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
}

func (l *edgeLog) snapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.statuses...)
}

// newStack wires the real application over sqlite and miniredis, fronted by
// an edge that asks the API to authorize every media request, the way the
// production CDN's auth_request hook does.
func newStack(t *testing.T) *stack {
	t.Helper()
	mr := miniredis.RunT(t)

	var apiHandler http.Handler
	log := &edgeLog{}
	media := newMediaFiles(t)
	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := url.Values{"token": {r.URL.Query().Get("token")}, "path": {r.URL.Path}}
		rec := httptest.NewRecorder()
		apiHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream/authorize?"+q.Encode(), nil))
		log.add(rec.Code)
		if rec.Code != http.StatusNoContent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, ok := media[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", rec.Header().Get("X-Content-Type"))
		_, _ = w.Write(body)
	}))
	t.Cleanup(edge.Close)

	cfg := &config.Config{
		AppEnv:                       "test",
		HTTPAddr:                     "127.0.0.1:0",
		DatabaseDriver:               "sqlite",
		DatabaseURL:                  fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
		RedisAddr:                    mr.Addr(),
		JWTIssuer:                    "levelup",
		JWTAudience:                  "levelup-web",
		JWTSecret:                    testJWTSecret,
		TokenHashSecret:              testHashSecret,
		StreamBaseURL:                edge.URL,
		VideoTokenTTL:                120 * time.Minute,
		VideoTokenCooldown:           30 * time.Second,
		VideoTokenRetention:          24 * time.Hour,
		TokenCleanupInterval:         time.Minute,
		DefaultMaxSwitches:           3,
		FreeDeviceAllowance:          2,
		AccountStatusCacheTTL:        15 * time.Second,
		APIRateLimitRPM:              6000,
		TokenRateLimitRPM:            60,
		OTELServiceName:              "levelup-video-itest",
		ShutdownTimeout:              5 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := di.InitializeApp(context.Background(), cfg, logger, nil)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	if err := database.Migrate(context.Background(), a.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	apiHandler = a.Server.Handler
	api := httptest.NewServer(apiHandler)
	t.Cleanup(func() {
		api.Close()
		_ = a.Redis.Close()
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return &stack{
		t:       t,
		app:     a,
		db:      a.DB,
		api:     api,
		edge:    edge,
		jwt:     security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret),
		redis:   mr,
		edgeLog: log,
	}
}

func (s *stack) session(userID string, perms ...string) string {
	s.t.Helper()
	raw, err := s.jwt.SignAccessToken(userID, nil, perms, time.Hour)
	if err != nil {
		s.t.Fatalf("sign session: %v", err)
	}
	return raw
}

func (s *stack) do(method, path, session string, body any) (*http.Response, envelope) {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.api.URL+path, rdr)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36")
	resp, err := s.api.Client().Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		s.t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp, env
}

func strPtr(s string) *string { return &s }

// seedCourse stores one paid course video, one free preview and an optional enrollment.
func (s *stack) seedCourse(enrolledUser string, status domain.PaymentStatus) {
	s.t.Helper()
	videos := []domain.VideoAsset{
		{
			ID:                  "lesson-1",
			CourseID:            strPtr("course-1"),
			Title:               "Lesson 1",
			StoragePathPrimary:  strPtr("videos/lesson-1/video.mp4"),
			StoragePathAdaptive: strPtr("videos/lesson-1/hls/master.m3u8"),
			DurationSeconds:     6,
		},
		{
			ID:                 "preview-1",
			CourseID:           strPtr("course-1"),
			Title:              "Preview",
			StoragePathPrimary: strPtr("videos/preview-1/video.mp4"),
			IsFreePreview:      true,
		},
	}
	for i := range videos {
		if err := s.db.Create(&videos[i]).Error; err != nil {
			s.t.Fatalf("seed video: %v", err)
		}
	}
	if enrolledUser != "" {
		if err := s.db.Create(&domain.Enrollment{UserID: enrolledUser, CourseID: "course-1", PaymentStatus: status}).Error; err != nil {
			s.t.Fatalf("seed enrollment: %v", err)
		}
	}
}

func (s *stack) countTokens() int64 {
	s.t.Helper()
	var n int64
	if err := s.db.Model(&domain.AccessToken{}).Count(&n).Error; err != nil {
		s.t.Fatalf("count tokens: %v", err)
	}
	return n
}

// newMediaFiles builds the edge's file tree for lesson-1 and preview-1.
func newMediaFiles(t *testing.T) map[string][]byte {
	t.Helper()
	media, err := m3u8.NewMediaPlaylist(0, 3)
	if err != nil {
		t.Fatalf("media playlist: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := media.Append(fmt.Sprintf("seg%d.ts", i), 2, ""); err != nil {
			t.Fatalf("append segment: %v", err)
		}
	}
	media.Close()
	master := m3u8.NewMasterPlaylist()
	master.Append("720p/index.m3u8", media, m3u8.VariantParams{Bandwidth: 2500000, Resolution: "1280x720"})

	return map[string][]byte{
		"/stream/videos/lesson-1/hls/master.m3u8":     []byte(master.String()),
		"/stream/videos/lesson-1/hls/720p/index.m3u8": []byte(media.String()),
		"/stream/videos/lesson-1/hls/720p/seg0.ts":    []byte("seg0"),
		"/stream/videos/lesson-1/hls/720p/seg1.ts":    []byte("seg1"),
		"/stream/videos/lesson-1/hls/720p/seg2.ts":    []byte("seg2"),
		"/stream/videos/lesson-1/video.mp4":           []byte("mp4"),
		"/stream/videos/preview-1/video.mp4":          []byte("mp4"),
		"/stream/videos/lesson-2/hls/master.m3u8":     []byte(master.String()),
	}
}
