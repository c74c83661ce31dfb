package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/levelup-learning/levelup-video/internal/config"
	"github.com/levelup-learning/levelup-video/internal/health"
)

type countingCleaner struct {
	calls atomic.Int32
}

func (c *countingCleaner) CleanupExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 3, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ShutdownTimeout:              10 * time.Second,
		ShutdownHTTPDrainTimeout:     2 * time.Second,
		ShutdownObservabilityTimeout: 3 * time.Second,
		TokenCleanupInterval:         10 * time.Millisecond,
	}
}

func TestNewAssignsDependenciesAndTimeouts(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := &http.Server{Addr: ":8080", ReadHeaderTimeout: time.Second}
	readiness := health.NewProbeRunner(100 * time.Millisecond)
	cleaner := &countingCleaner{}

	a := New(cfg, logger, server, nil, nil, nil, readiness, cleaner)
	if a.Config != cfg || a.Logger != logger || a.Server != server || a.Readiness != readiness || a.Tokens != cleaner {
		t.Fatal("expected app dependencies to be assigned")
	}
	if a.ShutdownTimeout != cfg.ShutdownTimeout || a.ShutdownHTTPDrainTimeout != cfg.ShutdownHTTPDrainTimeout || a.ShutdownObservabilityTimeout != cfg.ShutdownObservabilityTimeout {
		t.Fatal("expected app shutdown timeouts copied from config")
	}
	if a.CleanupInterval != cfg.TokenCleanupInterval {
		t.Fatal("expected cleanup interval copied from config")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestRunServesCleansUpAndShutsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	addr := freeAddr(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: time.Second}
	cleaner := &countingCleaner{}
	a := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), server, nil, nil, rdb, nil, cleaner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health/live")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	for cleaner.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cleaner.calls.Load() == 0 {
		t.Fatal("expected token cleanup to run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if err := rdb.Ping(context.Background()).Err(); err == nil {
		t.Fatal("expected redis client closed after shutdown")
	}
}

func TestRunReturnsListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	server := &http.Server{Addr: l.Addr().String(), ReadHeaderTimeout: time.Second}
	a := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), server, nil, nil, nil, nil, nil)
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error when the address is taken")
	}
}
