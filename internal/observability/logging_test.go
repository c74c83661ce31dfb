package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/levelup-learning/levelup-video/internal/config"
)

func TestNewLoggerJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, lp, err := NewLogger(context.Background(), &config.Config{LogLevel: "warn"}, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if lp != nil {
		t.Fatal("expected no logger provider when otel logs disabled")
	}
	logger.Info("dropped")
	logger.Warn("kept", "video_id", "v1")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["video_id"] != "v1" {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestRecordersAreNoopsWithoutInit(t *testing.T) {
	ctx := context.Background()
	RecordAccessDecision(ctx, true, "free_preview")
	RecordTokenIssuance(ctx, "minted")
	RecordDeviceLogin(ctx, "switch", true)
	RecordRepositoryOperation(ctx, "video", "find_by_id", "success")
}
