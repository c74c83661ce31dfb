package database

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/levelup-learning/levelup-video/internal/config"
	"github.com/levelup-learning/levelup-video/internal/domain"
)

func TestOpenSQLiteMigratesAndPings(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: "sqlite", DatabaseURL: "file:database_open_test?mode=memory&cache=shared"}
	db, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Ping(ctx, db); err != nil {
		t.Fatalf("ping: %v", err)
	}
	for _, m := range domain.Models() {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("expected table for %T", m)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: "mysql", DatabaseURL: "x"}
	if _, err := Open(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
