package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/levelup-learning/levelup-video/internal/security"
)

func setServerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:cli_test?mode=memory&cache=shared")
	t.Setenv("JWT_SECRET", "cli-test-jwt-secret-0123456789abcdef")
	t.Setenv("TOKEN_HASH_SECRET", "cli-test-hash-secret-0123456789abcde")
	t.Setenv("STREAM_BASE_URL", "https://media.example.com")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"serve", "migrate", "token", "play", "loadgen"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("expected %s subcommand, got %v %v", name, c, err)
		}
	}
}

func TestTokenCommandMintsSessionWithPermissions(t *testing.T) {
	setServerEnv(t)
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "admin-1", "--perm", "tracking:read", "--perm", "tracking:write"})
	if err := root.Execute(); err != nil {
		t.Fatalf("token command: %v", err)
	}

	claims, err := security.NewJWTManager("levelup", "levelup-web", "cli-test-jwt-secret-0123456789abcdef").ParseAccessToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.UserID() != "admin-1" || !security.HasPermission(claims.Permissions, security.PermissionTrackingWrite) {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenCommandRefusesProduction(t *testing.T) {
	setServerEnv(t)
	t.Setenv("APP_ENV", "production")
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--user", "u1"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected refusal in production")
	}
}

func TestPlayRequiresSession(t *testing.T) {
	t.Setenv("LEVELUP_SESSION", "")
	root := NewRootCommand()
	root.SetArgs([]string{"play", "vid-1", "--env-file", t.TempDir() + "/missing.env"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "session") {
		t.Fatalf("expected session error, got %v", err)
	}
}
