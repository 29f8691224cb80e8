package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/targetd/internal/auth"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// writeConfig writes a minimal config using a temporary database and a free
// API port, and points TARGETD_CONFIG at it.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	content := fmt.Sprintf(`
database:
  path: %q
  wal_mode: true
  busy_timeout: 5

api:
  host: "127.0.0.1"
  port: %d

logging:
  level: error
  format: text

security:
  jwt:
    secret: %q

run_configs:
  - name: app
  - name: wear-app
    min_api_level: 30
%s`, filepath.Join(tmpDir, "targetd.db"), port, testJWTSecret, extra)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TARGETD_CONFIG", path)
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("TARGETD_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_ProvisioningRequiresMQTT(t *testing.T) {
	writeConfig(t, "\ndiscovery:\n  mqtt_provisioning: true\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "mqtt_provisioning") {
		t.Fatalf("run() error = %v, want mqtt_provisioning validation error", err)
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	writeConfig(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want clean shutdown", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("TARGETD_CONFIG", "")
		if got := getConfigPath(); got != defaultConfigPath {
			t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("TARGETD_CONFIG", "/custom/path/config.yaml")
		if got := getConfigPath(); got != "/custom/path/config.yaml" {
			t.Errorf("getConfigPath() = %q", got)
		}
	})

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv("TARGETD_CONFIG", "/custom/path/config.yaml")
		configPath = "/flag/config.yaml"
		t.Cleanup(func() { configPath = "" })
		if got := getConfigPath(); got != "/flag/config.yaml" {
			t.Errorf("getConfigPath() = %q", got)
		}
	})
}

func TestTokenCmd(t *testing.T) {
	writeConfig(t, "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--subject", "ci", "--role", "viewer"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), testJWTSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "ci" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %+v", claims)
	}

	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--subject", "ci", "--role", "root"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("token with unknown role succeeded")
	}
}

func TestMigrateCmd(t *testing.T) {
	writeConfig(t, "")

	migrate := func(t *testing.T, args ...string) string {
		t.Helper()
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"migrate"}, args...))
		if err := cmd.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("migrate %v: %v", args, err)
		}
		return out.String()
	}

	migrate(t, "up")
	if got := migrate(t, "status"); strings.Contains(got, "pending") || strings.Count(got, "applied") != 2 {
		t.Errorf("after up, status =\n%s", got)
	}

	migrate(t, "down")
	got := migrate(t, "status")
	if strings.Count(got, "applied") != 1 || !strings.Contains(got, "pending  20260302_090000") {
		t.Errorf("after down, status =\n%s", got)
	}
}
