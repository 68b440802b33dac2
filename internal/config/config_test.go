// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "hookline.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:4000"

database:
  path: "./test.db"

hitl:
  delivery_timeout: "3s"

stream:
  max_replay: 50

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:4000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:4000")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.HITL.DeliveryTimeout != 3*time.Second {
		t.Errorf("DeliveryTimeout = %v, want %v", cfg.HITL.DeliveryTimeout, 3*time.Second)
	}
	if cfg.Stream.MaxReplay != 50 {
		t.Errorf("MaxReplay = %d, want 50", cfg.Stream.MaxReplay)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:4000"
database:
  path: ":memory:"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HITL.DeliveryTimeout != 5*time.Second {
		t.Errorf("default DeliveryTimeout = %v, want 5s", cfg.HITL.DeliveryTimeout)
	}
	if cfg.Stream.MaxReplay != 100 {
		t.Errorf("default MaxReplay = %d, want 100", cfg.Stream.MaxReplay)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("HOOKLINE_TEST_DB", "/tmp/expanded.db")

	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:4000"
database:
  path: "${HOOKLINE_TEST_DB}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want expanded env value", cfg.Database.Path)
	}
}

func TestLoad_MissingHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "http_addr") {
		t.Errorf("error %q does not mention http_addr", err)
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:4000"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error %q does not mention database.path", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:4000"
database:
  path: "./test.db"
hitl:
  delivery_timeout: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected duration parse error, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/hookline.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
