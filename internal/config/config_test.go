// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers environment overlay, YAML/TOML files, env var expansion, defaults and validation

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var knownEnvVars = []string{
	"MATRIX_CONTROL_ROOM", "MATRIX_HOMESERVER", "MATRIX_ACCESS_TOKEN",
	"LISTEN_API_PORT", "LISTEN_API_HOST", "LISTEN_API_KEY",
	"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"TOKEN_ENCRYPTION_KEY", "LOG_LEVEL", "LOG_FORMAT", "SHUTDOWN_TIMEOUT",
	"TAILSCALE_ENABLED", "TAILSCALE_HOSTNAME", "TAILSCALE_AUTH_KEY",
	"TAILSCALE_STATE_DIR", "TAILSCALE_EPHEMERAL",
}

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range knownEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("MATRIX_CONTROL_ROOM", "!control:example.org")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "syt_manager")
	t.Setenv("LISTEN_API_PORT", "8080")
	t.Setenv("LISTEN_API_KEY", "secret-key")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "warden")
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("DB_NAME", "warden")
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.ControlRoom != "!control:example.org" {
		t.Errorf("Matrix.ControlRoom = %q, want %q", cfg.Matrix.ControlRoom, "!control:example.org")
	}
	if cfg.Matrix.AccessToken != "syt_manager" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "syt_manager")
	}
	if cfg.ListenAPI.Port != 8080 {
		t.Errorf("ListenAPI.Port = %d, want 8080", cfg.ListenAPI.Port)
	}
	if cfg.DB.User != "warden" {
		t.Errorf("DB.User = %q, want %q", cfg.DB.User, "warden")
	}

	// Defaults
	if cfg.DB.Driver != "mysql" {
		t.Errorf("DB.Driver = %q, want mysql", cfg.DB.Driver)
	}
	if cfg.DB.Port != 3306 {
		t.Errorf("DB.Port = %d, want 3306", cfg.DB.Port)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
	if cfg.APIAddr() != ":8080" {
		t.Errorf("APIAddr() = %q, want %q", cfg.APIAddr(), ":8080")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_API_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("TAILSCALE_ENABLED", "true")
	t.Setenv("TAILSCALE_AUTH_KEY", "tskey-abc")
	t.Setenv("TAILSCALE_STATE_DIR", "/var/lib/warden/ts")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "a2V5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIAddr() != "127.0.0.1:8080" {
		t.Errorf("APIAddr() = %q, want %q", cfg.APIAddr(), "127.0.0.1:8080")
	}
	if cfg.DB.Port != 3307 {
		t.Errorf("DB.Port = %d, want 3307", cfg.DB.Port)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want debug/json", cfg.Log)
	}
	if !cfg.Tailscale.Enabled {
		t.Error("Tailscale.Enabled = false, want true")
	}
	if cfg.Tailscale.AuthKey != "tskey-abc" {
		t.Errorf("Tailscale.AuthKey = %q, want %q", cfg.Tailscale.AuthKey, "tskey-abc")
	}
	if cfg.Tailscale.StateDir != "/var/lib/warden/ts" {
		t.Errorf("Tailscale.StateDir = %q", cfg.Tailscale.StateDir)
	}
	if cfg.Tailscale.Hostname != "coven-warden" {
		t.Errorf("Tailscale.Hostname = %q, want default", cfg.Tailscale.Hostname)
	}
	if cfg.TokenEncryptionKey != "a2V5" {
		t.Errorf("TokenEncryptionKey = %q, want %q", cfg.TokenEncryptionKey, "a2V5")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_WARDEN_TOKEN", "syt_from_env")

	path := writeConfig(t, "warden.yaml", `
matrix:
  homeserver: "https://matrix.example.org"
  access_token: "${TEST_WARDEN_TOKEN}"
  control_room: "!control:example.org"

listen_api:
  port: 9090
  key: "file-key"

db:
  driver: "sqlite"
  name: "./data/warden.db"

log:
  level: "warn"

shutdown_timeout: "15s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.AccessToken != "syt_from_env" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "syt_from_env")
	}
	if cfg.ListenAPI.Port != 9090 {
		t.Errorf("ListenAPI.Port = %d, want 9090", cfg.ListenAPI.Port)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Errorf("DB.Driver = %q, want sqlite", cfg.DB.Driver)
	}
	if cfg.DB.Name != "./data/warden.db" {
		t.Errorf("DB.Name = %q", cfg.DB.Name)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 15s", cfg.ShutdownTimeout)
	}
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_API_KEY", "env-key")

	path := writeConfig(t, "warden.yaml", `
matrix:
  homeserver: "https://matrix.example.org"
  access_token: "syt_manager"
  control_room: "!control:example.org"
listen_api:
  port: 9090
  key: "file-key"
db:
  driver: "sqlite"
  name: "warden.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAPI.Key != "env-key" {
		t.Errorf("ListenAPI.Key = %q, want %q", cfg.ListenAPI.Key, "env-key")
	}
	if cfg.ListenAPI.Port != 9090 {
		t.Errorf("ListenAPI.Port = %d, want file value 9090", cfg.ListenAPI.Port)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, "warden.toml", `
token_encryption_key = "a2V5"

[matrix]
homeserver = "https://matrix.example.org"
access_token = "syt_manager"
control_room = "!control:example.org"

[listen_api]
host = "0.0.0.0"
port = 8081
key = "toml-key"

[db]
driver = "mysql"
host = "db.internal"
user = "warden"
password = "hunter2"
name = "warden"

[tailscale]
enabled = true
hostname = "warden-ts"
ephemeral = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAPI.Key != "toml-key" {
		t.Errorf("ListenAPI.Key = %q, want %q", cfg.ListenAPI.Key, "toml-key")
	}
	if cfg.DB.Host != "db.internal" {
		t.Errorf("DB.Host = %q", cfg.DB.Host)
	}
	if !cfg.Tailscale.Ephemeral || cfg.Tailscale.Hostname != "warden-ts" {
		t.Errorf("Tailscale = %+v", cfg.Tailscale)
	}
	if cfg.TokenEncryptionKey != "a2V5" {
		t.Errorf("TokenEncryptionKey = %q", cfg.TokenEncryptionKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load("/nonexistent/path/warden.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "warden.json", `{}`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unsupported config file extension") {
		t.Errorf("Load() error = %v, want unsupported extension", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "warden.yaml", "matrix:\n  homeserver: [unclosed\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LISTEN_API_PORT", "eighty")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "reading environment") {
		t.Errorf("Load() error = %v, want environment error", err)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		unset         string
		set           map[string]string
		wantErrSubstr string
	}{
		{name: "control room", unset: "MATRIX_CONTROL_ROOM", wantErrSubstr: "MATRIX_CONTROL_ROOM is required"},
		{name: "homeserver", unset: "MATRIX_HOMESERVER", wantErrSubstr: "MATRIX_HOMESERVER is required"},
		{name: "manager token", unset: "MATRIX_ACCESS_TOKEN", wantErrSubstr: "MATRIX_ACCESS_TOKEN is required"},
		{name: "api port", unset: "LISTEN_API_PORT", wantErrSubstr: "LISTEN_API_PORT is required"},
		{name: "api key", unset: "LISTEN_API_KEY", wantErrSubstr: "LISTEN_API_KEY is required"},
		{name: "db host", unset: "DB_HOST", wantErrSubstr: "DB_HOST is required"},
		{name: "db user", unset: "DB_USER", wantErrSubstr: "DB_USER is required"},
		{name: "db password", unset: "DB_PASSWORD", wantErrSubstr: "DB_PASSWORD is required"},
		{name: "db name", unset: "DB_NAME", wantErrSubstr: "DB_NAME is required"},
		{
			name:          "homeserver not a URL",
			set:           map[string]string{"MATRIX_HOMESERVER": "matrix.example.org"},
			wantErrSubstr: "MATRIX_HOMESERVER must be an http(s) URL",
		},
		{
			name:          "port out of range",
			set:           map[string]string{"LISTEN_API_PORT": "70000"},
			wantErrSubstr: "LISTEN_API_PORT must be between",
		},
		{
			name:          "unknown driver",
			set:           map[string]string{"DB_DRIVER": "postgres"},
			wantErrSubstr: "DB_DRIVER must be mysql or sqlite",
		},
		{
			name:          "bad log level",
			set:           map[string]string{"LOG_LEVEL": "loud"},
			wantErrSubstr: "LOG_LEVEL must be",
		},
		{
			name:          "bad log format",
			set:           map[string]string{"LOG_FORMAT": "xml"},
			wantErrSubstr: "LOG_FORMAT must be text or json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			if tt.unset != "" {
				os.Unsetenv(tt.unset)
			}
			for k, v := range tt.set {
				t.Setenv(k, v)
			}

			_, err := Load("")
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestLoad_SQLiteSkipsMySQLCredentials(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("DB_HOST")
	os.Unsetenv("DB_USER")
	os.Unsetenv("DB_PASSWORD")
	t.Setenv("DB_DRIVER", "sqlite")

	if _, err := Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single env var", input: "${FOO}", expected: "bar"},
		{name: "env var with surrounding text", input: "prefix-${FOO}-suffix", expected: "prefix-bar-suffix"},
		{name: "multiple env vars", input: "${FOO}/${BAZ}", expected: "bar/qux"},
		{name: "no env vars", input: "no-vars-here", expected: "no-vars-here"},
		{name: "unset env var", input: "${UNSET_VAR_FOR_WARDEN_TEST}", expected: ""},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
