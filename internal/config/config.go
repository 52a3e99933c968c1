// ABOUTME: Configuration loading for coven-warden from the environment and an optional file
// ABOUTME: YAML or TOML files are expanded for ${VAR}, environment variables always win

package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// FileEnvVar names the environment variable holding an optional config file path.
const FileEnvVar = "WARDEN_CONFIG"

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultDBDriver        = "mysql"
	DefaultDBPort          = 3306
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultTailscaleHost   = "coven-warden"
)

// Config represents the complete coven-warden configuration
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	ListenAPI ListenAPIConfig `yaml:"listen_api" toml:"listen_api"`
	DB        DatabaseConfig  `yaml:"db" toml:"db"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`

	// TokenEncryptionKey is a base64 32 byte key. Empty stores tokens as given.
	TokenEncryptionKey string        `yaml:"token_encryption_key" toml:"token_encryption_key" split_words:"true"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" split_words:"true"`
}

// MatrixConfig holds the manager identity and control room (MATRIX_*)
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	AccessToken string `yaml:"access_token" toml:"access_token" split_words:"true"`
	ControlRoom string `yaml:"control_room" toml:"control_room" split_words:"true"`
}

// ListenAPIConfig holds the HTTP API listener settings (LISTEN_API_*)
type ListenAPIConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
	Key  string `yaml:"key" toml:"key"`
}

// DatabaseConfig holds the registry store connection (DB_*)
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	// Name is the database name, or the database file path for sqlite.
	Name string `yaml:"name" toml:"name"`
}

// LogConfig holds logging configuration (LOG_*)
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TailscaleConfig holds Tailscale tsnet configuration (TAILSCALE_*)
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" split_words:"true"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" split_words:"true"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// Load builds the configuration. When path is non-empty the file is read
// first; environment variables are then applied on top, defaults fill the
// remaining gaps and the result is validated.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// loadFile decodes a YAML or TOML file chosen by extension.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

// applyEnv overlays environment variables group by group. Unset variables
// leave the file value in place.
func applyEnv(cfg *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{"MATRIX", &cfg.Matrix},
		{"LISTEN_API", &cfg.ListenAPI},
		{"DB", &cfg.DB},
		{"LOG", &cfg.Log},
		{"TAILSCALE", &cfg.Tailscale},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return err
		}
	}

	var top struct {
		TokenEncryptionKey string        `split_words:"true"`
		ShutdownTimeout    time.Duration `split_words:"true"`
	}
	top.TokenEncryptionKey = cfg.TokenEncryptionKey
	top.ShutdownTimeout = cfg.ShutdownTimeout
	if err := envconfig.Process("", &top); err != nil {
		return err
	}
	cfg.TokenEncryptionKey = top.TokenEncryptionKey
	cfg.ShutdownTimeout = top.ShutdownTimeout
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DefaultDBDriver
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = DefaultDBPort
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = DefaultTailscaleHost
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.ControlRoom == "" {
		return fmt.Errorf("MATRIX_CONTROL_ROOM is required")
	}
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("MATRIX_HOMESERVER is required")
	}
	if u, err := url.Parse(c.Matrix.Homeserver); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("MATRIX_HOMESERVER must be an http(s) URL, got %q", c.Matrix.Homeserver)
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("MATRIX_ACCESS_TOKEN is required")
	}

	if c.ListenAPI.Port == 0 {
		return fmt.Errorf("LISTEN_API_PORT is required")
	}
	if c.ListenAPI.Port < 1 || c.ListenAPI.Port > 65535 {
		return fmt.Errorf("LISTEN_API_PORT must be between 1 and 65535, got %d", c.ListenAPI.Port)
	}
	if c.ListenAPI.Key == "" {
		return fmt.Errorf("LISTEN_API_KEY is required")
	}

	switch c.DB.Driver {
	case "mysql":
		if c.DB.Host == "" {
			return fmt.Errorf("DB_HOST is required for the mysql driver")
		}
		if c.DB.User == "" {
			return fmt.Errorf("DB_USER is required for the mysql driver")
		}
		if c.DB.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the mysql driver")
		}
	case "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.DB.Driver)
	}
	if c.DB.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("TAILSCALE_HOSTNAME is required when tailscale is enabled")
	}

	return nil
}

// APIAddr returns the host:port the HTTP API binds to.
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.ListenAPI.Host, strconv.Itoa(c.ListenAPI.Port))
}

// ParseLevel maps a LOG_LEVEL value onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
}
