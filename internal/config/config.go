package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"presenced/internal/connection"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultApplicationID is the registered application whose assets the
// presence payload references.
const DefaultApplicationID = "1391812882584354917"

const loginTimeout = 10 * time.Second

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the daemon configuration, read once at startup.
type Config struct {
	Enabled         bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	ApplicationID   string `toml:"application_id" json:"application_id" yaml:"application_id"`
	RetryIntervalMS int    `toml:"retry_interval_ms" json:"retry_interval_ms" yaml:"retry_interval_ms"`
	MaxRetries      int    `toml:"max_retries" json:"max_retries" yaml:"max_retries"`
	Listen          string `toml:"listen" json:"listen" yaml:"listen"`
	LogLevel        string `toml:"log_level" json:"log_level" yaml:"log_level"`
	WatchSocket     bool   `toml:"watch_socket" json:"watch_socket" yaml:"watch_socket"`
	SendTimeoutMS   int    `toml:"send_timeout_ms" json:"send_timeout_ms" yaml:"send_timeout_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Enabled:         true,
		ApplicationID:   DefaultApplicationID,
		RetryIntervalMS: 15000,
		MaxRetries:      5,
		Listen:          "127.0.0.1:8421",
		LogLevel:        "info",
		WatchSocket:     true,
		SendTimeoutMS:   5000,
	}
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "presenced", "config.toml")
}

// Load reads path on top of the defaults. A missing or empty file yields
// the defaults. Files ending in .json or .jsonc are parsed as JSONC,
// .yaml or .yml as YAML, everything else as TOML.
func Load(path string) (Config, error) {
	cfg := Default()

	path, err := expandHome(strings.TrimSpace(path))
	if err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first problem found.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ApplicationID) == "":
		return fmt.Errorf("%w: application_id is empty", ErrInvalid)
	case c.RetryIntervalMS < 0:
		return fmt.Errorf("%w: retry_interval_ms must not be negative", ErrInvalid)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalid)
	case c.SendTimeoutMS < 0:
		return fmt.Errorf("%w: send_timeout_ms must not be negative", ErrInvalid)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

// Connection derives the connection manager settings.
func (c Config) Connection() connection.Config {
	return connection.Config{
		Enabled:       c.Enabled,
		AppID:         c.ApplicationID,
		RetryInterval: time.Duration(c.RetryIntervalMS) * time.Millisecond,
		MaxRetries:    c.MaxRetries,
		LoginTimeout:  loginTimeout,
	}
}

// SendTimeout is the bound on a single activity send or clear.
func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}
