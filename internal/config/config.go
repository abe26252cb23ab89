// Package config loads recsync settings from a JSON-with-comments file.
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

	"github.com/tailscale/hujson"
)

// FileName is the config file looked up in the working directory.
const FileName = ".recsync.json"

var (
	errFileNotFound = errors.New("config file not found")
	errInvalid      = errors.New("invalid config")
)

// Config holds every setting. Fields absent from a file keep their
// defaults.
type Config struct {
	// Database is the SQLite file of the reference server.
	Database string `json:"database"`
	// Listen is the websocket listen address of `recsync serve`.
	Listen string `json:"listen"`
	// Definitions are extra CUE files compiled into the registry.
	Definitions []string    `json:"definitions,omitempty"`
	Log         Log         `json:"log"`
	Coordinator Coordinator `json:"coordinator"`
	Remote      Remote      `json:"remote"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Coordinator tunes cross-store propagation.
type Coordinator struct {
	// DedupWindow is how many propagated writes are remembered. Zero
	// disables deduplication.
	DedupWindow int `json:"dedup_window"`
}

// Remote tunes websocket connections.
type Remote struct {
	WriteTimeout Duration `json:"write_timeout"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:    "recsync.db",
		Listen:      "127.0.0.1:7788",
		Log:         Log{Level: "info", Format: "text"},
		Coordinator: Coordinator{DedupWindow: 256},
		Remote:      Remote{WriteTimeout: Duration(5 * time.Second)},
	}
}

// Load reads the config. An explicit path must exist; otherwise
// FileName in workDir is used when present. The second result is the
// file that was read, or "" when only defaults apply.
func Load(workDir, path string) (Config, string, error) {
	cfg := Default()
	file := path
	mustExist := path != ""
	if file == "" {
		file = FileName
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(workDir, file)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return cfg, "", nil
		}
		if os.IsNotExist(err) {
			return Config{}, "", fmt.Errorf("%w: %s", errFileNotFound, path)
		}
		return Config{}, "", fmt.Errorf("read config %s: %w", file, err)
	}

	if err := parse(data, &cfg); err != nil {
		return Config{}, "", fmt.Errorf("%w %s: %w", errInvalid, file, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", fmt.Errorf("%w %s: %w", errInvalid, file, err)
	}
	return cfg, file, nil
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := parse(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse(data []byte, cfg *Config) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// Validate checks values a file could get wrong.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("database must not be empty")
	}
	if c.Listen == "" {
		return errors.New("listen must not be empty")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}
	if c.Coordinator.DedupWindow < 0 {
		return errors.New("coordinator.dedup_window must not be negative")
	}
	if c.Remote.WriteTimeout < 0 {
		return errors.New("remote.write_timeout must not be negative")
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: must be debug, info, warn or error", name)
}

// Format returns the config as indented JSON.
func Format(c Config) (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}
	return string(data), nil
}
