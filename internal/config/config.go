// Package config loads watchsync configuration from defaults, the user
// config file, a per-project file and WATCHSYNC_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete watchsync configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Daemon  DaemonConfig  `yaml:"daemon" json:"daemon"`
	Sync    SyncConfig    `yaml:"sync" json:"sync"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	// SocketPath is the Unix domain socket the daemon listens on.
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDPath    string `yaml:"pid_path" json:"pid_path"`
	LockPath   string `yaml:"lock_path" json:"lock_path"`
	// StatePath is the SQLite database holding watched roots and sync stats.
	StatePath string `yaml:"state_path" json:"state_path"`
	// Timeout bounds a single client request (default: "30s").
	Timeout string `yaml:"timeout" json:"timeout"`
	// ShutdownGracePeriod bounds graceful shutdown (default: "10s").
	ShutdownGracePeriod string `yaml:"shutdown_grace_period" json:"shutdown_grace_period"`
	// MaxRoots caps concurrently watched roots. The least recently used
	// root is dropped when the cap is exceeded.
	MaxRoots int `yaml:"max_roots" json:"max_roots"`
}

// SyncConfig configures cookie sync barriers.
type SyncConfig struct {
	// DefaultTimeout applies when a sync request carries no timeout.
	DefaultTimeout string `yaml:"default_timeout" json:"default_timeout"`
	// VCSCookieDir places cookie files in .git or .hg when present so they
	// never show up as working tree changes.
	VCSCookieDir bool `yaml:"vcs_cookie_dir" json:"vcs_cookie_dir"`
}

// WatchConfig configures the notification backend.
type WatchConfig struct {
	Debounce        string   `yaml:"debounce" json:"debounce"`
	PollInterval    string   `yaml:"poll_interval" json:"poll_interval"`
	EventBufferSize int      `yaml:"event_buffer_size" json:"event_buffer_size"`
	IgnoreDirs      []string `yaml:"ignore_dirs" json:"ignore_dirs"`
	// ForcePolling skips fsnotify entirely (network filesystems).
	ForcePolling bool `yaml:"force_polling" json:"force_polling"`
}

// LoggingConfig configures the daemon log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// defaultIgnoreDirs are never reported as changes.
var defaultIgnoreDirs = []string{".git", ".hg", ".svn"}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Version: 1,
		Daemon: DaemonConfig{
			SocketPath:          filepath.Join(dataDir, "daemon.sock"),
			PIDPath:             filepath.Join(dataDir, "daemon.pid"),
			LockPath:            filepath.Join(dataDir, "daemon.lock"),
			StatePath:           filepath.Join(dataDir, "state.db"),
			Timeout:             "30s",
			ShutdownGracePeriod: "10s",
			MaxRoots:            64,
		},
		Sync: SyncConfig{
			DefaultTimeout: "60s",
			VCSCookieDir:   false,
		},
		Watch: WatchConfig{
			Debounce:        "50ms",
			PollInterval:    "2s",
			EventBufferSize: 1000,
			IgnoreDirs:      append([]string(nil), defaultIgnoreDirs...),
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DataDir returns the directory for daemon runtime files.
// WATCHSYNC_HOME overrides the default ~/.watchsync.
func DataDir() string {
	if v := os.Getenv("WATCHSYNC_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".watchsync")
	}
	return filepath.Join(home, ".watchsync")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/watchsync/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/watchsync/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "watchsync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "watchsync", "config.yaml")
	}
	return filepath.Join(home, ".config", "watchsync", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parsed.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &parsed, nil
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/watchsync/config.yaml)
//  3. Project config (.watchsync.yaml in dir)
//  4. Environment variables (WATCHSYNC_*)
//
// An empty dir skips the project file.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if dir != "" {
		if err := cfg.loadFromFile(dir); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .watchsync.yaml or .watchsync.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".watchsync.yaml", ".watchsync.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := parsed.loadYAML(path); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

// loadYAML parses path into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Daemon
	setString(&c.Daemon.SocketPath, other.Daemon.SocketPath)
	setString(&c.Daemon.PIDPath, other.Daemon.PIDPath)
	setString(&c.Daemon.LockPath, other.Daemon.LockPath)
	setString(&c.Daemon.StatePath, other.Daemon.StatePath)
	setString(&c.Daemon.Timeout, other.Daemon.Timeout)
	setString(&c.Daemon.ShutdownGracePeriod, other.Daemon.ShutdownGracePeriod)
	if other.Daemon.MaxRoots != 0 {
		c.Daemon.MaxRoots = other.Daemon.MaxRoots
	}

	// Sync
	setString(&c.Sync.DefaultTimeout, other.Sync.DefaultTimeout)
	if other.Sync.VCSCookieDir {
		c.Sync.VCSCookieDir = true
	}

	// Watch
	setString(&c.Watch.Debounce, other.Watch.Debounce)
	setString(&c.Watch.PollInterval, other.Watch.PollInterval)
	if other.Watch.EventBufferSize != 0 {
		c.Watch.EventBufferSize = other.Watch.EventBufferSize
	}
	if len(other.Watch.IgnoreDirs) > 0 {
		c.Watch.IgnoreDirs = appendUnique(c.Watch.IgnoreDirs, other.Watch.IgnoreDirs...)
	}
	if other.Watch.ForcePolling {
		c.Watch.ForcePolling = true
	}

	// Logging
	setString(&c.Logging.Level, other.Logging.Level)
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies WATCHSYNC_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WATCHSYNC_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("WATCHSYNC_STATE_PATH"); v != "" {
		c.Daemon.StatePath = v
	}
	if v := os.Getenv("WATCHSYNC_MAX_ROOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Daemon.MaxRoots = n
		}
	}
	if v := os.Getenv("WATCHSYNC_SYNC_TIMEOUT"); v != "" {
		c.Sync.DefaultTimeout = v
	}
	if v := os.Getenv("WATCHSYNC_VCS_COOKIE_DIR"); v != "" {
		c.Sync.VCSCookieDir = parseBool(v)
	}
	if v := os.Getenv("WATCHSYNC_DEBOUNCE"); v != "" {
		c.Watch.Debounce = v
	}
	if v := os.Getenv("WATCHSYNC_FORCE_POLLING"); v != "" {
		c.Watch.ForcePolling = parseBool(v)
	}
	if v := os.Getenv("WATCHSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("daemon.socket_path cannot be empty")
	}
	if c.Daemon.MaxRoots <= 0 {
		return fmt.Errorf("daemon.max_roots must be positive, got %d", c.Daemon.MaxRoots)
	}
	if c.Watch.EventBufferSize <= 0 {
		return fmt.Errorf("watch.event_buffer_size must be positive, got %d", c.Watch.EventBufferSize)
	}

	durations := []struct {
		name, value string
	}{
		{"daemon.timeout", c.Daemon.Timeout},
		{"daemon.shutdown_grace_period", c.Daemon.ShutdownGracePeriod},
		{"sync.default_timeout", c.Sync.DefaultTimeout},
		{"watch.debounce", c.Watch.Debounce},
		{"watch.poll_interval", c.Watch.PollInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s must be a duration, got %q", d.name, d.value)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return fmt.Errorf("logging.max_size_mb and logging.max_files must be non-negative")
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Duration parses one of the validated duration fields. Invalid input
// yields def.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func appendUnique(dst []string, vals ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

// fileExists returns true if path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
