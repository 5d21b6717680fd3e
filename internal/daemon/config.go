// Package daemon runs the watchsync background service. The daemon owns
// every watched root and answers sync requests from CLI clients over a
// Unix socket.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/watchsync/internal/config"
	"github.com/Aman-CERP/watchsync/internal/watcher"
	"github.com/Aman-CERP/watchsync/internal/watchroot"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.watchsync/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	PIDPath string

	// LockPath guards against two daemons sharing one data directory.
	LockPath string

	// StatePath is the SQLite state database. Empty disables persistence.
	StatePath string

	// Timeout bounds idle connections and client dials.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod is the time to wait for graceful shutdown.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// MaxRoots is the maximum number of roots to keep watched.
	// Uses LRU eviction when exceeded.
	// Default: 64
	MaxRoots int

	// SyncTimeout applies to sync requests that carry no timeout.
	// Default: 60s
	SyncTimeout time.Duration

	// Root configures every watched root.
	Root watchroot.Options
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return FromConfig(config.NewConfig())
}

// FromConfig maps the user-facing configuration onto daemon settings.
func FromConfig(cfg *config.Config) Config {
	wopts := watcher.DefaultOptions()
	wopts.DebounceWindow = config.Duration(cfg.Watch.Debounce, wopts.DebounceWindow)
	wopts.PollInterval = config.Duration(cfg.Watch.PollInterval, wopts.PollInterval)
	if cfg.Watch.EventBufferSize > 0 {
		wopts.EventBufferSize = cfg.Watch.EventBufferSize
	}
	if len(cfg.Watch.IgnoreDirs) > 0 {
		wopts.IgnoreDirs = cfg.Watch.IgnoreDirs
	}
	wopts.ForcePolling = cfg.Watch.ForcePolling

	return Config{
		SocketPath:          cfg.Daemon.SocketPath,
		PIDPath:             cfg.Daemon.PIDPath,
		LockPath:            cfg.Daemon.LockPath,
		StatePath:           cfg.Daemon.StatePath,
		Timeout:             config.Duration(cfg.Daemon.Timeout, 30*time.Second),
		ShutdownGracePeriod: config.Duration(cfg.Daemon.ShutdownGracePeriod, 10*time.Second),
		MaxRoots:            cfg.Daemon.MaxRoots,
		SyncTimeout:         config.Duration(cfg.Sync.DefaultTimeout, 60*time.Second),
		Root: watchroot.Options{
			VCSCookieDir: cfg.Sync.VCSCookieDir,
			Watcher:      wopts,
		},
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.LockPath == "" {
		return fmt.Errorf("lock path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.MaxRoots <= 0 {
		return fmt.Errorf("max roots must be positive")
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync timeout must be positive")
	}
	return nil
}

// EnsureDir creates the directories holding the daemon's files.
func (c Config) EnsureDir() error {
	for _, p := range []string{c.SocketPath, c.PIDPath, c.LockPath, c.StatePath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}
