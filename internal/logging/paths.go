package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory. WATCHSYNC_HOME moves it
// along with the rest of the daemon's files.
func DefaultLogDir() string {
	if v := os.Getenv("WATCHSYNC_HOME"); v != "" {
		return filepath.Join(v, "logs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".watchsync", "logs")
	}
	return filepath.Join(home, ".watchsync", "logs")
}

// DefaultLogPath returns the default daemon log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "watchsync.log")
}

// FindLogFile returns explicit if given, else the default log path, as
// long as the file exists.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return "", fmt.Errorf("no log file found. The daemon may not have run yet.\nExpected at: %s", path)
	}
	return path, nil
}
