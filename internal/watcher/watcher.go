package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away.
	OpRename
	// OpRecrawl indicates the watcher dropped events and rebuilt its
	// watches. Everything under the root must be treated as changed.
	OpRecrawl
	// OpCookieDirRemoved indicates a directory that receives cookie files
	// disappeared. Path is relative to the root ("." for the root itself).
	OpCookieDirRemoved
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpRecrawl:
		return "RECRAWL"
	case OpCookieDirRemoved:
		return "COOKIE_DIR_REMOVED"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is relative to the watched root.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// IsDir indicates if the event is for a directory.
	IsDir bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// CookieRouter receives cookie file traffic. The watcher asks it to
// classify every path before normal processing, and tells it when queued
// events were lost.
type CookieRouter interface {
	IsCookiePrefix(path string) bool
	IsCookieDir(path string) bool
	NotifyCookie(path string)
	AbortAllCookies()
}

// Watcher defines the interface for file system watching.
type Watcher interface {
	// Start watches path recursively and blocks until Stop is called or
	// ctx is cancelled.
	Start(ctx context.Context, path string) error

	// Ready is closed once the initial watches are in place.
	Ready() <-chan struct{}

	// Recrawl aborts pending cookies and rebuilds watches.
	Recrawl() error

	// Stop stops the watcher and releases resources.
	// Safe to call multiple times.
	Stop() error

	// Events returns debounced batches of file events.
	// The channel is closed when the watcher stops.
	Events() <-chan []FileEvent

	// Errors returns non-fatal watcher errors.
	// The channel is closed when the watcher stops.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 50ms
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fallback).
	// Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the size of the event channel buffer.
	// Default: 1000
	EventBufferSize int

	// IgnoreDirs are directory names skipped at any depth. A cookie
	// directory inside one of them is still watched, without recursion.
	// Default: .git, .hg, .svn
	IgnoreDirs []string

	// ForcePolling skips fsnotify entirely.
	ForcePolling bool

	// Router receives cookie events. Nil disables cookie routing.
	Router CookieRouter
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  50 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 1000,
		IgnoreDirs:      []string{".git", ".hg", ".svn"},
	}
}

// Validate validates the options and returns an error if invalid.
func (o Options) Validate() error {
	if o.DebounceWindow < 0 {
		return fmt.Errorf("debounce window must not be negative: %s", o.DebounceWindow)
	}
	if o.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative: %s", o.PollInterval)
	}
	if o.EventBufferSize < 0 {
		return fmt.Errorf("event buffer size must not be negative: %d", o.EventBufferSize)
	}
	for _, d := range o.IgnoreDirs {
		if d == "" || strings.ContainsRune(d, filepath.Separator) {
			return fmt.Errorf("ignore dir must be a single path element: %q", d)
		}
	}
	return nil
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.IgnoreDirs == nil {
		o.IgnoreDirs = defaults.IgnoreDirs
	}
	return o
}

// ignored reports whether any element of the relative path is an ignored
// directory name.
func (o Options) ignored(relPath string) bool {
	if relPath == "." || relPath == "" {
		return false
	}
	for _, part := range strings.Split(relPath, string(filepath.Separator)) {
		for _, d := range o.IgnoreDirs {
			if part == d {
				return true
			}
		}
	}
	return false
}
