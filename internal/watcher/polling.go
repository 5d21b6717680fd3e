package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// PollingWatcher finds changes by rescanning the tree on an interval.
// Used when fsnotify is unavailable (network mounts, exhausted inotify
// instances) or explicitly requested.
type PollingWatcher struct {
	interval time.Duration
	skipDir  func(relPath string) bool
	state    map[string]fileSnapshot
	events   chan FileEvent
	errors   chan error
	stopCh   chan struct{}
	ready    chan struct{}
	mu       sync.Mutex
	stopped  bool
	rootPath string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher. skipDir, if non-nil, prunes
// directories (given relative to the root) from every scan.
func NewPollingWatcher(interval time.Duration, skipDir func(relPath string) bool) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		skipDir:  skipDir,
		state:    make(map[string]fileSnapshot),
		events:   make(chan FileEvent, 256),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Start takes a baseline snapshot of path and then polls until stopped.
func (p *PollingWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("stat root: %w", err)
	}

	p.mu.Lock()
	p.rootPath = absPath
	p.state, err = p.snapshot()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	close(p.ready)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.Poll(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Ready is closed once the baseline scan has completed.
func (p *PollingWatcher) Ready() <-chan struct{} {
	return p.ready
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// snapshot walks the root. Must be called with mu held.
func (p *PollingWatcher) snapshot() (map[string]fileSnapshot, error) {
	files := make(map[string]fileSnapshot)
	err := filepath.WalkDir(p.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.rootPath {
				return err
			}
			return nil // Skip entries we can't access
		}

		relPath, err := filepath.Rel(p.rootPath, path)
		if err != nil || relPath == "." {
			return nil
		}
		if d.IsDir() && p.skipDir != nil && p.skipDir(relPath) {
			return filepath.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[relPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	return files, err
}

// Poll rescans once and emits the differences from the previous scan.
func (p *PollingWatcher) Poll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}

	current, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	// Deletions first, then creations and modifications in mtime order so a
	// cookie written after a change is reported after it.
	now := time.Now()
	for rel, prev := range p.state {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, IsDir: prev.isDir, Timestamp: now})
		}
	}

	type change struct {
		event   FileEvent
		modTime time.Time
	}
	var changes []change
	for rel, cur := range current {
		prev, existed := p.state[rel]
		switch {
		case !existed:
			changes = append(changes, change{FileEvent{Path: rel, Operation: OpCreate, IsDir: cur.isDir, Timestamp: now}, cur.modTime})
		case !cur.isDir && (prev.modTime != cur.modTime || prev.size != cur.size):
			changes = append(changes, change{FileEvent{Path: rel, Operation: OpModify, Timestamp: now}, cur.modTime})
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].modTime.Equal(changes[j].modTime) {
			return changes[i].event.Path < changes[j].event.Path
		}
		return changes[i].modTime.Before(changes[j].modTime)
	})
	for _, c := range changes {
		p.emit(c.event)
	}

	p.state = current
	return nil
}

// emit must be called with mu held.
func (p *PollingWatcher) emit(event FileEvent) {
	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()),
		)
	}
}
