package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher implements Watcher using fsnotify, falling back to polling
// when fsnotify cannot be initialised.
//
// Cookie files bypass the debouncer: pending changes are flushed first and
// then the router is notified, so every change seen before a cookie is
// handed on before the cookie's barrier can resolve.
type HybridWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	router         CookieRouter
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	ready          chan struct{}
	readyOnce      sync.Once
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	recrawlMu      sync.Mutex
	droppedBatches atomic.Uint64
	recrawls       atomic.Uint64
	directBatches  atomic.Uint64
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a new hybrid watcher with the given options.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watcher options: %w", err)
	}

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		router:    opts.Router,
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		ready:     make(chan struct{}),
		opts:      opts,
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			h.fsWatcher = fsw
			h.useFsnotify = true
			return h, nil
		}
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
	}
	h.pollWatcher = NewPollingWatcher(opts.PollInterval, h.skipDir)
	return h, nil
}

// Start begins watching the given directory and blocks until stopped.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", absPath)
	}

	h.mu.Lock()
	h.rootPath = absPath
	h.mu.Unlock()

	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	if err := h.addRecursive(h.root(), false); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	h.markReady()

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if rerr := h.Recrawl(); rerr != nil {
					h.emitError(rerr)
				}
				continue
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) startPolling(ctx context.Context) error {
	root := h.root()

	go func() {
		select {
		case <-h.pollWatcher.Ready():
			h.markReady()
		case <-h.stopCh:
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.route(filepath.Join(root, event.Path), event.Operation, event.IsDir)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	err := h.pollWatcher.Start(ctx, root)
	if ctx.Err() != nil {
		_ = h.Stop()
	}
	return err
}

// handleFsnotifyEvent converts an fsnotify event and routes it.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// Chmod carries no content change.
		return
	}

	isDir := false
	if op == OpCreate {
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			isDir = true
		}
	}

	h.route(path, op, isDir)

	// Files may have landed in a new directory before its watch existed.
	if isDir && !h.skipDir(h.rel(path)) {
		if err := h.addRecursive(path, true); err != nil {
			h.emitError(err)
		}
	}
}

// route sends one observed change to the cookie router or the debouncer.
func (h *HybridWatcher) route(absPath string, op Operation, isDir bool) {
	rel := h.rel(absPath)

	if h.router != nil {
		if h.router.IsCookiePrefix(absPath) {
			if op == OpCreate || op == OpModify {
				h.debouncer.Flush()
				h.router.NotifyCookie(absPath)
			}
			return
		}
		if (op == OpDelete || op == OpRename) && h.router.IsCookieDir(absPath) {
			slog.Info("cookie directory removed", slog.String("path", absPath))
			h.debouncer.Flush()
			h.directBatches.Add(1)
			h.emitEvents([]FileEvent{{
				Path:      rel,
				Operation: OpCookieDirRemoved,
				IsDir:     true,
				Timestamp: time.Now(),
			}})
		}
	}

	if rel == "." || h.opts.ignored(rel) {
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      rel,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// Recrawl aborts all pending cookies, rebuilds watches and emits an
// OpRecrawl event. Called on queue overflow and on request.
func (h *HybridWatcher) Recrawl() error {
	h.recrawlMu.Lock()
	defer h.recrawlMu.Unlock()

	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return errors.New("watcher stopped")
	}

	count := h.recrawls.Add(1)
	slog.Warn("recrawling watched root",
		slog.String("root", h.root()),
		slog.Uint64("recrawls", count))

	if h.router != nil {
		h.router.AbortAllCookies()
	}
	h.debouncer.Flush()

	var err error
	if h.useFsnotify {
		err = h.addRecursive(h.root(), false)
	} else {
		err = h.pollWatcher.Poll()
	}

	h.directBatches.Add(1)
	h.emitEvents([]FileEvent{{
		Path:      ".",
		Operation: OpRecrawl,
		IsDir:     true,
		Timestamp: time.Now(),
	}})
	return err
}

// forwardDebouncedEvents forwards debounced events to the output channel.
func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(events) > 0 {
				h.emitEvents(events)
			}
		}
	}
}

// addRecursive watches dir and every directory below it that is not
// skipped. With emit set, entries found are reported as creations.
func (h *HybridWatcher) addRecursive(dir string, emit bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // Skip entries we can't access
		}

		if !d.IsDir() {
			if emit {
				h.route(path, OpCreate, false)
			}
			return nil
		}

		if path != dir && h.skipDir(h.rel(path)) {
			return filepath.SkipDir
		}
		if err := h.fsWatcher.Add(path); err != nil {
			if path == dir {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			slog.Warn("couldn't watch directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if emit && path != dir {
			h.route(path, OpCreate, true)
		}
		return nil
	})
}

// skipDir reports whether a directory should be left unwatched. Ignored
// directories are skipped unless they receive cookie files.
func (h *HybridWatcher) skipDir(relPath string) bool {
	if !h.opts.ignored(relPath) {
		return false
	}
	if h.router != nil && h.router.IsCookieDir(filepath.Join(h.root(), relPath)) {
		return false
	}
	return true
}

func (h *HybridWatcher) root() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}

func (h *HybridWatcher) rel(absPath string) string {
	rel, err := filepath.Rel(h.root(), absPath)
	if err != nil {
		return absPath
	}
	return rel
}

func (h *HybridWatcher) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

// emitEvents sends events to the output channel.
func (h *HybridWatcher) emitEvents(events []FileEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count),
		)
	}
}

// emitError sends an error to the error channel.
func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}

	h.stopped = true
	close(h.stopCh)
	h.readyOnce.Do(func() { close(h.ready) })

	h.debouncer.Stop()

	if h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Ready is closed once the initial watches are in place (or on Stop).
func (h *HybridWatcher) Ready() <-chan struct{} {
	return h.ready
}

// Events returns the channel of batched file events.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// DroppedBatches returns the number of batches dropped on a full buffer.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

// Batches returns how many change batches have been cut so far. It is
// advanced synchronously, so a cookie observed after a batch was flushed
// always sees that batch counted.
func (h *HybridWatcher) Batches() uint64 {
	return h.debouncer.Batches() + h.directBatches.Load()
}

// Recrawls returns how many times the watcher has recrawled.
func (h *HybridWatcher) Recrawls() uint64 {
	return h.recrawls.Load()
}

// IsHealthy returns true if the watcher is running and hasn't stopped.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns "fsnotify" or "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (h *HybridWatcher) RootPath() string {
	return h.root()
}
