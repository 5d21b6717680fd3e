// Package watchroot ties one watched directory to its cookie orchestrator
// and notification backend.
package watchroot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/watchsync/internal/cookie"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/watcher"
)

// Sync outcomes reported to Options.OnSync.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeAborted = "aborted"
	OutcomeError   = "error"
)

// vcsDirs are tried in order when cookies should live in the VCS dir.
var vcsDirs = []string{".git", ".hg"}

// Options configures a Root.
type Options struct {
	// VCSCookieDir places cookies in .git or .hg when present, keeping
	// them out of the working tree.
	VCSCookieDir bool

	// Watcher configures the notification backend. Its Router is
	// overwritten with the root's cookie orchestrator.
	Watcher watcher.Options

	// OnSync, if set, is called after every SyncToNow.
	OnSync func(root, outcome string, latency time.Duration)
}

// Root is one watched directory.
type Root struct {
	path      string
	opts      Options
	cookies   *cookie.Sync
	watcher   *watcher.HybridWatcher
	changes   atomic.Uint64
	startedAt time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New prepares a root for path. Nothing is watched until Start.
func New(path string, opts Options) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, werrors.ValidationError("resolve root path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, werrors.New(werrors.ErrCodeInvalidPath, "root does not exist", err).
			WithDetail("path", abs)
	}
	if !info.IsDir() {
		return nil, werrors.New(werrors.ErrCodeInvalidPath, "root is not a directory", nil).
			WithDetail("path", abs)
	}

	cookies, err := cookie.NewSync(cookieDir(abs, opts.VCSCookieDir))
	if err != nil {
		return nil, err
	}

	wopts := opts.Watcher
	wopts.Router = cookies
	w, err := watcher.NewHybridWatcher(wopts)
	if err != nil {
		return nil, werrors.New(werrors.ErrCodeWatchFailed, "create watcher", err)
	}

	return &Root{
		path:    abs,
		opts:    opts,
		cookies: cookies,
		watcher: w,
		done:    make(chan struct{}),
	}, nil
}

// cookieDir picks where cookie files are written for root.
func cookieDir(root string, vcs bool) string {
	if !vcs {
		return root
	}
	for _, name := range vcsDirs {
		dir := filepath.Join(root, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return root
}

// Path returns the absolute root path.
func (r *Root) Path() string {
	return r.path
}

// Start begins watching and returns once the initial watches are in place.
func (r *Root) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return werrors.New(werrors.ErrCodeRootNotWatched, "root was stopped", nil).
			WithDetail("path", r.path)
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.startedAt = time.Now()
	r.mu.Unlock()

	startErr := make(chan error, 1)
	go func() {
		err := r.watcher.Start(ctx, r.path)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watcher exited",
				slog.String("root", r.path),
				slog.String("error", err.Error()))
		}
		startErr <- err
	}()

	select {
	case <-r.watcher.Ready():
	case err := <-startErr:
		r.cancel()
		close(r.done)
		return werrors.New(werrors.ErrCodeWatchFailed, "start watcher", err).
			WithDetail("path", r.path)
	}

	go r.consume(ctx)

	slog.Info("watching root",
		slog.String("root", r.path),
		slog.String("backend", r.watcher.WatcherType()),
		slog.Any("cookie_dirs", r.cookies.Dirs()))
	return nil
}

// consume counts changes and keeps the cookie scope in line with the
// directories that still exist.
func (r *Root) consume(ctx context.Context) {
	defer close(r.done)

	events := r.watcher.Events()
	errs := r.watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			for _, ev := range batch {
				switch ev.Operation {
				case watcher.OpCookieDirRemoved:
					r.cookieDirRemoved(ev.Path)
				case watcher.OpRecrawl:
					slog.Info("root recrawled", slog.String("root", r.path))
				default:
					r.changes.Add(1)
				}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher error",
				slog.String("root", r.path),
				slog.String("error", err.Error()))
		}
	}
}

func (r *Root) cookieDirRemoved(rel string) {
	dir := filepath.Join(r.path, rel)
	r.cookies.RemoveDir(dir)

	if len(r.cookies.Dirs()) > 0 {
		return
	}
	if info, err := os.Stat(r.path); err == nil && info.IsDir() {
		slog.Info("cookie dir removed, using root",
			slog.String("root", r.path),
			slog.String("removed", dir))
		r.cookies.AddDir(r.path)
		return
	}
	slog.Warn("root removed, syncs will fail", slog.String("root", r.path))
}

// SyncToNow waits until every change made before the call has been
// observed and returns the clock at that point. The clock counts change
// batches and already includes the one flushed ahead of the cookie.
func (r *Root) SyncToNow(ctx context.Context, timeout time.Duration) (uint64, error) {
	r.mu.Lock()
	running := r.started && !r.stopped
	r.mu.Unlock()
	if !running {
		return 0, werrors.New(werrors.ErrCodeRootNotWatched, "root is not being watched", nil).
			WithDetail("path", r.path)
	}

	start := time.Now()
	err := r.cookies.SyncToNow(ctx, timeout)
	latency := time.Since(start)

	if r.opts.OnSync != nil {
		r.opts.OnSync(r.path, outcome(err), latency)
	}
	if err != nil {
		return 0, err
	}
	return r.watcher.Batches(), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, cookie.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, cookie.ErrAborted), errors.Is(err, cookie.ErrClosed):
		return OutcomeAborted
	default:
		return OutcomeError
	}
}

// Recrawl aborts pending cookies and rebuilds the watches.
func (r *Root) Recrawl() error {
	if err := r.watcher.Recrawl(); err != nil {
		return fmt.Errorf("recrawl %s: %w", r.path, err)
	}
	return nil
}

// OutstandingCookies lists cookie files not yet observed.
func (r *Root) OutstandingCookies() []string {
	return r.cookies.OutstandingCookieFiles()
}

// Stop stops watching and fails any sync still waiting. Safe to call
// multiple times.
func (r *Root) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := r.watcher.Stop()
	r.cookies.Close()
	if started {
		<-r.done
	}

	slog.Info("stopped watching root", slog.String("root", r.path))
	return err
}

// Status is a point-in-time summary of a root.
type Status struct {
	Path           string       `json:"path"`
	Backend        string       `json:"backend"`
	CookieDirs     []string     `json:"cookie_dirs"`
	Clock          uint64       `json:"clock"`
	Changes        uint64       `json:"changes"`
	Recrawls       uint64       `json:"recrawls"`
	DroppedBatches uint64       `json:"dropped_batches"`
	Cookies        cookie.Stats `json:"cookies"`
	Healthy        bool         `json:"healthy"`
	StartedAt      time.Time    `json:"started_at"`
}

// Status returns the root's counters.
func (r *Root) Status() Status {
	r.mu.Lock()
	startedAt := r.startedAt
	r.mu.Unlock()

	return Status{
		Path:           r.path,
		Backend:        r.watcher.WatcherType(),
		CookieDirs:     r.cookies.Dirs(),
		Clock:          r.watcher.Batches(),
		Changes:        r.changes.Load(),
		Recrawls:       r.watcher.Recrawls(),
		DroppedBatches: r.watcher.DroppedBatches(),
		Cookies:        r.cookies.Stats(),
		Healthy:        r.watcher.IsHealthy(),
		StartedAt:      startedAt,
	}
}
