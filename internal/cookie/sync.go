package cookie

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

// serial disambiguates cookie names across every Sync in the process.
var serial atomic.Uint64

var (
	// ErrTimeout matches (via errors.Is) a SyncToNow that ran out of time.
	ErrTimeout = werrors.New(werrors.ErrCodeSyncTimeout, "sync: timed out waiting for cookies", nil)

	// ErrNoDirs is returned by Sync when nothing is in scope.
	ErrNoDirs = werrors.New(werrors.ErrCodeNoCookieDirs, "sync: no cookie directories in scope", nil)

	// ErrClosed is returned by Sync once Close has been called.
	ErrClosed = werrors.New(werrors.ErrCodeSyncClosed, "sync: orchestrator closed", nil)
)

// Sync is the barrier orchestrator for one watched root.
//
// Two locks are used. The registry has its own RWMutex; mu guards the
// pending map and the closed flag. Sync holds mu across the file create calls so that
// NotifyCookie can never see a cookie before it is registered.
type Sync struct {
	reg *registry

	mu      sync.Mutex
	pending map[string]*Cookie
	closed  bool

	started        atomic.Uint64
	createFailures atomic.Uint64
	observed       atomic.Uint64
	aborted        atomic.Uint64
}

// Option configures a Sync.
type Option func(*Sync)

// WithPrefix overrides the hostname/pid derived cookie prefix.
func WithPrefix(prefix string) Option {
	return func(s *Sync) {
		s.reg.prefix = prefix
	}
}

// NewSync creates an orchestrator with dir as its initial scope.
// An empty dir starts with nothing in scope.
func NewSync(dir string, opts ...Option) (*Sync, error) {
	prefix, err := defaultPrefix()
	if err != nil {
		return nil, werrors.InternalError("cookie: build prefix", err)
	}

	s := &Sync{
		reg:     newRegistry(prefix),
		pending: make(map[string]*Cookie),
	}
	for _, opt := range opts {
		opt(s)
	}
	if dir != "" {
		s.reg.add(dir)
	}
	return s, nil
}

// Sync starts one barrier across every directory in scope and returns a
// handle that resolves once each created cookie file has been observed.
//
// A directory whose cookie could not be created is logged and counted as
// done up front. If no cookie could be created at all, the last creation
// error is returned and nothing is registered. After Close it returns
// ErrClosed without touching the filesystem.
func (s *Sync) Sync() (*Result, error) {
	dirs, prefix := s.reg.snapshot()
	if len(dirs) == 0 {
		return nil, ErrNoDirs
	}

	name := prefix + strconv.FormatUint(serial.Add(1), 10)
	c := newCookie(len(dirs))

	created := make([]string, 0, len(dirs))
	var lastErr error
	var lastPath string

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.started.Add(1)
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o700)
		if err != nil {
			lastErr, lastPath = err, path
			s.createFailures.Add(1)
			slog.Warn("couldn't create cookie file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			c.pending.Add(-1)
			continue
		}
		_ = f.Close()
		created = append(created, path)
	}

	if len(created) == 0 {
		s.mu.Unlock()
		return nil, werrors.New(werrors.ErrCodeCookieCreate,
			"sync: couldn't create any cookie file", lastErr).
			WithDetail("path", lastPath)
	}

	for _, path := range created {
		s.pending[path] = c
	}
	s.mu.Unlock()

	slog.Debug("cookie sync started",
		slog.String("cookie", name),
		slog.Int("dirs", len(created)))

	return &Result{c: c}, nil
}

// SyncToNow blocks until a barrier started now has been observed, retrying
// retryable failures until timeout has elapsed. Cancelling ctx ends the
// wait early.
func (s *Sync) SyncToNow(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		res, err := s.Sync()
		if err != nil {
			return err
		}

		timer := time.NewTimer(time.Until(deadline))
		select {
		case <-res.Done():
			timer.Stop()
		case <-timer.C:
			return werrors.New(werrors.ErrCodeSyncTimeout,
				fmt.Sprintf("sync: timed out after %s waiting for cookies", timeout), nil).
				WithDetail("attempts", strconv.Itoa(attempt))
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		err = res.Err()
		if err == nil {
			return nil
		}
		if !werrors.IsRetryable(err) || time.Until(deadline) <= 0 {
			return err
		}
		slog.Debug("cookie sync aborted, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("remaining", time.Until(deadline)))
	}
}

// NotifyCookie is called by the notification backend when it sees path
// being created. Unknown paths are ignored and left on disk.
func (s *Sync) NotifyCookie(path string) {
	path = filepath.Clean(path)

	s.mu.Lock()
	c, ok := s.pending[path]
	if ok {
		delete(s.pending, path)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	c.observe()
	s.observed.Add(1)

	// Another path may already have removed it.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("couldn't remove cookie file",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// AbortAllCookies fails every pending barrier and removes its files. It is
// used when the watcher throws away its state and the pending cookies can
// no longer be trusted.
func (s *Sync) AbortAllCookies() {
	s.mu.Lock()
	taken := s.pending
	s.pending = make(map[string]*Cookie)
	s.mu.Unlock()

	s.abort(taken)
}

func (s *Sync) abort(taken map[string]*Cookie) {
	if len(taken) == 0 {
		return
	}

	for path, c := range taken {
		slog.Debug("aborting cookie", slog.String("path", path))
		c.forceFailOne()
		// Nothing owns the file once it leaves pending.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Debug("couldn't remove aborted cookie file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	s.aborted.Add(uint64(len(taken)))
}

// OutstandingCookieFiles returns the sorted paths of cookies not yet
// observed.
func (s *Sync) OutstandingCookieFiles() []string {
	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	sort.Strings(paths)
	return paths
}

// Close aborts whatever is still pending and makes every later Sync fail
// with ErrClosed. A SyncToNow in progress returns instead of retrying.
func (s *Sync) Close() {
	s.mu.Lock()
	s.closed = true
	taken := s.pending
	s.pending = make(map[string]*Cookie)
	s.mu.Unlock()

	s.abort(taken)
}

// Stats is a point-in-time view of the orchestrator counters.
type Stats struct {
	SyncsStarted   uint64 `json:"syncs_started"`
	CreateFailures uint64 `json:"create_failures"`
	Observed       uint64 `json:"observed"`
	Aborted        uint64 `json:"aborted"`
	Outstanding    int    `json:"outstanding"`
}

// Stats returns the current counters.
func (s *Sync) Stats() Stats {
	s.mu.Lock()
	outstanding := len(s.pending)
	s.mu.Unlock()

	return Stats{
		SyncsStarted:   s.started.Load(),
		CreateFailures: s.createFailures.Load(),
		Observed:       s.observed.Load(),
		Aborted:        s.aborted.Load(),
		Outstanding:    outstanding,
	}
}
