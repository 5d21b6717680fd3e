package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/state"
	"github.com/Aman-CERP/watchsync/internal/watchroot"
)

// restoreConcurrency bounds how many persisted roots start at once.
const restoreConcurrency = 4

// Daemon owns the watched roots and serves client requests.
type Daemon struct {
	cfg     Config
	server  *Server
	pidFile *PIDFile
	lock    *instanceLock
	store   *state.Store

	roots   *lru.Cache[string, *watchroot.Root]
	flight  singleflight.Group
	closing atomic.Bool

	// ctx bounds the lifetime of every root; set by Start.
	ctx     context.Context
	started time.Time
}

// NewDaemon creates a daemon. Nothing is touched on disk until Start.
func NewDaemon(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, werrors.ConfigError("invalid daemon config", err)
	}

	d := &Daemon{
		cfg:     cfg,
		server:  NewServer(cfg.SocketPath, cfg.Timeout),
		pidFile: NewPIDFile(cfg.PIDPath),
		lock:    newInstanceLock(cfg.LockPath),
		ctx:     context.Background(),
		started: time.Now(),
	}

	roots, err := lru.NewWithEvict[string, *watchroot.Root](cfg.MaxRoots, d.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create root cache: %w", err)
	}
	d.roots = roots
	d.server.SetHandler(d)
	return d, nil
}

// Start runs the daemon until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return werrors.IOError("prepare daemon directory", err)
	}
	if err := d.lock.TryLock(); err != nil {
		return err
	}
	defer d.cleanup()

	if err := d.pidFile.Write(); err != nil {
		return err
	}

	if d.cfg.StatePath != "" {
		store, err := state.Open(d.cfg.StatePath)
		if err != nil {
			return err
		}
		d.store = store
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.ctx = ctx
	d.started = time.Now()

	slog.Info("Daemon starting",
		slog.Int("pid", os.Getpid()),
		slog.String("socket", d.cfg.SocketPath),
		slog.Int("max_roots", d.cfg.MaxRoots))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		d.restore(gctx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("Daemon stopped")
	return err
}

// restore re-watches the roots persisted by a previous run. Roots that no
// longer exist are forgotten.
func (d *Daemon) restore(ctx context.Context) {
	if d.store == nil {
		return
	}
	records, err := d.store.Roots(ctx)
	if err != nil {
		slog.Error("Failed to load watched roots", slog.String("error", err.Error()))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)
	for _, rec := range records {
		g.Go(func() error {
			if _, err := d.Watch(gctx, rec.Path); err != nil {
				slog.Warn("Dropping persisted root",
					slog.String("root", rec.Path),
					slog.String("error", err.Error()))
				if werrors.GetCode(err) == werrors.ErrCodeInvalidPath {
					_ = d.store.RemoveRoot(ctx, rec.Path)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("Restored watched roots", slog.Int("count", d.roots.Len()))
}

// onEvict runs whenever a root leaves the cache, by Unwatch or by the LRU
// bound. It runs outside the cache lock.
func (d *Daemon) onEvict(path string, root *watchroot.Root) {
	if err := root.Stop(); err != nil {
		slog.Warn("Failed to stop root", slog.String("root", path), slog.String("error", err.Error()))
	}
	if d.closing.Load() || d.store == nil {
		return
	}
	if err := d.store.RemoveRoot(context.Background(), path); err != nil {
		slog.Warn("Failed to forget root", slog.String("root", path), slog.String("error", err.Error()))
	}
	slog.Info("Released root", slog.String("root", path))
}

// recordSync persists sync telemetry. Failures never affect the sync.
func (d *Daemon) recordSync(root, outcome string, latency time.Duration) {
	if d.store == nil {
		return
	}
	if err := d.store.RecordSync(context.Background(), root, outcome, latency); err != nil {
		slog.Warn("Failed to record sync", slog.String("root", root), slog.String("error", err.Error()))
	}
}

func absRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", werrors.ValidationError("resolve root path", err)
	}
	return abs, nil
}

// lookup returns a watched root and marks it recently used.
func (d *Daemon) lookup(root string) (*watchroot.Root, error) {
	abs, err := absRoot(root)
	if err != nil {
		return nil, err
	}
	r, ok := d.roots.Get(abs)
	if !ok {
		return nil, werrors.New(werrors.ErrCodeRootNotWatched, "root is not watched", nil).
			WithDetail("root", abs).
			WithSuggestion(fmt.Sprintf("Run: watchsync watch %s", abs))
	}
	return r, nil
}

// Watch starts watching root. Watching a root twice is a no-op; concurrent
// requests for the same root share one start.
func (d *Daemon) Watch(ctx context.Context, root string) (WatchResult, error) {
	abs, err := absRoot(root)
	if err != nil {
		return WatchResult{}, err
	}

	v, err, _ := d.flight.Do(abs, func() (any, error) {
		if r, ok := d.roots.Get(abs); ok {
			return r, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		opts := d.cfg.Root
		opts.OnSync = d.recordSync
		r, err := watchroot.New(abs, opts)
		if err != nil {
			return nil, err
		}
		if err := r.Start(d.ctx); err != nil {
			_ = r.Stop()
			return nil, err
		}

		d.roots.Add(abs, r)
		if d.store != nil {
			if err := d.store.AddRoot(ctx, abs); err != nil {
				slog.Warn("Failed to persist root", slog.String("root", abs), slog.String("error", err.Error()))
			}
		}
		return r, nil
	})
	if err != nil {
		return WatchResult{}, err
	}

	st := v.(*watchroot.Root).Status()
	return WatchResult{Root: st.Path, Backend: st.Backend, CookieDirs: st.CookieDirs}, nil
}

// Unwatch stops watching root and forgets it.
func (d *Daemon) Unwatch(_ context.Context, root string) error {
	abs, err := absRoot(root)
	if err != nil {
		return err
	}
	if !d.roots.Remove(abs) {
		return werrors.New(werrors.ErrCodeRootNotWatched, "root is not watched", nil).
			WithDetail("root", abs)
	}
	return nil
}

// WatchList returns the watched roots, sorted.
func (d *Daemon) WatchList() WatchListResult {
	roots := d.roots.Keys()
	sort.Strings(roots)
	if roots == nil {
		roots = []string{}
	}
	return WatchListResult{Roots: roots}
}

// Sync waits until all changes to the root made before the call are
// observed.
func (d *Daemon) Sync(ctx context.Context, params SyncParams) (SyncResult, error) {
	r, err := d.lookup(params.Root)
	if err != nil {
		return SyncResult{}, err
	}

	start := time.Now()
	clock, err := r.SyncToNow(ctx, params.Timeout(d.cfg.SyncTimeout))
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{
		Root:      r.Path(),
		Clock:     clock,
		ElapsedMS: time.Since(start).Milliseconds(),
	}, nil
}

// Cookies lists the root's outstanding cookie files.
func (d *Daemon) Cookies(root string) (CookiesResult, error) {
	r, err := d.lookup(root)
	if err != nil {
		return CookiesResult{}, err
	}
	files := r.OutstandingCookies()
	if files == nil {
		files = []string{}
	}
	return CookiesResult{Root: r.Path(), Files: files}, nil
}

// Recrawl rebuilds the root's watches.
func (d *Daemon) Recrawl(root string) (RecrawlResult, error) {
	r, err := d.lookup(root)
	if err != nil {
		return RecrawlResult{}, err
	}
	if err := r.Recrawl(); err != nil {
		return RecrawlResult{}, werrors.New(werrors.ErrCodeWatchFailed, "recrawl failed", err)
	}
	return RecrawlResult{Root: r.Path(), Recrawls: r.Status().Recrawls}, nil
}

// Status reports the daemon and every root.
func (d *Daemon) Status() StatusResult {
	roots := d.roots.Values()
	statuses := make([]watchroot.Status, 0, len(roots))
	for _, r := range roots {
		statuses = append(statuses, r.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Path < statuses[j].Path })

	res := StatusResult{
		Running:  true,
		PID:      os.Getpid(),
		Uptime:   time.Since(d.started).Round(time.Second).String(),
		MaxRoots: d.cfg.MaxRoots,
		Roots:    statuses,
	}
	if d.store != nil {
		today := d.store.Today()
		if sum, err := d.store.SyncStats(context.Background(), "", today, today); err == nil {
			res.SyncsToday = &sum
		}
	}
	return res
}

// cleanup stops every root and releases the daemon's files. Roots stay
// persisted for the next start.
func (d *Daemon) cleanup() {
	d.closing.Store(true)

	done := make(chan struct{})
	go func() {
		d.roots.Purge()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGracePeriod):
		slog.Warn("Roots did not stop within grace period",
			slog.Duration("grace", d.cfg.ShutdownGracePeriod))
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			slog.Warn("Failed to close state store", slog.String("error", err.Error()))
		}
	}
	if err := d.pidFile.Remove(); err != nil {
		slog.Warn("Failed to remove PID file", slog.String("error", err.Error()))
	}
	if err := d.lock.Unlock(); err != nil {
		slog.Warn("Failed to release lock", slog.String("error", err.Error()))
	}
}
