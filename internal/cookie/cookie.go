package cookie

import (
	"context"
	"sync/atomic"

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

// ErrAborted is the result of a barrier that was force-failed by
// AbortAllCookies. Match it with errors.Is.
var ErrAborted = werrors.New(werrors.ErrCodeSyncAborted,
	"sync: cookie was aborted before it was observed", nil)

// Cookie is one in-flight barrier. Several pending map entries (one per
// directory) may point at the same Cookie.
type Cookie struct {
	pending  atomic.Int64
	resolved atomic.Bool
	err      error
	done     chan struct{}
}

func newCookie(n int) *Cookie {
	c := &Cookie{done: make(chan struct{})}
	c.pending.Store(int64(n))
	return c
}

// observe counts one directory as seen. The decrement that reaches zero
// resolves the cookie successfully.
func (c *Cookie) observe() {
	if c.decrement() {
		c.resolve(nil)
	}
}

// forceFailOne counts one directory as abandoned. The decrement that reaches
// zero resolves the cookie with ErrAborted.
func (c *Cookie) forceFailOne() {
	if c.decrement() {
		c.resolve(ErrAborted)
	}
}

// decrement reports whether this call moved the counter from 1 to 0.
// The counter never goes below zero.
func (c *Cookie) decrement() bool {
	for {
		n := c.pending.Load()
		if n <= 0 {
			return false
		}
		if c.pending.CompareAndSwap(n, n-1) {
			return n == 1
		}
	}
}

// resolve writes the completion slot. Only the first call has any effect.
func (c *Cookie) resolve(err error) {
	if !c.resolved.CompareAndSwap(false, true) {
		return
	}
	c.err = err
	close(c.done)
}

// Pending returns the number of directories not yet accounted for.
func (c *Cookie) Pending() int64 {
	return c.pending.Load()
}

// Result is the caller's handle on a barrier started by Sync.
type Result struct {
	c *Cookie
}

// Done is closed once the barrier has resolved.
func (r *Result) Done() <-chan struct{} {
	return r.c.done
}

// Err returns the barrier outcome: nil for success, ErrAborted if it was
// force-failed. It returns nil while the barrier is still pending.
func (r *Result) Err() error {
	select {
	case <-r.c.done:
		return r.c.err
	default:
		return nil
	}
}

// Resolved reports whether the barrier has completed.
func (r *Result) Resolved() bool {
	select {
	case <-r.c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the barrier resolves or ctx is done.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.c.done:
		return r.c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
