package daemon

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/watchsync/internal/cookie"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

func testClient(socketPath string, opts ...ClientOption) *Client {
	return NewClient(Config{SocketPath: socketPath, Timeout: 2 * time.Second}, opts...)
}

func TestClient_NotRunning(t *testing.T) {
	// Given: no daemon behind the socket
	c := testClient(filepath.Join(t.TempDir(), "none.sock"))

	// When: pinging
	_, err := c.Ping(context.Background())

	// Then: the error says so and suggests starting one
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
	assert.False(t, c.IsRunning())
	we, ok := werrors.As(err)
	require.True(t, ok)
	assert.Contains(t, we.Suggestion, "daemon start")
}

func TestClient_Methods(t *testing.T) {
	for _, enc := range []string{EncodingJSON, EncodingBSER} {
		t.Run(enc, func(t *testing.T) {
			// Given: a server with a fake handler
			h := &fakeHandler{}
			socketPath := startTestServer(t, h, 5*time.Second)
			c := testClient(socketPath, WithEncoding(enc))
			ctx := context.Background()

			// When/Then: each method round-trips
			assert.True(t, c.IsRunning())

			v, err := c.Ping(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, v)

			w, err := c.Watch(ctx, "/src")
			require.NoError(t, err)
			assert.Equal(t, "/src", w.Root)
			assert.Equal(t, []string{"/src"}, w.CookieDirs)

			roots, err := c.WatchList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"/a", "/b"}, roots)

			res, err := c.Sync(ctx, "/src", 1500*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, uint64(9), res.Clock)
			require.Len(t, h.syncs, 1)
			assert.Equal(t, int64(1500), h.syncs[0].TimeoutMS)

			files, err := c.Cookies(ctx, "/src")
			require.NoError(t, err)
			assert.Len(t, files, 1)

			rc, err := c.Recrawl(ctx, "/src")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), rc.Recrawls)

			st, err := c.Status(ctx)
			require.NoError(t, err)
			assert.True(t, st.Running)
			require.Len(t, st.Roots, 1)
			assert.Equal(t, uint64(4), st.Roots[0].Clock)
		})
	}
}

func TestClient_ErrorsKeepTheirCode(t *testing.T) {
	for _, enc := range []string{EncodingJSON, EncodingBSER} {
		t.Run(enc, func(t *testing.T) {
			h := &fakeHandler{syncErr: cookie.ErrTimeout}
			socketPath := startTestServer(t, h, 5*time.Second)
			c := testClient(socketPath, WithEncoding(enc))

			_, err := c.Sync(context.Background(), "/src", 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, cookie.ErrTimeout)
			assert.Equal(t, werrors.ErrCodeSyncTimeout, werrors.GetCode(err))

			err = c.Unwatch(context.Background(), "/nope")
			require.Error(t, err)
			assert.Equal(t, werrors.ErrCodeRootNotWatched, werrors.GetCode(err))
		})
	}
}

func TestClient_ContextCancelsSync(t *testing.T) {
	// Given: a sync that takes longer than the caller will wait
	h := &fakeHandler{delay: 5 * time.Second}
	socketPath := startTestServer(t, h, 10*time.Second)
	c := testClient(socketPath)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// When: syncing
	start := time.Now()
	_, err := c.Sync(ctx, "/src", 0)

	// Then: the call returns the context error promptly
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_WaitReady(t *testing.T) {
	t.Run("daemon up", func(t *testing.T) {
		socketPath := startTestServer(t, &fakeHandler{}, 5*time.Second)
		err := testClient(socketPath).WaitReady(context.Background(), werrors.DefaultRetryConfig())
		assert.NoError(t, err)
	})

	t.Run("gives up", func(t *testing.T) {
		c := testClient(filepath.Join(t.TempDir(), "none.sock"))
		cfg := werrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
		err := c.WaitReady(context.Background(), cfg)
		require.Error(t, err)
		assert.True(t, IsNotRunning(err))
	})

	t.Run("stops on a broken daemon", func(t *testing.T) {
		// Given: a socket that accepts and hangs up without answering
		socketPath := serverTestSocketPath(t)
		ln, err := net.Listen("unix", socketPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ln.Close() })
		var accepts atomic.Int32
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				accepts.Add(1)
				_ = conn.Close()
			}
		}()

		// When: waiting with room for several retries
		cfg := werrors.RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
		err = testClient(socketPath).WaitReady(context.Background(), cfg)

		// Then: the first non-retryable failure is returned as is
		require.Error(t, err)
		assert.False(t, IsNotRunning(err))
		assert.Equal(t, int32(1), accepts.Load())
	})
}

func TestClient_RequestIDsIncrease(t *testing.T) {
	c := testClient("/unused")
	assert.Equal(t, "req-1", c.nextID())
	assert.Equal(t, "req-2", c.nextID())
}
