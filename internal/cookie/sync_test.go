package cookie

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

const testPrefix = ".watchsync-cookie-test-1-"

// newTestSync returns a Sync over fresh temp dirs A and B.
func newTestSync(t *testing.T) (s *Sync, a, b string) {
	t.Helper()
	a, b = t.TempDir(), t.TempDir()
	s, err := NewSync(a, WithPrefix(testPrefix))
	require.NoError(t, err)
	s.AddDir(b)
	t.Cleanup(s.Close)
	return s, a, b
}

// autoNotify reports every outstanding cookie until the test ends, standing
// in for the notification backend.
func autoNotify(t *testing.T, s *Sync) {
	t.Helper()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, p := range s.OutstandingCookieFiles() {
					s.NotifyCookie(p)
				}
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
}

func TestNewSync_DefaultPrefixCarriesHostAndPid(t *testing.T) {
	s, err := NewSync(t.TempDir())
	require.NoError(t, err)

	host, err := os.Hostname()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s.Prefix(), PrefixBase))
	assert.Contains(t, s.Prefix(), host)
	assert.True(t, strings.HasSuffix(s.Prefix(), fmt.Sprintf("-%d-", os.Getpid())))
}

func TestSync_TwoDirScenario(t *testing.T) {
	// Given: directories A and B in scope
	s, a, b := newTestSync(t)

	// When: a sync starts
	res, err := s.Sync()
	require.NoError(t, err)

	// Then: one cookie per dir with the same name
	files := s.OutstandingCookieFiles()
	require.Len(t, files, 2)
	assert.ElementsMatch(t, []string{a, b}, []string{filepath.Dir(files[0]), filepath.Dir(files[1])})
	assert.Equal(t, filepath.Base(files[0]), filepath.Base(files[1]))
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
		assert.Equal(t, os.FileMode(0), info.Mode().Perm()&0o077, "owner-only permissions")
	}

	// When: A's cookie is observed
	s.NotifyCookie(filepath.Join(a, filepath.Base(files[0])))

	// Then: the barrier is still pending
	assert.False(t, res.Resolved())
	assert.Len(t, s.OutstandingCookieFiles(), 1)

	// When: B's cookie is observed
	s.NotifyCookie(filepath.Join(b, filepath.Base(files[0])))

	// Then: resolved with success, map empty, files gone
	require.True(t, res.Resolved())
	assert.NoError(t, res.Err())
	assert.Empty(t, s.OutstandingCookieFiles())
	for _, f := range files {
		assert.NoFileExists(t, f)
	}
}

func TestSync_RemoveDirCountsPendingCookieAsServiced(t *testing.T) {
	// Given: a sync over A and B with A observed
	s, a, b := newTestSync(t)
	res, err := s.Sync()
	require.NoError(t, err)
	name := filepath.Base(s.OutstandingCookieFiles()[0])
	s.NotifyCookie(filepath.Join(a, name))

	// When: B leaves scope before its cookie is observed
	s.RemoveDir(b)

	// Then: the barrier resolves successfully
	require.True(t, res.Resolved())
	assert.NoError(t, res.Err())
	assert.Empty(t, s.OutstandingCookieFiles())
	assert.Equal(t, []string{a}, s.Dirs())
}

func TestSync_RemoveDirLeavesSiblingPrefixAlone(t *testing.T) {
	// Given: dirs where one name is a string prefix of the other
	base := t.TempDir()
	short := filepath.Join(base, "repo")
	long := filepath.Join(base, "repo2")
	require.NoError(t, os.Mkdir(short, 0o755))
	require.NoError(t, os.Mkdir(long, 0o755))

	s, err := NewSync(short, WithPrefix(testPrefix))
	require.NoError(t, err)
	s.AddDir(long)
	defer s.Close()

	res, err := s.Sync()
	require.NoError(t, err)

	// When: removing the shorter dir
	s.RemoveDir(short)

	// Then: the cookie in repo2 is still pending
	assert.False(t, res.Resolved())
	files := s.OutstandingCookieFiles()
	require.Len(t, files, 1)
	assert.Equal(t, long, filepath.Dir(files[0]))
}

func TestNotifyCookie_UnknownPathIsNoOp(t *testing.T) {
	// Given: a pending sync
	s, a, _ := newTestSync(t)
	res, err := s.Sync()
	require.NoError(t, err)

	// And: a file in scope that no barrier created
	foreign := filepath.Join(a, testPrefix+"999999")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

	// When: notifying paths that were never registered
	s.NotifyCookie(foreign)
	s.NotifyCookie("/nonexistent/dir/file")

	// Then: nothing changed and the unregistered file is still there
	assert.False(t, res.Resolved())
	assert.Len(t, s.OutstandingCookieFiles(), 2)
	assert.Zero(t, s.Stats().Observed)
	assert.FileExists(t, foreign)
}

func TestNotifyCookie_DuplicateIsNoOp(t *testing.T) {
	// Given: two pending barriers over A and B
	s, a, _ := newTestSync(t)
	first, err := s.Sync()
	require.NoError(t, err)
	second, err := s.Sync()
	require.NoError(t, err)

	// When: the same cookie is reported twice
	var aFiles []string
	for _, f := range s.OutstandingCookieFiles() {
		if filepath.Dir(f) == a {
			aFiles = append(aFiles, f)
		}
	}
	require.Len(t, aFiles, 2)
	s.NotifyCookie(aFiles[0])
	s.NotifyCookie(aFiles[0])

	// Then: neither barrier resolved, the other cookies remain
	assert.False(t, first.Resolved())
	assert.False(t, second.Resolved())
	assert.Len(t, s.OutstandingCookieFiles(), 3)
	assert.Equal(t, uint64(1), s.Stats().Observed)
}

func TestSync_AllCreatesFailRegistersNothing(t *testing.T) {
	// Given: only missing directories in scope
	base := t.TempDir()
	s, err := NewSync(filepath.Join(base, "missing-a"), WithPrefix(testPrefix))
	require.NoError(t, err)
	s.AddDir(filepath.Join(base, "missing-b"))

	// When: syncing
	res, err := s.Sync()

	// Then: immediate failure with the OS error, and no map entries
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, werrors.ErrCodeCookieCreate, werrors.GetCode(err))
	var pathErr *os.PathError
	require.True(t, errors.As(err, &pathErr))
	assert.True(t, strings.HasPrefix(pathErr.Path, base))
	assert.Empty(t, s.OutstandingCookieFiles())
	assert.Equal(t, uint64(2), s.Stats().CreateFailures)
}

func TestSync_PartialFailureStillResolves(t *testing.T) {
	// Given: one good and one missing dir
	good := t.TempDir()
	s, err := NewSync(good, WithPrefix(testPrefix))
	require.NoError(t, err)
	s.AddDir(filepath.Join(good, "missing"))

	// When: syncing
	res, err := s.Sync()
	require.NoError(t, err)

	// Then: only the good dir's cookie is outstanding, and it alone resolves
	files := s.OutstandingCookieFiles()
	require.Len(t, files, 1)
	assert.Equal(t, good, filepath.Dir(files[0]))

	s.NotifyCookie(files[0])
	require.True(t, res.Resolved())
	assert.NoError(t, res.Err())
}

func TestSync_NoDirsInScope(t *testing.T) {
	s, err := NewSync("", WithPrefix(testPrefix))
	require.NoError(t, err)

	_, err = s.Sync()
	assert.ErrorIs(t, err, ErrNoDirs)
}

func TestAbortAllCookies_FailsEveryPendingBarrier(t *testing.T) {
	// Given: several pending barriers
	s, a, b := newTestSync(t)
	var results []*Result
	for i := 0; i < 3; i++ {
		res, err := s.Sync()
		require.NoError(t, err)
		results = append(results, res)
	}
	require.Len(t, s.OutstandingCookieFiles(), 6)

	// When: aborting
	s.AbortAllCookies()

	// Then: each resolves with the abort error and the map is empty
	for _, res := range results {
		require.True(t, res.Resolved())
		assert.ErrorIs(t, res.Err(), ErrAborted)
		assert.True(t, werrors.IsRetryable(res.Err()))
	}
	assert.Empty(t, s.OutstandingCookieFiles())
	assert.Equal(t, uint64(6), s.Stats().Aborted)

	// And: the aborted cookie files are gone
	for _, dir := range []string{a, b} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, dir)
	}
}

func TestSyncToNow_SucceedsWithCooperatingNotifier(t *testing.T) {
	s, _, _ := newTestSync(t)
	autoNotify(t, s)

	err := s.SyncToNow(context.Background(), 5*time.Second)

	require.NoError(t, err)
	assert.Empty(t, s.OutstandingCookieFiles())
}

func TestSyncToNow_TimesOutWithoutNotifier(t *testing.T) {
	// Given: nobody observes cookies
	s, _, _ := newTestSync(t)
	timeout := 50 * time.Millisecond

	// When: waiting
	start := time.Now()
	err := s.SyncToNow(context.Background(), timeout)
	elapsed := time.Since(start)

	// Then: timeout error, not far past the deadline
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
}

func TestSyncToNow_RetriesAfterAbort(t *testing.T) {
	// Given: a notifier that aborts the first barrier and then cooperates
	s, _, _ := newTestSync(t)
	go func() {
		for len(s.OutstandingCookieFiles()) == 0 {
			time.Sleep(time.Millisecond)
		}
		s.AbortAllCookies()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if s.Stats().Aborted > 0 {
				for _, p := range s.OutstandingCookieFiles() {
					s.NotifyCookie(p)
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	// When: syncing
	err := s.SyncToNow(context.Background(), 5*time.Second)

	// Then: the retry succeeded
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Stats().SyncsStarted, uint64(2))
}

func TestSyncToNow_CloseEndsRetries(t *testing.T) {
	// Given: a sync waiting on cookies nobody will observe
	s, a, b := newTestSync(t)
	errCh := make(chan error, 1)
	go func() { errCh <- s.SyncToNow(context.Background(), 5*time.Second) }()
	require.Eventually(t, func() bool {
		return len(s.OutstandingCookieFiles()) == 2
	}, 2*time.Second, time.Millisecond)

	// When: the orchestrator is closed
	s.Close()

	// Then: the waiter returns promptly with the closed error
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
		assert.False(t, werrors.IsRetryable(err))
	case <-time.After(time.Second):
		t.Fatal("SyncToNow kept retrying after Close")
	}

	// And: no further barrier was started and no cookie was left behind
	assert.Equal(t, uint64(1), s.Stats().SyncsStarted)
	assert.Empty(t, s.OutstandingCookieFiles())
	for _, dir := range []string{a, b} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, dir)
	}
}

func TestSync_AfterCloseCreatesNothing(t *testing.T) {
	// Given: a closed orchestrator
	s, a, b := newTestSync(t)
	s.Close()

	// When: starting a barrier
	res, err := s.Sync()

	// Then: it is refused without touching the filesystem
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, werrors.ErrCodeSyncClosed, werrors.GetCode(err))
	assert.Zero(t, s.Stats().SyncsStarted)
	for _, dir := range []string{a, b} {
		entries, rerr := os.ReadDir(dir)
		require.NoError(t, rerr)
		assert.Empty(t, entries, dir)
	}
}

func TestSyncToNow_ContextCancel(t *testing.T) {
	s, _, _ := newTestSync(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.SyncToNow(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSync_ConcurrentSyncsUseDistinctNames(t *testing.T) {
	// Given: many concurrent requests
	s, _, _ := newTestSync(t)
	const n = 50

	var wg sync.WaitGroup
	results := make([]*Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Sync()
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	// Then: 2 files per request, all distinct
	files := s.OutstandingCookieFiles()
	require.Len(t, files, 2*n)
	seen := make(map[string]bool)
	for _, f := range files {
		assert.False(t, seen[f], "duplicate cookie %s", f)
		seen[f] = true
	}

	// When: notifying everything from several goroutines
	for _, f := range files {
		wg.Add(1)
		go func(f string) {
			defer wg.Done()
			s.NotifyCookie(f)
		}(f)
	}
	wg.Wait()

	// Then: every barrier resolved independently
	for _, res := range results {
		require.NotNil(t, res)
		assert.True(t, res.Resolved())
		assert.NoError(t, res.Err())
	}
}

func TestSync_ConcurrentSyncToNowWithNotifier(t *testing.T) {
	s, _, _ := newTestSync(t)
	autoNotify(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.SyncToNow(context.Background(), 5*time.Second))
		}()
	}
	wg.Wait()
}

func TestRegistry_Classification(t *testing.T) {
	s, a, b := newTestSync(t)

	tests := []struct {
		name       string
		path       string
		wantPrefix bool
		wantDir    bool
	}{
		{"cookie in A", filepath.Join(a, testPrefix+"1"), true, false},
		{"cookie in B", filepath.Join(b, testPrefix+"42"), true, false},
		{"regular file", filepath.Join(a, "main.go"), false, false},
		{"cookie in subdir", filepath.Join(a, "sub", testPrefix+"1"), false, false},
		{"scope dir", a, false, true},
		{"scope dir trailing slash", a + "/", false, true},
		{"out of scope", "/elsewhere/" + testPrefix + "1", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantPrefix, s.IsCookiePrefix(tt.path))
			assert.Equal(t, tt.wantDir, s.IsCookieDir(tt.path))
		})
	}
}

func TestRegistry_SetDirReplacesScope(t *testing.T) {
	s, a, b := newTestSync(t)
	assert.ElementsMatch(t, []string{a, b}, s.Dirs())

	c := t.TempDir()
	s.SetDir(c)

	assert.Equal(t, []string{c}, s.Dirs())
	assert.False(t, s.IsCookieDir(a))
}
