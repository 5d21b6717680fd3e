package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPolling runs w on dir and waits for the baseline scan.
func startPolling(t *testing.T, w *PollingWatcher, dir string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = w.Start(ctx, dir)
	}()

	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("baseline scan did not finish")
	}
}

func TestPollingWatcher_DetectsFileCreation(t *testing.T) {
	// Given: a temp directory and polling watcher
	tempDir := t.TempDir()
	w := NewPollingWatcher(time.Hour, nil)
	startPolling(t, w, tempDir)

	// When: a new file is created and a poll runs
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "new.go"), []byte("package main"), 0o644))
	require.NoError(t, w.Poll())

	// Then: a CREATE event is detected
	events := collectEvents(w.Events(), 1, 500*time.Millisecond)
	require.Len(t, events, 1)
	assert.Equal(t, OpCreate, events[0].Operation)
	assert.Equal(t, "new.go", events[0].Path)

	require.NoError(t, w.Stop())
}

func TestPollingWatcher_DetectsModificationAndDeletion(t *testing.T) {
	// Given: existing files
	tempDir := t.TempDir()
	changed := filepath.Join(tempDir, "changed.go")
	removed := filepath.Join(tempDir, "removed.go")
	require.NoError(t, os.WriteFile(changed, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(removed, []byte("a"), 0o644))

	w := NewPollingWatcher(time.Hour, nil)
	startPolling(t, w, tempDir)

	// When: one grows and one is removed
	require.NoError(t, os.WriteFile(changed, []byte("much longer"), 0o644))
	require.NoError(t, os.Remove(removed))
	require.NoError(t, w.Poll())

	// Then: deletion first, then the modification
	events := collectEvents(w.Events(), 2, 500*time.Millisecond)
	require.Len(t, events, 2)
	assert.Equal(t, FileEvent{Path: "removed.go", Operation: OpDelete}, FileEvent{Path: events[0].Path, Operation: events[0].Operation})
	assert.Equal(t, FileEvent{Path: "changed.go", Operation: OpModify}, FileEvent{Path: events[1].Path, Operation: events[1].Operation})
}

func TestPollingWatcher_OrdersChangesByModTime(t *testing.T) {
	// Given: two files created with distinct mtimes, newest first alphabetically
	tempDir := t.TempDir()
	w := NewPollingWatcher(time.Hour, nil)
	startPolling(t, w, tempDir)

	older := filepath.Join(tempDir, "z-older")
	newer := filepath.Join(tempDir, "a-newer")
	require.NoError(t, os.WriteFile(older, nil, 0o644))
	require.NoError(t, os.WriteFile(newer, nil, 0o644))
	base := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(older, base, base))
	require.NoError(t, os.Chtimes(newer, base.Add(time.Second), base.Add(time.Second)))

	// When: polling
	require.NoError(t, w.Poll())

	// Then: the older file is reported first
	events := collectEvents(w.Events(), 2, 500*time.Millisecond)
	require.Len(t, events, 2)
	assert.Equal(t, "z-older", events[0].Path)
	assert.Equal(t, "a-newer", events[1].Path)
}

func TestPollingWatcher_SkipDirPrunesScan(t *testing.T) {
	// Given: a skipped directory
	tempDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tempDir, "skip"), 0o755))

	w := NewPollingWatcher(time.Hour, func(rel string) bool { return rel == "skip" })
	startPolling(t, w, tempDir)

	// When: files appear inside and outside it
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "skip", "hidden.go"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "seen.go"), nil, 0o644))
	require.NoError(t, w.Poll())

	// Then: only the visible one is reported
	events := collectEvents(w.Events(), 2, 200*time.Millisecond)
	require.Len(t, events, 1)
	assert.Equal(t, "seen.go", events[0].Path)
}

func TestPollingWatcher_Start_InvalidPath_ReturnsError(t *testing.T) {
	w := NewPollingWatcher(50*time.Millisecond, nil)
	defer func() { _ = w.Stop() }()

	err := w.Start(context.Background(), "/nonexistent/path/that/does/not/exist")
	assert.Error(t, err)
}

func TestPollingWatcher_ContextCancellation(t *testing.T) {
	// Given: a running watcher
	w := NewPollingWatcher(10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx, t.TempDir())
	}()
	<-w.Ready()

	// When: cancelling
	cancel()

	// Then: Start returns the context error and the channels close
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Start to return after context cancel")
	}
	_, ok := <-w.Events()
	assert.False(t, ok)
}

// collectEvents collects up to n events or until timeout.
func collectEvents(ch <-chan FileEvent, n int, timeout time.Duration) []FileEvent {
	var events []FileEvent
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(events) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timer.C:
			return events
		}
	}
	return events
}
