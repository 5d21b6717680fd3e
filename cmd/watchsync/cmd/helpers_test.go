package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/watchsync/internal/daemon"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

// isolateEnv points every watchsync path at test-owned locations. The
// socket stays directly under /tmp to fit the sun_path limit.
func isolateEnv(t *testing.T) (home, socket string) {
	t.Helper()
	home = t.TempDir()
	socket = filepath.Join("/tmp", fmt.Sprintf("watchsync-cli-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { _ = os.Remove(socket) })

	t.Setenv("WATCHSYNC_HOME", home)
	t.Setenv("WATCHSYNC_SOCKET", socket)
	t.Setenv("WATCHSYNC_DEBOUNCE", "10ms")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return home, socket
}

// runCmd executes the root command with args and returns its output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCmdWithInput(t, "", args...)
}

func runCmdWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// startInProcessDaemon runs a daemon built from the isolated environment.
func startInProcessDaemon(t *testing.T) {
	t.Helper()
	cfg, _, err := loadDaemonConfig()
	require.NoError(t, err)

	d, err := daemon.NewDaemon(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, daemon.NewClient(cfg).WaitReady(context.Background(), werrors.DefaultRetryConfig()))
}
