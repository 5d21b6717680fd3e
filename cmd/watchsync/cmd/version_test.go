package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/watchsync/pkg/version"
)

func TestVersionCmd(t *testing.T) {
	isolateEnv(t)

	t.Run("default", func(t *testing.T) {
		out, err := runCmd(t, "version")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "watchsync "+version.Version))
		assert.Contains(t, out, "go:")
	})

	t.Run("short", func(t *testing.T) {
		out, err := runCmd(t, "version", "--short")
		require.NoError(t, err)
		assert.Equal(t, version.Version+"\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := runCmd(t, "version", "--json")
		require.NoError(t, err)

		var info map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, version.Version, info["version"])
		assert.NotContains(t, info, "daemon_version")
	})
}

func TestVersionCmd_ReportsRunningDaemon(t *testing.T) {
	// Given: a running daemon
	isolateEnv(t)
	startInProcessDaemon(t)

	// When: printing the version
	out, err := runCmd(t, "version", "--json")
	require.NoError(t, err)

	// Then: the daemon's version is included and matches
	var info VersionJSON
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Short(), info.DaemonVersion)

	out, err = runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon")
	assert.NotContains(t, out, "differs")
}
