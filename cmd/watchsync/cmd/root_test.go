package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/watchsync/internal/profiling"
	"github.com/Aman-CERP/watchsync/pkg/version"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: the root command
	cmd := NewRootCmd()

	// When: collecting subcommand names
	names := make(map[string]bool)
	for _, sc := range cmd.Commands() {
		names[sc.Name()] = true
	}

	// Then: every top-level command is registered
	for _, want := range []string{"daemon", "watch", "watch-del", "watch-list", "sync", "debug", "doctor", "config", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestRootCmd_DebugFlagIsPersistent(t *testing.T) {
	cmd := NewRootCmd()

	flag := cmd.PersistentFlags().Lookup("debug")

	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := runCmd(t, "--version")

	require.NoError(t, err)
	assert.Equal(t, "watchsync version "+version.Version+"\n", out)
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	_, err := runCmd(t, "frobnicate")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRootArg(t *testing.T) {
	t.Run("defaults to working directory", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		root, err := rootArg(nil)

		require.NoError(t, err)
		assert.Equal(t, dir, root)
	})

	t.Run("relative paths become absolute", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		root, err := rootArg([]string{"sub"})

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "sub"), root)
	})
}

func TestRootCmd_ProfileFlags(t *testing.T) {
	// Given: a goroutine dump requested for a quick command
	path := filepath.Join(t.TempDir(), "goroutines.txt")

	// When: running it
	_, err := runCmd(t, "version", "--profile-goroutine", path)

	// Then: the dump is written on exit
	require.NoError(t, err)
	assert.FileExists(t, path)
	profileOpts = profiling.Options{}
}
