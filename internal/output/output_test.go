package output

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("*", "Checking inotify limits...")

	// Then: output contains icon and message
	assert.Equal(t, "* Checking inotify limits...\n", buf.String())
}

func TestWriter_Status_EmptyIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Status("", "detail")
	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_LevelsArePlainOnBuffers(t *testing.T) {
	// Given: a non-TTY writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing each level
	w.Success("synced")
	w.Warningf("%d cookies outstanding", 2)
	w.Errorf("root %s not watched", "/repo")

	// Then: no ANSI escapes leak into piped output
	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "✓ synced")
	assert.Contains(t, out, "! 2 cookies outstanding")
	assert.Contains(t, out, "✗ root /repo not watched")
}

func TestWriter_KeyValueAligns(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.KeyValue("clock", 42)
	w.KeyValue("outstanding", 0)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], "42"), strings.Index(lines[1], "0"))
}

func TestWriter_List(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.List(nil, "(none)")
	w.List([]string{"/a", "/b"}, "(none)")

	assert.Equal(t, "  (none)\n  /a\n  /b\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewPlain(buf).JSON(map[string]int{"clock": 3}))
	assert.JSONEq(t, `{"clock": 3}`, buf.String())
}

func TestWriter_Code(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPlain(buf).Code("ulimit -n 4096\nsysctl fs.inotify.max_user_watches=524288")
	assert.Contains(t, buf.String(), "  ulimit -n 4096\n  sysctl")
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTTY(f))
}

func TestGetStyles(t *testing.T) {
	plain := GetStyles(true)
	assert.Equal(t, "x", plain.Header.Render("x"))
	assert.NotNil(t, GetStyles(false).Header)
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}
