package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want string
	}{
		{"create", OpCreate, "CREATE"},
		{"modify", OpModify, "MODIFY"},
		{"delete", OpDelete, "DELETE"},
		{"rename", OpRename, "RENAME"},
		{"recrawl", OpRecrawl, "RECRAWL"},
		{"cookie dir removed", OpCookieDirRemoved, "COOKIE_DIR_REMOVED"},
		{"unknown", Operation(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	// When: getting default options
	opts := DefaultOptions()

	// Then: defaults are sensible
	assert.Equal(t, 50*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 2*time.Second, opts.PollInterval)
	assert.Equal(t, 1000, opts.EventBufferSize)
	assert.Equal(t, []string{".git", ".hg", ".svn"}, opts.IgnoreDirs)
	assert.False(t, opts.ForcePolling)
	assert.NoError(t, opts.Validate())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"negative debounce", Options{DebounceWindow: -1}, true},
		{"negative poll", Options{PollInterval: -time.Second}, true},
		{"negative buffer", Options{EventBufferSize: -5}, true},
		{"empty ignore dir", Options{IgnoreDirs: []string{""}}, true},
		{"nested ignore dir", Options{IgnoreDirs: []string{"a/b"}}, true},
		{"custom ignore dirs", Options{IgnoreDirs: []string{"node_modules", ".git"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want Options
	}{
		{
			name: "empty options get defaults",
			opts: Options{},
			want: DefaultOptions(),
		},
		{
			name: "partial options keep custom values",
			opts: Options{DebounceWindow: 500 * time.Millisecond},
			want: Options{
				DebounceWindow:  500 * time.Millisecond,
				PollInterval:    2 * time.Second,
				EventBufferSize: 1000,
				IgnoreDirs:      []string{".git", ".hg", ".svn"},
			},
		},
		{
			name: "explicit empty ignore list is kept",
			opts: Options{IgnoreDirs: []string{}},
			want: Options{
				DebounceWindow:  50 * time.Millisecond,
				PollInterval:    2 * time.Second,
				EventBufferSize: 1000,
				IgnoreDirs:      []string{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.opts.WithDefaults()
			assert.Equal(t, tt.want.DebounceWindow, got.DebounceWindow)
			assert.Equal(t, tt.want.PollInterval, got.PollInterval)
			assert.Equal(t, tt.want.EventBufferSize, got.EventBufferSize)
			assert.Equal(t, tt.want.IgnoreDirs, got.IgnoreDirs)
		})
	}
}

func TestOptions_Ignored(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.ignored(".git"))
	assert.True(t, opts.ignored(".git/objects/ab"))
	assert.True(t, opts.ignored("vendor/lib/.hg"))
	assert.False(t, opts.ignored("."))
	assert.False(t, opts.ignored("src/main.go"))
	assert.False(t, opts.ignored(".github/workflows"))
	assert.False(t, opts.ignored(".gitignore"))
}
