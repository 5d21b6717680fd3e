package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/watchsync/internal/output"
	"github.com/Aman-CERP/watchsync/internal/watcher"
	"github.com/Aman-CERP/watchsync/internal/watchroot"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose     bool
	output      io.Writer
	syncTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithSyncTimeout bounds the sync round trip check.
func WithSyncTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.syncTimeout = d
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output:      os.Stdout,
		syncTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks against dataDir and returns the results.
func (c *Checker) RunAll(ctx context.Context, dataDir string) []CheckResult {
	return []CheckResult{
		c.CheckDiskSpace(dataDir),
		c.CheckWritePermissions(dataDir),
		c.CheckFileDescriptors(),
		c.CheckInotifyLimits(),
		c.CheckSyncRoundTrip(ctx, dataDir),
	}
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	out := output.New(c.output)
	out.Header("watchsync system check")
	out.Newline()

	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch {
		case r.Status == StatusPass:
			out.Success(line)
		case r.IsCritical():
			out.Error(line)
		default:
			out.Warning(line)
		}
		if r.Details != "" && (c.verbose || r.Status != StatusPass) {
			out.Status("", r.Details)
		}
	}

	out.Newline()
	out.KeyValue("status", strings.ToUpper(c.SummaryStatus(results)))
}

// CheckWritePermissions checks that dir can be created and written.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}

	f, err := os.CreateTemp(dir, ".watchsync-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckSyncRoundTrip watches a scratch directory and runs one cookie sync
// through it. A failure here means sync requests will time out.
func (c *Checker) CheckSyncRoundTrip(ctx context.Context, dataDir string) CheckResult {
	result := CheckResult{
		Name:     "sync_round_trip",
		Required: true,
	}

	fail := func(msg string, err error) CheckResult {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s: %v", msg, err)
		return result
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fail("create data directory", err)
	}
	scratch, err := os.MkdirTemp(dataDir, "preflight-")
	if err != nil {
		return fail("create scratch directory", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	root, err := watchroot.New(scratch, watchroot.Options{Watcher: watcher.DefaultOptions()})
	if err != nil {
		return fail("create root", err)
	}
	defer func() { _ = root.Stop() }()

	if err := root.Start(ctx); err != nil {
		return fail("start watcher", err)
	}

	start := time.Now()
	if _, err := root.SyncToNow(ctx, c.syncTimeout); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cookie not observed: %v", err)
		result.Details = "The notification backend is not delivering events; try watch.force_polling: true"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s via %s", time.Since(start).Round(time.Millisecond), root.Status().Backend)
	return result
}

// existingParent returns the closest existing ancestor of path.
func existingParent(path string) string {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if p == filepath.Dir(p) {
			return p
		}
	}
}
