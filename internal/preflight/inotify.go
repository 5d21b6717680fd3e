package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Recommended inotify limits for watching large trees.
const (
	MinInotifyWatches      = 65536
	MinInotifyQueuedEvents = 16384
)

// inotifyProcDir is replaced in tests.
var inotifyProcDir = "/proc/sys/fs/inotify"

// CheckInotifyLimits warns when inotify limits are low enough to cause
// watch failures or queue overflows (each overflow aborts pending syncs).
func (c *Checker) CheckInotifyLimits() CheckResult {
	result := CheckResult{
		Name:     "inotify_limits",
		Required: false,
	}

	if runtime.GOOS != "linux" {
		result.Status = StatusPass
		result.Message = "not applicable on " + runtime.GOOS
		return result
	}

	watches, err := readProcInt(filepath.Join(inotifyProcDir, "max_user_watches"))
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unable to read limits: %v", err)
		return result
	}
	queued, err := readProcInt(filepath.Join(inotifyProcDir, "max_queued_events"))
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("unable to read limits: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("max_user_watches=%d max_queued_events=%d", watches, queued)
	var fixes []string
	if watches < MinInotifyWatches {
		fixes = append(fixes, fmt.Sprintf("sysctl fs.inotify.max_user_watches=%d", MinInotifyWatches*8))
	}
	if queued < MinInotifyQueuedEvents {
		fixes = append(fixes, fmt.Sprintf("sysctl fs.inotify.max_queued_events=%d", MinInotifyQueuedEvents))
	}
	if len(fixes) > 0 {
		result.Status = StatusWarn
		result.Details = "Raise with: " + strings.Join(fixes, "; ")
		return result
	}
	result.Status = StatusPass
	return result
}

func readProcInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
