package preflight

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Free space thresholds for the data directory. The state database and
// rotated logs are small; below the warning level log rotation is the first
// thing to fail.
const (
	MinDiskSpaceBytes  = 50 * humanize.MiByte
	WarnDiskSpaceBytes = 500 * humanize.MiByte
)

// CheckDiskSpace checks free space on the filesystem holding path. path
// need not exist yet.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	var stat unix.Statfs_t
	if err := unix.Statfs(existingParent(path), &stat); err != nil {
		return CheckResult{
			Name:     "disk_space",
			Status:   StatusFail,
			Message:  fmt.Sprintf("statfs %s: %v", path, err),
			Required: true,
		}
	}
	return evaluateDiskSpace(stat.Bavail * uint64(stat.Bsize))
}

func evaluateDiskSpace(avail uint64) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Status:   StatusPass,
		Message:  humanize.IBytes(avail) + " free",
		Required: true,
	}
	switch {
	case avail < MinDiskSpaceBytes:
		result.Status = StatusFail
		result.Details = "At least " + humanize.IBytes(MinDiskSpaceBytes) + " is needed for state and logs"
	case avail < WarnDiskSpaceBytes:
		result.Status = StatusWarn
		result.Details = "Log rotation may fail below " + humanize.IBytes(WarnDiskSpaceBytes)
	}
	return result
}
