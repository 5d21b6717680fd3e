package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MinFileDescriptors is the soft limit below which the daemon cannot be
// trusted with more than a handful of roots. Polling and kqueue backends
// hold one descriptor per watched directory.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the RLIMIT_NOFILE soft limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return CheckResult{
			Name:     "file_descriptors",
			Status:   StatusFail,
			Message:  fmt.Sprintf("getrlimit: %v", err),
			Required: true,
		}
	}
	return evaluateFDLimit(lim.Cur, lim.Max)
}

// evaluateFDLimit fails a low soft limit. The fix offered depends on
// whether the hard limit leaves room to raise it without root.
func evaluateFDLimit(soft, hard uint64) CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Status:   StatusPass,
		Message:  fmt.Sprintf("soft %d, hard %d", soft, hard),
		Required: true,
	}
	if soft >= MinFileDescriptors {
		return result
	}

	result.Status = StatusFail
	if hard >= MinFileDescriptors {
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' before starting the daemon", min(hard, 10240))
	} else {
		result.Details = fmt.Sprintf("Hard limit is %d; raise it in /etc/security/limits.conf", hard)
	}
	return result
}
