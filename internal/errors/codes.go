// Package errors provides structured error handling for watchsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, socket)
//   - 3XX: Sync barrier errors
//   - 4XX: Validation and protocol errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and socket I/O errors.
	CategoryIO Category = "IO"
	// CategorySync indicates sync barrier failures (timeouts, aborts).
	CategorySync Category = "SYNC"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeDaemonLocked   = "ERR_204_DAEMON_LOCKED"
	ErrCodeStateCorrupt   = "ERR_205_STATE_CORRUPT"
	ErrCodeSocket         = "ERR_206_SOCKET"
	ErrCodeCookieCreate   = "ERR_207_COOKIE_CREATE"
	ErrCodeWatchFailed    = "ERR_208_WATCH_FAILED"

	// Sync errors (300-399)
	ErrCodeSyncTimeout  = "ERR_301_SYNC_TIMEOUT"
	ErrCodeSyncAborted  = "ERR_302_SYNC_ABORTED"
	ErrCodeNoCookieDirs = "ERR_303_NO_COOKIE_DIRS"
	ErrCodeSyncClosed   = "ERR_304_SYNC_CLOSED"

	// Validation errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath    = "ERR_406_INVALID_PATH"
	ErrCodeRootNotWatched = "ERR_407_ROOT_NOT_WATCHED"
	ErrCodeMalformedPDU   = "ERR_408_MALFORMED_PDU"
	ErrCodeUnknownMethod  = "ERR_409_UNKNOWN_METHOD"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "301" from "ERR_301_SYNC_TIMEOUT"
	numStr := code[4:7]

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategorySync
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStateCorrupt, ErrCodeDiskFull:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// An aborted barrier is retryable: a fresh sync after the recrawl can succeed.
// A socket error usually means the daemon is still starting.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeSyncAborted, ErrCodeDaemonLocked, ErrCodeSocket:
		return true
	default:
		return false
	}
}
