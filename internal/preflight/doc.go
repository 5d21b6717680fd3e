// Package preflight provides the system checks behind `watchsync doctor`
// and the first daemon start.
//
// The package validates:
//   - Disk space and write access for the data directory
//   - File descriptor limits (every watched directory holds one)
//   - inotify watch and queue limits on Linux
//   - A live cookie sync round trip through the notification backend
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
