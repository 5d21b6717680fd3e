// Package logging configures slog for watchsync.
//
// The daemon always logs to a rotating file under ~/.watchsync/logs/.
// CLI commands log to the same file only when --debug is set; otherwise
// they leave the default stderr logger alone.
package logging
