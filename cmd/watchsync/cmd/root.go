// Package cmd provides the CLI commands for watchsync.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/watchsync/internal/config"
	"github.com/Aman-CERP/watchsync/internal/daemon"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/logging"
	"github.com/Aman-CERP/watchsync/internal/profiling"
	"github.com/Aman-CERP/watchsync/pkg/version"
)

// Debug logging flag
var (
	debugMode      bool
	loggingCleanup func()
)

// Profiling flags
var (
	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the watchsync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchsync",
		Short: "Synchronize with a file watcher before reading its view",
		Long: `watchsync keeps a background daemon watching your source trees.

Before a tool trusts what the watcher has reported, it runs 'watchsync sync'.
The daemon drops a cookie file into the tree and waits until the watcher
delivers it. Every change made before the sync started has then been seen.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("watchsync version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.watchsync/logs/")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Goroutine, "profile-goroutine", "", "Write goroutine dump to file on exit")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newWatchDelCmd())
	cmd.AddCommand(newWatchListCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newDebugCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging enables file logging when --debug is set and
// starts any requested profiles.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		cleanup, err := logging.SetupDefault(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profileSession = s
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints any error in CLI form.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, werrors.FormatForCLI(err))
	}
	return err
}

// loadDaemonConfig resolves daemon settings from the user config and the
// environment. Project files are not consulted: one daemon serves every
// project.
func loadDaemonConfig() (daemon.Config, *config.Config, error) {
	cfg, err := config.Load("")
	if err != nil {
		return daemon.Config{}, nil, werrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Check " + config.GetUserConfigPath())
	}
	return daemon.FromConfig(cfg), cfg, nil
}

// rootArg returns the root named on the command line, or the working
// directory, as an absolute path. The daemon's working directory differs
// from the caller's.
func rootArg(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", werrors.ValidationError("failed to resolve root", err)
	}
	return abs, nil
}
