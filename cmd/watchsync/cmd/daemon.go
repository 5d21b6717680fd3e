package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/Aman-CERP/watchsync/internal/config"
	"github.com/Aman-CERP/watchsync/internal/daemon"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/logging"
	"github.com/Aman-CERP/watchsync/internal/output"
	"github.com/Aman-CERP/watchsync/internal/preflight"
	"github.com/Aman-CERP/watchsync/internal/watchroot"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background watch daemon",
		Long: `The daemon owns every watched root and answers sync requests.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and per-root counters

Examples:
  watchsync daemon start      # Start daemon in background
  watchsync daemon start -f   # Run in foreground (for debugging)
  watchsync daemon status     # Check if daemon is running
  watchsync daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

type daemonStartOptions struct {
	foreground bool
	detached   bool
	skipCheck  bool
}

func newDaemonStartCmd() *cobra.Command {
	var opts daemonStartOptions

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the watch daemon in the background.

Watched roots from the previous run are restored. The first start in a data
directory runs the system checks from 'watchsync doctor'.

Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	cmd.Flags().BoolVar(&opts.skipCheck, "skip-check", false, "Skip first-start system checks")
	cmd.Flags().BoolVar(&opts.detached, "detached", false, "Set by the parent when daemonizing")
	_ = cmd.Flags().MarkHidden("detached")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running watch daemon.

Sends SIGTERM for a graceful shutdown, then SIGKILL if the daemon does not
exit within five seconds. Watched roots are kept for the next start.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show whether the daemon is running, its process ID and uptime, and for
each watched root its backend, clock and cookie counters.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, opts daemonStartOptions) error {
	out := output.New(cmd.OutOrStdout())
	cfg, userCfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if opts.foreground || opts.detached {
		return runDaemonForeground(ctx, out, cfg, userCfg, opts)
	}

	if !opts.skipCheck {
		if err := firstStartCheck(ctx); err != nil {
			return err
		}
	}

	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--detached")
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &unix.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and notice if it dies before answering.
	exited := make(chan error, 1)
	go func() { exited <- bgCmd.Wait() }()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ready := make(chan error, 1)
	go func() { ready <- client.WaitReady(waitCtx, werrors.DefaultRetryConfig()) }()

	select {
	case err := <-ready:
		if err != nil {
			return werrors.New(werrors.ErrCodeSocket, "daemon failed to start within timeout", err).
				WithSuggestion("Check the log: " + logging.DefaultLogPath())
		}
		out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
		return nil
	case err := <-exited:
		if err == nil {
			err = fmt.Errorf("exit status 0")
		}
		return werrors.New(werrors.ErrCodeInternal, "daemon process exited unexpectedly", err).
			WithSuggestion("Run in foreground to see why: watchsync daemon start -f")
	}
}

// firstStartCheck runs the system checks once per data directory.
func firstStartCheck(ctx context.Context) error {
	dataDir := config.DataDir()
	if !preflight.NeedsCheck(dataDir) {
		return nil
	}

	checker := preflight.New(preflight.WithOutput(io.Discard))
	results := checker.RunAll(ctx, dataDir)
	if checker.HasCriticalFailures(results) {
		return werrors.New(werrors.ErrCodeInternal, "system check failed", nil).
			WithSuggestion("Run 'watchsync doctor' for diagnostics")
	}
	if err := preflight.MarkPassed(dataDir); err != nil {
		slog.Debug("Failed to mark preflight as passed", slog.String("error", err.Error()))
	}
	return nil
}

func runDaemonForeground(ctx context.Context, out *output.Writer, cfg daemon.Config, userCfg *config.Config, opts daemonStartOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = userCfg.Logging.Level
	logCfg.MaxSizeMB = userCfg.Logging.MaxSizeMB
	logCfg.MaxFiles = userCfg.Logging.MaxFiles
	// A detached daemon's stderr goes nowhere.
	logCfg.WriteToStderr = !opts.detached
	if debugMode {
		logCfg.Level = "debug"
	}
	if cleanup, err := logging.SetupDefault(logCfg); err == nil {
		defer cleanup()
	}

	if !opts.detached {
		out.Status("", "Starting daemon in foreground...")
		out.Statusf("", "Socket: %s", cfg.SocketPath)
		out.Statusf("", "Logs: %s", logging.DefaultLogPath())
		out.Status("", "Press Ctrl+C to stop")
		out.Newline()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	d, err := daemon.NewDaemon(cfg)
	if err != nil {
		slog.Error("Failed to create daemon", slog.String("error", err.Error()))
		return err
	}
	return d.Start(ctx)
}

func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	cfg, _, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	pidFile := daemon.NewPIDFile(cfg.PIDPath)
	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Warning("Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg, _, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	client := daemon.NewClient(cfg)
	if !client.IsRunning() {
		if jsonOutput {
			return out.JSON(daemon.StatusResult{Running: false})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'watchsync daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if jsonOutput {
		return out.JSON(status)
	}

	out.Header("Daemon is running")
	out.KeyValue("PID", status.PID)
	out.KeyValue("Uptime", status.Uptime)
	out.KeyValue("Socket", cfg.SocketPath)
	out.KeyValue("Roots", fmt.Sprintf("%d of %d", len(status.Roots), status.MaxRoots))
	if s := status.SyncsToday; s != nil {
		out.KeyValue("Syncs today", fmt.Sprintf("%d (%d ok)", s.Total(), s.Outcomes[watchroot.OutcomeOK]))
	}

	for _, r := range status.Roots {
		out.Newline()
		out.Header(r.Path)
		out.KeyValue("Backend", r.Backend)
		out.KeyValue("Clock", r.Clock)
		out.KeyValue("Changes", r.Changes)
		out.KeyValue("Recrawls", r.Recrawls)
		out.KeyValue("Syncs", r.Cookies.SyncsStarted)
		out.KeyValue("Cookies", fmt.Sprintf("%d pending, %d observed, %d aborted",
			r.Cookies.Outstanding, r.Cookies.Observed, r.Cookies.Aborted))
		if !r.Healthy {
			out.Warning("watcher is not healthy; try 'watchsync debug recrawl'")
		}
	}
	return nil
}
