package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/Aman-CERP/watchsync/internal/config"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/output"
	"github.com/Aman-CERP/watchsync/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics to ensure watchsync can operate correctly.

Checks:
  - Disk space in the data directory
  - Write permissions
  - File descriptor limits
  - inotify watch and queue limits (Linux)
  - A full sync round trip against a scratch directory

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.`,
		Example: `  # Run diagnostics
  watchsync doctor

  # JSON output for scripting
  watchsync doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	dataDir := config.DataDir()
	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(ctx, dataDir)

	if jsonOutput {
		if err := outputDoctorJSON(cmd, checker, results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
		if !preflight.NeedsCheck(dataDir) {
			if age := preflight.MarkerAge(dataDir); age > 0 {
				cmd.Printf("\nLast successful check: %s ago\n", formatAge(age))
			}
		}
	}

	if checker.HasCriticalFailures(results) {
		_ = preflight.ClearMarker(dataDir)
		return werrors.New(werrors.ErrCodeInternal, "system check failed", nil)
	}
	if err := preflight.MarkPassed(dataDir); err != nil {
		return werrors.IOError("failed to record passed check", err)
	}
	return nil
}

// DoctorJSON is the structure for JSON output.
type DoctorJSON struct {
	Status   string                  `json:"status"`
	DataDir  string                  `json:"data_dir"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func outputDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	doc := DoctorJSON{
		Status:  checker.SummaryStatus(results),
		DataDir: config.DataDir(),
		Checks:  results,
	}
	for _, r := range results {
		switch {
		case r.IsCritical():
			doc.Errors = append(doc.Errors, r.Name+": "+r.Message)
		case r.Status == preflight.StatusWarn:
			doc.Warnings = append(doc.Warnings, r.Name+": "+r.Message)
		}
	}
	return output.NewPlain(cmd.OutOrStdout()).JSON(doc)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return "less than 1 hour"
	case d < 2*time.Hour:
		return "1 hour"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d < 48*time.Hour:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}

