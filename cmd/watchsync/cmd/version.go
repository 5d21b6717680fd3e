package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/watchsync/internal/daemon"
	"github.com/Aman-CERP/watchsync/internal/output"
	"github.com/Aman-CERP/watchsync/pkg/version"
)

// VersionJSON is the --json output of 'watchsync version'.
type VersionJSON struct {
	version.BuildInfo
	DaemonVersion string `json:"daemon_version,omitempty"`
}

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information including git commit, build date, and Go version.

When a daemon is running its version is shown too. A daemon left running
across an upgrade keeps serving the old protocol until restarted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if shortOutput {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			}

			daemonVersion := runningDaemonVersion(cmd.Context())
			if jsonOutput {
				return output.NewPlain(cmd.OutOrStdout()).JSON(VersionJSON{
					BuildInfo:     version.GetInfo(),
					DaemonVersion: daemonVersion,
				})
			}

			if _, err := fmt.Fprintln(cmd.OutOrStdout(), version.String()); err != nil {
				return err
			}
			if daemonVersion == "" {
				return nil
			}
			out := output.New(cmd.OutOrStdout())
			out.KeyValue("Daemon", daemonVersion)
			if daemonVersion != version.Short() {
				out.Warning("Daemon version differs; restart it with 'watchsync daemon stop && watchsync daemon start'")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")
	return cmd
}

// runningDaemonVersion pings the daemon briefly. It returns "" when none
// answers.
func runningDaemonVersion(ctx context.Context) string {
	cfg, _, err := loadDaemonConfig()
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	v, err := daemon.NewClient(cfg).Ping(ctx)
	if err != nil {
		return ""
	}
	return v
}
