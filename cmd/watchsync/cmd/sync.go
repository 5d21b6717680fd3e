package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/watchsync/internal/daemon"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/output"
)

func newSyncCmd() *cobra.Command {
	var (
		timeout    time.Duration
		encoding   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "sync [root]",
		Short: "Wait until the watcher has caught up with the file system",
		Long: `Block until every change made to the root before this command started has
been observed by the daemon's watcher.

The daemon writes a uniquely named cookie file into the root (and into each
of its VCS directories when configured) and returns once the watcher reports
all of them. A sync fails with a timeout if the cookies never arrive, and is
aborted if the watcher has to recrawl while it waits.

Exit status is non-zero on timeout or abort, so scripts can gate on it.
With --json a failure is also printed to stdout as a JSON error object.`,
		Example: `  # Sync the current directory
  watchsync sync

  # Give up after two seconds
  watchsync sync --timeout 2s ~/src/project

  # Speak BSER to the daemon
  watchsync sync --encoding bser`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if encoding != daemon.EncodingJSON && encoding != daemon.EncodingBSER {
				return werrors.ValidationError(fmt.Sprintf("unknown encoding %q", encoding), nil).
					WithSuggestion("Use json or bser")
			}
			if timeout < 0 {
				return werrors.ValidationError("timeout must not be negative", nil)
			}

			root, err := rootArg(args)
			if err != nil {
				return err
			}
			client, err := newClient(encoding)
			if err != nil {
				return err
			}

			res, err := client.Sync(cmd.Context(), root, timeout)
			if err != nil {
				if jsonOutput {
					if data, jerr := werrors.FormatJSON(err); jerr == nil {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					}
				}
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(res)
			}
			out.Successf("Synced %s (clock %d, %dms)", res.Root, res.Clock, res.ElapsedMS)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Give up after this long (default: daemon setting)")
	cmd.Flags().StringVar(&encoding, "encoding", daemon.EncodingJSON, "Wire encoding: json or bser")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
