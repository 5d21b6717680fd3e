package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/watchsync/internal/daemon"
	"github.com/Aman-CERP/watchsync/internal/output"
)

func newWatchCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Start watching a directory tree",
		Long: `Ask the daemon to watch a directory tree. Defaults to the current directory.

Watching a root twice is harmless. Watched roots survive daemon restarts
until removed with 'watchsync watch-del'.`,
		Example: `  watchsync watch
  watchsync watch ~/src/project`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			client, err := newClient(daemon.EncodingJSON)
			if err != nil {
				return err
			}

			res, err := client.Watch(cmd.Context(), root)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(res)
			}
			out.Successf("Watching %s", res.Root)
			out.KeyValue("Backend", res.Backend)
			out.KeyValue("Cookie dirs", len(res.CookieDirs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newWatchDelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-del [root]",
		Short: "Stop watching a directory tree",
		Long: `Stop watching a directory tree and forget it. Pending syncs against the
root fail as aborted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			client, err := newClient(daemon.EncodingJSON)
			if err != nil {
				return err
			}

			if err := client.Unwatch(cmd.Context(), root); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Stopped watching %s", root)
			return nil
		},
	}
}

func newWatchListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "watch-list",
		Short: "List watched roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(daemon.EncodingJSON)
			if err != nil {
				return err
			}

			roots, err := client.WatchList(cmd.Context())
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(daemon.WatchListResult{Roots: roots})
			}
			out.List(roots, "no roots are watched")
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// newClient builds a daemon client from the current configuration.
func newClient(encoding string) (*daemon.Client, error) {
	cfg, _, err := loadDaemonConfig()
	if err != nil {
		return nil, err
	}
	return daemon.NewClient(cfg, daemon.WithEncoding(encoding)), nil
}
