package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/watchsync/configs"
	"github.com/Aman-CERP/watchsync/internal/config"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long: `Manage the user configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/watchsync/config.yaml)
  3. Environment variables (WATCHSYNC_*)

Every write keeps a timestamped backup next to the file. The newest three
are kept.`,
		Example: `  # Create user config with defaults
  watchsync config init

  # Show effective configuration
  watchsync config show

  # Undo the last change
  watchsync config restore`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigBackupsCmd())
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create user configuration file",
		Long: `Create the user configuration file with default settings.

The file is created at ~/.config/watchsync/config.yaml (or
$XDG_CONFIG_HOME/watchsync/config.yaml if XDG_CONFIG_HOME is set), with
every setting commented. Runtime file paths are left out so WATCHSYNC_HOME
keeps working.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration (a backup is kept)")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, defaults")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func newConfigBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List user config backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := config.ListUserConfigBackups()
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).List(backups, "no backups")
			return nil
		},
	}
}

func newConfigRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the user config from a backup",
		Long: `Restore the user configuration from a backup. Without an argument the
newest backup is used. The current file is backed up first, so a restore
can itself be undone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())

			var backup string
			if len(args) > 0 {
				backup = args[0]
			} else {
				backups, err := config.ListUserConfigBackups()
				if err != nil {
					return err
				}
				if len(backups) == 0 {
					return werrors.New(werrors.ErrCodeConfigNotFound, "no config backups found", nil).
						WithSuggestion("Backups are made by 'watchsync config init --force'")
				}
				backup = backups[0]
			}

			if err := config.RestoreUserConfig(backup); err != nil {
				return werrors.ConfigError("failed to restore config", err)
			}
			out.Successf("Restored %s", config.GetUserConfigPath())
			out.Statusf("", "From: %s", backup)
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	configPath := config.GetUserConfigPath()

	if config.UserConfigExists() && !force {
		out.Warning("User configuration already exists")
		out.Statusf("", "Location: %s", configPath)
		out.Status("", "Use --force to reset it to defaults (a backup is kept)")
		return nil
	}

	backup, err := config.BackupUserConfig()
	if err != nil {
		return werrors.ConfigError("failed to back up user config", err)
	}
	if err := os.MkdirAll(config.GetUserConfigDir(), 0o755); err != nil {
		return werrors.IOError("failed to create config directory", err)
	}
	if err := os.WriteFile(configPath, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return werrors.IOError("failed to write user config", err)
	}

	out.Success("Created user configuration")
	out.Statusf("", "Location: %s", configPath)
	if backup != "" {
		out.Statusf("", "Backup: %s", backup)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	out := output.New(cmd.OutOrStdout())

	var cfg *config.Config
	switch source {
	case "merged":
		_, merged, err := loadDaemonConfig()
		if err != nil {
			return err
		}
		cfg = merged

	case "user":
		configPath := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("", "Expected at: %s", configPath)
			out.Status("", "Run 'watchsync config init' to create one")
			return nil
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return werrors.IOError("failed to read user config", err)
		}
		cfg = &config.Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return werrors.ConfigError("failed to parse user config", err)
		}

	case "defaults":
		cfg = config.NewConfig()

	default:
		return werrors.ValidationError(fmt.Sprintf("unknown source %q", source), nil).
			WithSuggestion("Use merged, user or defaults")
	}

	if jsonOutput {
		return out.JSON(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
