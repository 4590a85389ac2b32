package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write a config file with the default settings.

The file goes to the user config directory unless --path is given. An existing
file is left alone unless --force is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromContext(cmd.Context())
			if err != nil {
				return err
			}

			if path == "" {
				path = cli.configManager.UserConfigPath()
			}
			exists, err := afero.Exists(cli.fs, path)
			if err != nil {
				return fmt.Errorf("failed to check %s: %w", path, err)
			}
			if exists && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			if err := cli.configManager.SaveToFile(cli.configManager.GetDefaultConfig(), path); err != nil {
				return err
			}

			slog.Info("config file written", "path", path, "overwritten", exists)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Where to write the config (default: user config dir)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after files, environment and flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromContext(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cli.cfg)
		},
	}
}
