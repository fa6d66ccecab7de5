package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"walletsync/pkg/config"
)

var errConfigExists = errors.New("config file already exists (use --force to overwrite; the old file is backed up)")

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or restore the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [config]",
		Short: "Write the default configuration plus any flag overrides",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := flags.path(args)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s: %w", path, errConfigExists)
			}

			cfg := config.Default()
			flags.apply(&cfg)
			if err := config.SaveConfig(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file after backing it up")

	restoreCmd := &cobra.Command{
		Use:   "restore [config]",
		Short: "Restore the most recent backup of the configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := flags.path(args)
			if err != nil {
				return err
			}
			if err := config.RestoreLastBackup(path); err != nil {
				return fmt.Errorf("restoring %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored last backup of %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, restoreCmd)
	return cmd
}
