package cli

import (
	"fmt"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/spf13/cobra"
)

func configCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit config.toml",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Show(global.baseDir)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(global.baseDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprint("Configuration is valid"))
			fmt.Fprintln(cmd.OutOrStdout(), subtleColor.Sprintf("enabled sources: %v", cfg.EnabledSources()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write config.toml with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.Init(global.baseDir)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintln(cmd.OutOrStdout(), warnColor.Sprintf("%s already exists, left unchanged", path))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprintf("Wrote %s", path))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set one configuration key",
		Example: "  mediasync config set resolution.source_preference trakt,simkl",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Set(global.baseDir, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprintf("Set %s", args[0]))
			return nil
		},
	})

	return cmd
}
