package cli

import (
	"fmt"
	"strings"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/services"
	"github.com/amaumene/mediasync/internal/sources"
	"github.com/spf13/cobra"
)

func authCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "auth <source>",
		Short:     "Authorize mediasync with a source",
		Args:      cobra.ExactArgs(1),
		ValidArgs: services.Names,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToLower(args[0])

			cfg, err := config.LoadUnvalidated(global.baseDir)
			if err != nil {
				return err
			}
			srcCfg, ok := cfg.Source(name)
			if !ok {
				return fmt.Errorf("%w: unknown source %s", config.ErrConfigInvalid, name)
			}
			if srcCfg.ClientID == "" {
				return fmt.Errorf("%w: %s.client_id is not set, run mediasync config set %s.client_id <id>", config.ErrConfigInvalid, name, name)
			}

			logger, err := newLogger(cfg, global.output)
			if err != nil {
				return err
			}
			store, err := credentials.Open(cfg.Paths.CredentialsFile)
			if err != nil {
				return err
			}
			src, err := services.NewSource(name, cfg, store, logger)
			if err != nil {
				return err
			}

			login, ok := sources.AsInteractiveAuth(src)
			if !ok {
				return fmt.Errorf("%s does not need interactive authorization", name)
			}
			if err := login.Login(runContext(cmd), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("failed to authorize %s: %w", name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), okColor.Sprintf("Authorized with %s", name))
			return nil
		},
	}
}
