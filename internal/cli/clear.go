package cli

import (
	"fmt"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/controllers"
	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/idcache"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/spf13/cobra"
)

// clearTargets lists what clear accepts
var clearTargets = []string{"cache", "credentials", "timestamps", "all"}

func clearCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "clear <cache|credentials|timestamps|all>",
		Short:     "Remove cached data, stored tokens or sync timestamps",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: clearTargets,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadUnvalidated(global.baseDir)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, global.output)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			target := args[0]

			if target == "cache" || target == "all" {
				cache := controllers.NewCacheManager(cfg.Paths.CollectDir, cfg.Paths.DistributeDir, logger)
				if err := cache.Clear(); err != nil {
					return err
				}
				if err := idcache.NewStorage(cfg.Paths.IDCacheDir, logger).Clear(); err != nil {
					return err
				}
				fmt.Fprintln(out, okColor.Sprint("Cleared collect, distribute and ID caches"))
			}

			if target == "credentials" || target == "timestamps" || target == "all" {
				store, err := credentials.Open(cfg.Paths.CredentialsFile)
				if err != nil {
					return err
				}
				switch target {
				case "credentials":
					err = store.ClearTokens()
				case "timestamps":
					err = store.ClearTimestamps()
				default:
					err = store.Clear()
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, okColor.Sprintf("Cleared %s", map[string]string{
					"credentials": "stored tokens",
					"timestamps":  "last sync timestamps",
					"all":         "stored tokens and last sync timestamps",
				}[target]))
			}

			if target == "all" {
				db, err := models.NewDatabase(cfg.Paths.DatabaseFile)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.DeleteAllSyncRuns(); err != nil {
					return err
				}
				fmt.Fprintln(out, okColor.Sprint("Cleared sync run history"))
			}
			return nil
		},
	}
}
