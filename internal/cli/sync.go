package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/amaumene/mediasync/internal/controllers"
	"github.com/spf13/cobra"
)

type syncFlags struct {
	watchlist bool
	ratings   bool
	reviews   bool
	history   bool
	forceFull bool
	dryRun    []string
	useCache  []string
}

// options selects the collections from the flags, or from the configuration when no
// collection flag is given
func (f syncFlags) options(app *app) controllers.SyncOptions {
	opts := controllers.OptionsFromConfig(app.cfg.Sync)
	if f.watchlist || f.ratings || f.reviews || f.history {
		opts.Watchlist, opts.Ratings, opts.Reviews, opts.History = f.watchlist, f.ratings, f.reviews, f.history
	}
	opts.ForceFull = f.forceFull
	opts.DryRun = normalizeNames(f.dryRun)
	opts.UseCache = normalizeNames(f.useCache)
	return opts
}

func normalizeNames(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func syncCmd(global *globalFlags) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization",
		Long: `Collect every enabled source, resolve conflicts and push the missing changes.

Without collection flags the collections enabled in config.toml are synchronized.
Dry-run sources get their planned changes written under data/cache/distribute instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(global.output); err != nil {
				return err
			}
			app, err := openApp(global)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := app.sync.Run(ctx, flags.options(app))
			if result != nil {
				if perr := printResult(cmd.OutOrStdout(), global.output, result); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if result.HasFailures() {
				return &exitError{code: ExitFailures}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.watchlist, "watchlist", false, "synchronize watchlists")
	cmd.Flags().BoolVar(&flags.ratings, "ratings", false, "synchronize ratings")
	cmd.Flags().BoolVar(&flags.reviews, "reviews", false, "synchronize reviews")
	cmd.Flags().BoolVar(&flags.history, "history", false, "synchronize watch history")
	cmd.Flags().BoolVar(&flags.forceFull, "force-full", false, "ignore last sync timestamps and fetch everything")
	cmd.Flags().StringSliceVar(&flags.dryRun, "dry-run", nil, "sources to plan for without pushing (comma separated)")
	cmd.Flags().StringSliceVar(&flags.useCache, "use-cache", nil, "sources to read from the collect cache instead of fetching")
	return cmd
}

// printResult renders a sync result
func printResult(w io.Writer, mode string, result *controllers.SyncResult) error {
	if isJSON(mode) {
		return writeJSON(w, mode, result)
	}

	switch {
	case result.HasFailures():
		fmt.Fprintln(w, warnColor.Sprint("Sync completed with failures"))
	case result.NothingToDo():
		fmt.Fprintln(w, okColor.Sprint("Everything is in sync, nothing to do"))
	default:
		fmt.Fprintln(w, okColor.Sprint("Sync completed"))
	}
	fmt.Fprintln(w, subtleColor.Sprintf("run %s, %s", result.RunID, result.Duration.Round(time.Millisecond)))
	if len(result.DryRun) > 0 {
		fmt.Fprintln(w, subtleColor.Sprintf("dry run for %s", strings.Join(result.DryRun, ", ")))
	}
	fmt.Fprintln(w)

	var rows [][]string
	for _, name := range result.Sources() {
		s := result.PerSource[name]
		rows = append(rows, []string{
			name,
			strconv.Itoa(s.Fetched),
			strconv.Itoa(s.Resolved),
			strconv.Itoa(s.Planned),
			strconv.Itoa(s.Pushed),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Skipped),
		})
	}
	table(w, []string{"SOURCE", "FETCHED", "RESOLVED", "PLANNED", "PUSHED", "FAILED", "SKIPPED"}, rows)

	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		for _, e := range result.Errors {
			fmt.Fprintln(w, errorColor.Sprint("  ✗ ")+e)
		}
	}
	return nil
}

// runContext returns the command context, or a background one outside Execute
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
