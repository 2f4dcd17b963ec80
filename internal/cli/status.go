package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/amaumene/mediasync/internal/config"
	"github.com/amaumene/mediasync/internal/models"
	"github.com/spf13/cobra"
)

// runView is the JSON form of a recorded run
type runView struct {
	ID         string                    `json:"id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Duration   string                    `json:"duration"`
	DryRun     bool                      `json:"dry_run"`
	Success    bool                      `json:"success"`
	Sources    []models.SourceRunSummary `json:"sources"`
	Errors     []string                  `json:"errors,omitempty"`
}

func statusCmd(global *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validOutput(global.output); err != nil {
				return err
			}
			cfg, err := config.LoadUnvalidated(global.baseDir)
			if err != nil {
				return err
			}
			db, err := models.NewDatabase(cfg.Paths.DatabaseFile)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListSyncRuns(limit)
			if err != nil {
				return fmt.Errorf("failed to list sync runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if isJSON(global.output) {
				views := make([]runView, 0, len(runs))
				for _, r := range runs {
					views = append(views, runView{
						ID:         r.ID,
						StartedAt:  r.StartedAt,
						FinishedAt: r.FinishedAt,
						Duration:   r.Duration().Round(time.Millisecond).String(),
						DryRun:     r.DryRun,
						Success:    r.Success,
						Sources:    r.Sources,
						Errors:     r.Errors,
					})
				}
				return writeJSON(out, global.output, views)
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No sync has run yet")
				return nil
			}

			var rows [][]string
			for _, r := range runs {
				outcome := "ok"
				if !r.Success {
					outcome = "failed"
				}
				pushed := 0
				for _, s := range r.Sources {
					pushed += s.Pushed
				}
				mode := ""
				if r.DryRun {
					mode = "dry-run"
				}
				rows = append(rows, []string{
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Duration().Round(time.Second).String(),
					outcome,
					strconv.Itoa(pushed),
					strconv.Itoa(len(r.Errors)),
					mode,
				})
			}
			table(out, []string{"STARTED", "DURATION", "RESULT", "PUSHED", "ERRORS", "MODE"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}
