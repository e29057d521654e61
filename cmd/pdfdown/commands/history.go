package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/pdfdown/cmd/pdfdown/ui"
	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/history"
)

func newHistoryCommand(global *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent conversion runs",
		Long:  "History lists recent runs, or the per-page outcome of one run when a run ID is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return domain.ConfigError("history is disabled (set history.path or PDFDOWN_HISTORY_DB)", nil)
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get run %s: %w", args[0], err)
				}
				rows := make([][]string, 0, len(run.Pages))
				for _, p := range run.Pages {
					status := "ok"
					if !p.OK {
						status = p.ErrorKind
						if p.StatusCode != 0 {
							status = fmt.Sprintf("%s (%d)", p.ErrorKind, p.StatusCode)
						}
					}
					rows = append(rows, []string{
						strconv.Itoa(p.Index + 1), status, strconv.Itoa(p.Attempts), ui.FormatDuration(p.Duration),
					})
				}
				fmt.Fprintf(out, "Run %s: %s (%s, %d/%d pages)\n\n", run.ID, run.InputPath, run.Model, run.Successful, run.TotalPages)
				ui.Table(out, []string{"Page", "Status", "Attempts", "Duration"}, rows)
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				ui.Info("No runs recorded yet")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID,
					r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.InputPath,
					fmt.Sprintf("%d/%d", r.Successful, r.TotalPages),
					ui.FormatDuration(r.Duration),
				})
			}
			ui.Table(out, []string{"Run", "Started", "Input", "Pages", "Duration"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	return cmd
}
