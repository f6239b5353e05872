package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joestump/s42admin/internal/config"
	"github.com/joestump/s42admin/internal/db"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List apply runs recorded in the history database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.HistoryDB == "" {
				return &config.Error{Msg: "no history database configured (--history-db or S42ADMIN_HISTORY_DB)"}
			}
			store, err := db.Open(a.cfg.HistoryDB)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close() //nolint:errcheck

			if runID != "" {
				return showRun(a, store, runID)
			}

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "No runs recorded.")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				elapsed := ""
				if r.ElapsedMs != nil {
					elapsed = strconv.FormatInt(*r.ElapsedMs, 10) + "ms"
				}
				rows = append(rows, []string{r.ID, r.StartedAt, r.Command, r.Strategy, r.Outcome, elapsed})
			}
			renderTable(a.out, []string{"Run", "Started", "Command", "Strategy", "Outcome", "Elapsed"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "show the files of one run")
	return cmd
}

func showRun(a *app, store *db.DB, id string) error {
	r, err := store.GetRun(id)
	if err != nil {
		return err
	}
	if r == nil {
		return errors.New("run not found: " + id)
	}
	fmt.Fprintf(a.out, "Run %s: %s via %s (%s) against %s -> %s\n", r.ID, r.Command, r.Strategy, r.Mode, r.Endpoint, r.Outcome)
	if r.Error != nil {
		fmt.Fprintf(a.out, "Error: %s\n", *r.Error)
	}

	files, err := store.ListRunFiles(id)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{strconv.Itoa(f.Position + 1), f.Path, f.Status, strconv.Itoa(f.Statements), strOrEmpty(f.Error)})
	}
	renderTable(a.out, []string{"#", "File", "Status", "Statements", "Error"}, rows)
	return nil
}
