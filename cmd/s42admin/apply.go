package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joestump/s42admin/internal/applier"
	"github.com/joestump/s42admin/internal/backend"
	"github.com/joestump/s42admin/internal/config"
	"github.com/joestump/s42admin/internal/db"
)

// schemaPlan is the dependency order of the schema files: drop, create,
// row level security, service role policies, grants.
var schemaPlan = []string{
	"000_drop_s42_tables.sql",
	"001_s42_schema.sql",
	"002_s42_rls_policies.sql",
	"003_service_role_policies.sql",
	"004_grant_permissions.sql",
}

func newApplyCmd(a *app) *cobra.Command {
	var (
		files    []string
		require  bool
		strategy string
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the schema files in one transaction",
		Long: `Apply an ordered list of SQL files to the database as one all-or-nothing
transaction. Each file is submitted whole. The first failing file rolls back
everything that came before it.

Missing files are skipped unless --require is given. With --strategy=split,
files are split into statements and run without a transaction. Use this only
when a transactional connection is unavailable: a failure leaves the
statements before it applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := applier.OptionalFiles
			if require {
				mode = applier.RequiredFiles
			}
			s, err := applier.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			plan := applier.NewPlan(a.cfg.SQLDir, mode, files...)
			return a.runPlan(cmd.Context(), "apply", plan, s, "All schema changes applied successfully!")
		},
	}
	cmd.Flags().StringSliceVar(&files, "file", schemaPlan, "plan files in order, relative to --sql-dir")
	cmd.Flags().BoolVar(&require, "require", false, "fail when a planned file does not exist")
	cmd.Flags().StringVar(&strategy, "strategy", "atomic", "execution strategy: atomic or split")
	return cmd
}

func newSeedCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply the navigation seed data",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := applier.NewPlan(a.cfg.SQLDir, applier.RequiredFiles, file)
			return a.runPlan(cmd.Context(), "seed", plan, applier.Atomic{}, "Seed data applied successfully!")
		},
	}
	cmd.Flags().StringVar(&file, "file", "004_seed_navigation.sql", "seed file, relative to --sql-dir")
	return cmd
}

func newFixLogsCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "fix-logs",
		Short: "Create the missing log_level type and repair the logs table",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := applier.NewPlan(a.cfg.SQLDir, applier.RequiredFiles, file)
			return a.runPlan(cmd.Context(), "fix-logs", plan, applier.Atomic{}, "Fix applied successfully!")
		},
	}
	cmd.Flags().StringVar(&file, "file", "fix_logs_table.sql", "fix file, relative to --sql-dir")
	return cmd
}

// runPlan validates configuration, runs plan and reports the outcome. When
// no connection can be made it prints manual instructions instead of
// attempting any other path.
func (a *app) runPlan(ctx context.Context, command string, plan applier.Plan, strategy applier.Strategy, success string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.cfg.ValidateDatabase(); err != nil {
		printConfigError(a.out, err)
		return err
	}

	cfg := a.cfg
	open := func(ctx context.Context) (applier.Conn, error) {
		fmt.Fprintf(a.out, "Connecting to database at %s...\n", cfg.Endpoint())
		d, err := backend.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(a.out, "Connected successfully")
		return d.Conn(), nil
	}

	rec := a.startHistory(command, plan, strategy)

	ap := applier.New(open,
		applier.WithStrategy(strategy),
		applier.WithObserver(&consoleObserver{w: a.out, redact: a.redact}),
		applier.WithLogger(a.log.With(zap.String("command", command))),
		applier.WithConnectTimeout(cfg.ConnectTimeout),
	)
	if !ap.Strategy().Atomic() {
		fmt.Fprintf(a.out, "WARNING: %s strategy runs each statement on its own without a transaction.\n", ap.Strategy().Name())
		fmt.Fprintln(a.out, "         A failure leaves every statement before it applied.")
	}

	res, err := ap.Run(ctx, plan)
	rec.finish(res, err)

	var connErr *applier.ConnectError
	switch {
	case errors.As(err, &connErr):
		fmt.Fprintf(a.out, "Failed to connect: %s\n", a.redact.Redact(connErr.Err.Error()))
		if ierr := applier.ManualInstructions(a.out, plan); ierr != nil {
			a.log.Warn("print manual instructions", zap.Error(ierr))
		}
		return err
	case err != nil:
		return err
	}

	fmt.Fprintf(a.out, "\n%s (%d applied, %d skipped in %s)\n",
		success, res.Count(applier.FileApplied), res.Count(applier.FileSkipped), res.Elapsed.Round(time.Millisecond))
	return nil
}

// consoleObserver prints one line per file event and terminal state.
type consoleObserver struct {
	w      io.Writer
	redact *config.Redactor
}

func (o *consoleObserver) OnFile(fr applier.FileResult) {
	switch fr.Status {
	case applier.FileApplying:
		fmt.Fprintf(o.w, "\nRunning %s...\n", fr.Path)
	case applier.FileApplied:
		fmt.Fprintf(o.w, "%s executed successfully (%d statements)\n", fr.Path, fr.Statements)
	case applier.FileSkipped:
		fmt.Fprintf(o.w, "Skipping %s (not found)\n", fr.Path)
	case applier.FileFailed:
		fmt.Fprintf(o.w, "Error in %s: %s\n", fr.Path, o.redact.Redact(fr.Err.Error()))
	}
}

func (o *consoleObserver) OnState(s applier.State) {
	switch s {
	case applier.StateRolledBack:
		fmt.Fprintln(o.w, "\nRolled back due to error; no changes were kept")
	case applier.StateAborted:
		fmt.Fprintln(o.w, "\nStopped at the failing statement; statements before it remain applied")
	case applier.StateClosed:
		fmt.Fprintln(o.w, "Database connection closed")
	}
}

// historyRecorder writes a run to the optional history database. History
// failures are logged and never change the run's outcome.
type historyRecorder struct {
	a     *app
	store *db.DB
	runID string
}

func (a *app) startHistory(command string, plan applier.Plan, strategy applier.Strategy) *historyRecorder {
	rec := &historyRecorder{a: a}
	if a.cfg.HistoryDB == "" {
		return rec
	}

	store, err := db.Open(a.cfg.HistoryDB)
	if err != nil {
		a.log.Warn("open history database", zap.String("path", a.cfg.HistoryDB), zap.Error(err))
		return rec
	}

	mode := applier.RequiredFiles
	for _, f := range plan.Files {
		if f.Optional {
			mode = applier.OptionalFiles
			break
		}
	}
	id, err := store.InsertRun(&db.Run{
		Command:  command,
		Strategy: strategy.Name(),
		Mode:     mode.String(),
		Endpoint: a.cfg.Endpoint(),
	})
	if err != nil {
		a.log.Warn("record run start", zap.Error(err))
		_ = store.Close()
		return rec
	}
	rec.store = store
	rec.runID = id
	return rec
}

func (r *historyRecorder) finish(res applier.Result, runErr error) {
	if r.store == nil {
		return
	}
	defer r.store.Close() //nolint:errcheck

	var msg *string
	if runErr != nil {
		s := r.a.redact.Redact(runErr.Error())
		msg = &s
	}
	files := make([]db.RunFile, 0, len(res.Files))
	for i, fr := range res.Files {
		f := db.RunFile{
			Position:   i,
			Path:       fr.Path,
			Status:     string(fr.Status),
			Statements: fr.Statements,
			ElapsedMs:  fr.Elapsed.Milliseconds(),
		}
		if fr.Err != nil {
			s := r.a.redact.Redact(fr.Err.Error())
			f.Error = &s
		}
		files = append(files, f)
	}
	if err := r.store.FinishRun(r.runID, string(res.Outcome), msg, res.Elapsed, files); err != nil {
		r.a.log.Warn("record run outcome", zap.String("run", r.runID), zap.Error(err))
	}
}
