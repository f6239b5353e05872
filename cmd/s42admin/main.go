package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joestump/s42admin/internal/applier"
	"github.com/joestump/s42admin/internal/backend"
	"github.com/joestump/s42admin/internal/config"
	"github.com/joestump/s42admin/internal/logging"
)

// Exit codes. Anything that is not a success is non-zero.
const (
	exitOK         = 0
	exitFailure    = 1
	exitConfig     = 2
	exitConnection = 3
	exitBatch      = 4
)

// app carries what every subcommand needs. It is filled in once by the
// root command's PersistentPreRunE.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	log    *zap.Logger
	out    io.Writer
	redact *config.Redactor
}

func main() {
	a := &app{v: viper.New()}
	if err := a.rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", a.redact.Redact(err.Error()))
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	return (&app{v: viper.New()}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:           "s42admin",
		Short:         "Administrative tooling for the s42 Supabase database",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			a.cfg = config.Load(a.v)
			a.redact = config.NewRedactor(a.cfg)
			a.log = logging.New(cmd.ErrOrStderr(), a.cfg.LogLevel, a.cfg.LogFormat)
			a.out = cmd.OutOrStdout()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	f := rootCmd.PersistentFlags()
	f.String("env-file", ".env", "file of KEY=VALUE pairs loaded before reading the environment")
	f.String("host", "", "database host (SUPABASE_DB_HOST)")
	f.Int("port", 5432, "database port (SUPABASE_DB_PORT)")
	f.String("database", "postgres", "database name (SUPABASE_DB_DATABASE)")
	f.String("user", "", "database user (SUPABASE_DB_USER)")
	f.String("sslmode", "require", "TLS mode for the database connection (SUPABASE_DB_SSLMODE)")
	f.Duration("connect-timeout", applier.DefaultConnectTimeout, "bounded wait for the initial connection")
	f.String("sql-dir", "sql", "base directory that plan files are resolved against")
	f.String("schema", "public", "schema that holds the s42 tables")
	f.String("table-prefix", "s42_", "prefix of the s42 tables")
	f.String("history-db", "", "record apply runs in this local SQLite file (disabled when empty)")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-format", "console", "log format (console or json)")

	// Viper keys use underscores so they line up with config.SetDefaults.
	bindFlag := func(viperKey, flagName string) {
		_ = a.v.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("db_host", "host")
	bindFlag("db_port", "port")
	bindFlag("db_name", "database")
	bindFlag("db_user", "user")
	bindFlag("db_sslmode", "sslmode")
	bindFlag("connect_timeout", "connect-timeout")
	bindFlag("sql_dir", "sql-dir")
	bindFlag("schema", "schema")
	bindFlag("table_prefix", "table-prefix")
	bindFlag("history_db", "history-db")
	bindFlag("log_level", "log-level")
	bindFlag("log_format", "log-format")

	rootCmd.AddCommand(
		newApplyCmd(a),
		newSeedCmd(a),
		newFixLogsCmd(a),
		newPingCmd(a),
		newNavigationCmd(a),
		newRLSCmd(a),
		newPagesCmd(a),
		newRESTCheckCmd(a),
		newHistoryCmd(a),
	)
	return rootCmd
}

// exitCode maps an error returned by a subcommand to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var cfgErr *config.Error
	var connErr *applier.ConnectError
	var backendErr *backend.ConnectionError
	var batchErr *applier.BatchError
	var missingErr *applier.MissingFileError
	var fileErr *applier.FileError

	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &connErr), errors.As(err, &backendErr):
		return exitConnection
	case errors.As(err, &batchErr), errors.As(err, &missingErr), errors.As(err, &fileErr), errors.Is(err, applier.ErrCommit):
		return exitBatch
	default:
		return exitFailure
	}
}

// printConfigError lists what is missing, with secrets masked.
func printConfigError(w io.Writer, err error) {
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) || len(cfgErr.Missing) == 0 {
		return
	}
	fmt.Fprintln(w, "Missing required environment variables:")
	lines := cfgErr.Summary
	if len(lines) == 0 {
		lines = cfgErr.Missing
	}
	for _, l := range lines {
		fmt.Fprintf(w, "   %s\n", l)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
