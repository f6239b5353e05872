package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the local run history database. The
// history belongs to the CLI; the target database never sees it.
type DB struct {
	conn *sql.DB
}

// Run is one invocation of an apply-type command.
type Run struct {
	ID        string
	Command   string // apply, seed, fix-logs
	Strategy  string // atomic, split
	Mode      string // required-file, optional-file
	Endpoint  string // redacted target description
	Outcome   string // INIT, COMMITTED, ROLLED_BACK, ABORTED
	Error     *string
	StartedAt string
	EndedAt   *string
	ElapsedMs *int64
}

// RunFile is the outcome of one planned file within a run.
type RunFile struct {
	ID         int64
	RunID      string
	Position   int
	Path       string
	Status     string // not-run, applied, skipped, failed
	Statements int
	Error      *string
	ElapsedMs  int64
}

// Open creates a new DB connection and runs all pending migrations. The
// parent directory of path is created if needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	d := &DB{conn: conn}
	if err := d.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// migrate applies the embedded migrations with goose. Each migration runs
// in its own transaction and is recorded in goose_db_version.
func (d *DB) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, d.conn, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return err
	}
	return nil
}

// --- Run Methods ---

const runColumns = `id, command, strategy, mode, endpoint, outcome, error, started_at, ended_at, elapsed_ms`

func scanRun(scanner interface{ Scan(...any) error }, r *Run) error {
	return scanner.Scan(&r.ID, &r.Command, &r.Strategy, &r.Mode, &r.Endpoint, &r.Outcome, &r.Error, &r.StartedAt, &r.EndedAt, &r.ElapsedMs)
}

// InsertRun creates a run record. An empty ID is filled with a new UUID and
// an empty StartedAt with the current time. It returns the run ID.
func (d *DB) InsertRun(r *Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt == "" {
		r.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if r.Outcome == "" {
		r.Outcome = "INIT"
	}
	_, err := d.conn.Exec(
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Command, r.Strategy, r.Mode, r.Endpoint, r.Outcome, r.Error, r.StartedAt, r.EndedAt, r.ElapsedMs,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return r.ID, nil
}

// FinishRun stores the outcome of a run and the per-file results in one
// transaction.
func (d *DB) FinishRun(id, outcome string, runErr *string, elapsed time.Duration, files []RunFile) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin finish run %s: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck

	endedAt := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(
		`UPDATE runs SET outcome = ?, error = ?, ended_at = ?, elapsed_ms = ? WHERE id = ?`,
		outcome, runErr, endedAt, elapsed.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: %w", id, sql.ErrNoRows)
	}

	for _, f := range files {
		_, err := tx.Exec(
			`INSERT INTO run_files (run_id, position, path, status, statements, error, elapsed_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, f.Position, f.Path, f.Status, f.Statements, f.Error, f.ElapsedMs,
		)
		if err != nil {
			return fmt.Errorf("insert run file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run %s: %w", id, err)
	}
	return nil
}

// GetRun retrieves a single run by ID. It returns nil, nil when absent.
func (d *DB) GetRun(id string) (*Run, error) {
	r := &Run{}
	row := d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err := scanRun(row, r); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns every
// run.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.conn.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		if err := scanRun(rows, &r); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunFiles returns the files of a run in plan order.
func (d *DB) ListRunFiles(runID string) ([]RunFile, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, position, path, status, statements, error, elapsed_ms
		 FROM run_files WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run files: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var files []RunFile
	for rows.Next() {
		var f RunFile
		if err := rows.Scan(&f.ID, &f.RunID, &f.Position, &f.Path, &f.Status, &f.Statements, &f.Error, &f.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scan run file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
