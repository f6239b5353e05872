package backend

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joestump/s42admin/internal/config"
)

// Dialect identifies the SQL flavour of an open connection.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ConnectionError reports a backend that could not be reached or rejected
// the credentials within the connect timeout.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DB wraps the single connection to the target database.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	schema  string
	prefix  string
}

// Open connects to the database described by cfg and pings it. The pool is
// pinned to one connection so every statement of a run shares a session.
// The ping is bounded by ctx and by cfg.ConnectTimeout.
func Open(ctx context.Context, cfg config.Config) (*DB, error) {
	conn, dialect, err := openConn(cfg)
	if err != nil {
		return nil, &ConnectionError{Endpoint: cfg.Endpoint(), Err: err}
	}
	conn.SetMaxOpenConns(1)

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Endpoint: cfg.Endpoint(), Err: err}
	}

	schema := cfg.Schema
	if dialect == SQLite {
		schema = ""
	}
	return &DB{conn: conn, dialect: dialect, schema: schema, prefix: cfg.TablePrefix}, nil
}

func openConn(cfg config.Config) (*sql.DB, Dialect, error) {
	dsn := cfg.DSN()
	if path, ok := sqlitePath(dsn); ok {
		conn, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		return conn, SQLite, nil
	}

	pgCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		pgCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	return stdlib.OpenDB(*pgCfg), Postgres, nil
}

// sqlitePath recognises sqlite://path and sqlite:path URLs used for local
// rehearsal runs.
func sqlitePath(dsn string) (string, bool) {
	if !strings.HasPrefix(dsn, "sqlite:") {
		return "", false
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//"), true
	}
	path := u.Opaque
	if path == "" {
		path = u.Host + u.Path
	}
	return path, true
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect returns the SQL flavour of the connection.
func (d *DB) Dialect() Dialect { return d.dialect }

// Table returns the schema-qualified name of a prefixed table, e.g.
// "categories" -> public.s42_categories.
func (d *DB) Table(name string) string {
	if d.schema == "" {
		return d.prefix + name
	}
	return d.schema + "." + d.prefix + name
}
