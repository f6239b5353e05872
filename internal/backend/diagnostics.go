package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NavigationTables are the tables the navigation UI reads.
var NavigationTables = []string{"categories", "menu_items", "pages"}

// navigationPolicies are the service-role policies created on the
// navigation tables by the RLS scripts.
var navigationPolicies = map[string]string{
	"categories": "categories_service_role",
	"menu_items": "menu_items_service_all",
	"pages":      "pages_service_all",
}

// ProbeResult describes a reachable backend.
type ProbeResult struct {
	Version       string
	CurrentUser   string
	Database      string
	PrefixTables  int
	UsersReadable bool
	UsersCount    int
	UsersError    string

	// UsersWritable is set when a test insert into the users table
	// succeeded. UsersInserted is false when the test row already existed.
	// The insert is always rolled back.
	UsersWritable   bool
	UsersInserted   bool
	UsersWriteError string

	Owner      string // empty when the users table does not exist
	RLSEnabled bool
	Policies   []Policy
}

// Policy is one row level security policy on a table.
type Policy struct {
	Name       string
	Permissive string
	Roles      string
	Command    string
}

// probeEmail is the address of the row the write check tries to insert.
const probeEmail = "test@example.com"

// Probe checks that the backend answers and reports who we are connected
// as, how many prefixed tables exist, and what the connection may do to the
// users table. Read and write failures on the users table are reported in
// the result rather than returned.
func (d *DB) Probe(ctx context.Context) (*ProbeResult, error) {
	if d.dialect != Postgres {
		return nil, fmt.Errorf("probe requires postgres, connected to %s", d.dialect)
	}

	r := &ProbeResult{}
	if err := d.conn.QueryRowContext(ctx, `SELECT version()`).Scan(&r.Version); err != nil {
		return nil, fmt.Errorf("query version: %w", err)
	}
	if err := d.conn.QueryRowContext(ctx, `SELECT current_user, current_database()`).Scan(&r.CurrentUser, &r.Database); err != nil {
		return nil, fmt.Errorf("query current user: %w", err)
	}

	schema := d.schemaName()
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name LIKE $2`,
		schema, likePrefix(d.prefix),
	).Scan(&r.PrefixTables)
	if err != nil {
		return nil, fmt.Errorf("count tables: %w", err)
	}

	n, err := d.Count(ctx, "users")
	if err != nil {
		r.UsersError = err.Error()
	} else {
		r.UsersReadable = true
		r.UsersCount = n
	}

	inserted, err := d.CheckUsersWritable(ctx)
	if err != nil {
		r.UsersWriteError = err.Error()
	} else {
		r.UsersWritable = true
		r.UsersInserted = inserted
	}

	users := d.prefix + "users"
	err = d.conn.QueryRowContext(ctx,
		`SELECT t.tableowner, c.relrowsecurity
		 FROM pg_tables t
		 JOIN pg_namespace n ON n.nspname = t.schemaname
		 JOIN pg_class c ON c.relnamespace = n.oid AND c.relname = t.tablename
		 WHERE t.schemaname = $1 AND t.tablename = $2`,
		schema, users,
	).Scan(&r.Owner, &r.RLSEnabled)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query owner of %s: %w", users, err)
	}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT policyname, permissive, array_to_string(roles, ','), cmd
		 FROM pg_policies
		 WHERE schemaname = $1 AND tablename = $2
		 ORDER BY policyname`,
		schema, users,
	)
	if err != nil {
		return nil, fmt.Errorf("query policies on %s: %w", users, err)
	}
	err = scanAll(rows, func(rows *sql.Rows) error {
		var p Policy
		if err := rows.Scan(&p.Name, &p.Permissive, &p.Roles, &p.Command); err != nil {
			return err
		}
		r.Policies = append(r.Policies, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan policies on %s: %w", users, err)
	}
	return r, nil
}

// CheckUsersWritable inserts a test row into the users table inside a
// transaction and rolls it back. inserted is false when a row with the
// test email already exists.
func (d *DB) CheckUsersWritable(ctx context.Context) (inserted bool, err error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin write check: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, email, display_name) VALUES (%s, %s, %s)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING CAST(id AS TEXT)`,
			d.Table("users"), d.placeholder(1), d.placeholder(2), d.placeholder(3)),
		uuid.NewString(), probeEmail, "Test User",
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("insert into %s: %w", d.Table("users"), err)
	}
	return true, nil
}

// placeholder returns the n-th bind parameter in the connection's dialect.
func (d *DB) placeholder(n int) string {
	if d.dialect == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (d *DB) schemaName() string {
	if d.schema == "" {
		return "public"
	}
	return d.schema
}

// Count returns the number of rows in a prefixed table.
func (d *DB) Count(ctx context.Context, name string) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+d.Table(name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", d.Table(name), err)
	}
	return n, nil
}

// Category is a navigation category row.
type Category struct {
	ID        string
	Name      string
	SortOrder *int
}

// Page is a content page row.
type Page struct {
	ID         string
	Title      string
	Slug       string
	CategoryID *string
}

// MenuItem is a menu item with its category name resolved.
type MenuItem struct {
	ID           string
	Label        string
	Href         *string
	CategoryID   *string
	CategoryName *string
}

// Navigation is a snapshot of the navigation tables.
type Navigation struct {
	Categories []Category
	Pages      []Page
	MenuItems  []MenuItem
}

// Navigation reads categories, pages and menu items.
func (d *DB) Navigation(ctx context.Context) (*Navigation, error) {
	nav := &Navigation{}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT CAST(id AS TEXT), name, sort_order FROM `+d.Table("categories")+` ORDER BY sort_order`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	err = scanAll(rows, func(rows *sql.Rows) error {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder); err != nil {
			return err
		}
		nav.Categories = append(nav.Categories, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan categories: %w", err)
	}

	rows, err = d.conn.QueryContext(ctx,
		`SELECT CAST(id AS TEXT), title, slug, CAST(category_id AS TEXT) FROM `+d.Table("pages")+` ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	err = scanAll(rows, func(rows *sql.Rows) error {
		var p Page
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &p.CategoryID); err != nil {
			return err
		}
		nav.Pages = append(nav.Pages, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}

	rows, err = d.conn.QueryContext(ctx,
		`SELECT CAST(mi.id AS TEXT), mi.label, mi.href, CAST(mi.category_id AS TEXT), c.name
		 FROM `+d.Table("menu_items")+` mi
		 LEFT JOIN `+d.Table("categories")+` c ON mi.category_id = c.id
		 ORDER BY mi.sort_order`)
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	err = scanAll(rows, func(rows *sql.Rows) error {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.Label, &m.Href, &m.CategoryID, &m.CategoryName); err != nil {
			return err
		}
		nav.MenuItems = append(nav.MenuItems, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan menu items: %w", err)
	}

	return nav, nil
}

// DisableRLSStatements returns the statements that drop the navigation
// service policies and turn row level security off on the navigation
// tables.
func (d *DB) DisableRLSStatements() []string {
	var stmts []string
	for _, t := range NavigationTables {
		stmts = append(stmts, fmt.Sprintf("DROP POLICY IF EXISTS %s%s ON %s",
			d.prefix, navigationPolicies[t], d.Table(t)))
	}
	for _, t := range NavigationTables {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DISABLE ROW LEVEL SECURITY", d.Table(t)))
	}
	return stmts
}

// DisableRLS runs DisableRLSStatements one at a time, calling onExec
// before each, and returns the navigation row counts afterwards.
func (d *DB) DisableRLS(ctx context.Context, onExec func(stmt string)) (map[string]int, error) {
	if d.dialect != Postgres {
		return nil, fmt.Errorf("row level security requires postgres, connected to %s", d.dialect)
	}
	for _, stmt := range d.DisableRLSStatements() {
		if onExec != nil {
			onExec(stmt)
		}
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return d.NavigationCounts(ctx)
}

// NavigationCounts returns row counts of the navigation tables.
func (d *DB) NavigationCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(NavigationTables))
	for _, t := range NavigationTables {
		n, err := d.Count(ctx, t)
		if err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, nil
}

// RLSState is the row level security flag of one table.
type RLSState struct {
	Table    string
	Enabled  bool
	Forced   bool
	Policies int
}

// RLSStatus reports row level security for every prefixed table.
func (d *DB) RLSStatus(ctx context.Context) ([]RLSState, error) {
	if d.dialect != Postgres {
		return nil, fmt.Errorf("row level security requires postgres, connected to %s", d.dialect)
	}
	schema := d.schemaName()
	rows, err := d.conn.QueryContext(ctx,
		`SELECT c.relname, c.relrowsecurity, c.relforcerowsecurity,
		        (SELECT COUNT(*) FROM pg_policy p WHERE p.polrelid = c.oid)
		 FROM pg_class c
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE n.nspname = $1 AND c.relkind = 'r' AND c.relname LIKE $2
		 ORDER BY c.relname`,
		schema, likePrefix(d.prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("query rls status: %w", err)
	}
	var out []RLSState
	err = scanAll(rows, func(rows *sql.Rows) error {
		var s RLSState
		if err := rows.Scan(&s.Table, &s.Enabled, &s.Forced, &s.Policies); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan rls status: %w", err)
	}
	return out, nil
}

func scanAll(rows *sql.Rows, fn func(*sql.Rows) error) error {
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// likePrefix escapes LIKE wildcards in prefix ("s42_" -> "s42\_%").
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
