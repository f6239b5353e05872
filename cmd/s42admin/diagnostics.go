package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joestump/s42admin/internal/backend"
	"github.com/joestump/s42admin/internal/rest"
)

// openBackend validates configuration and connects for a one-shot
// diagnostic. The caller closes the returned DB.
func (a *app) openBackend(ctx context.Context) (*backend.DB, error) {
	if err := a.cfg.ValidateDatabase(); err != nil {
		printConfigError(a.out, err)
		return nil, err
	}
	fmt.Fprintf(a.out, "Connecting to %s...\n", a.cfg.Endpoint())
	d, err := backend.Open(ctx, a.cfg)
	if err != nil {
		fmt.Fprintln(a.out, "Connection failed; check your .env file and database credentials")
		return nil, err
	}
	return d, nil
}

func (a *app) restClient() (*rest.Client, error) {
	if err := a.cfg.ValidateREST(); err != nil {
		printConfigError(a.out, err)
		return nil, err
	}
	return rest.NewClient(a.cfg.SupabaseURL, a.cfg.ServiceRoleKey), nil
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test the database connection and report what it can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close() //nolint:errcheck

			r, err := d.Probe(cmd.Context())
			if err != nil {
				return err
			}
			renderProbe(a.out, r, d.Table("users"), a.cfg.TablePrefix)
			fmt.Fprintln(a.out, "Connection test passed!")
			return nil
		},
	}
}

func renderProbe(w io.Writer, r *backend.ProbeResult, users, prefix string) {
	fmt.Fprintln(w, "Connected successfully!")
	fmt.Fprintf(w, "   PostgreSQL version: %s\n", truncate(r.Version, 50))
	fmt.Fprintf(w, "   Connected as: %s to database: %s\n", r.CurrentUser, r.Database)
	fmt.Fprintf(w, "   Found %d %s tables\n", r.PrefixTables, prefix)

	if r.UsersReadable {
		fmt.Fprintf(w, "   Can read %s (count: %d)\n", users, r.UsersCount)
	} else {
		fmt.Fprintf(w, "   Cannot read %s: %s\n", users, r.UsersError)
	}
	switch {
	case !r.UsersWritable:
		fmt.Fprintf(w, "   Cannot write to %s: %s\n", users, r.UsersWriteError)
	case r.UsersInserted:
		fmt.Fprintf(w, "   Can write to %s (test insert rolled back)\n", users)
	default:
		fmt.Fprintf(w, "   Can write to %s (test email exists, nothing inserted)\n", users)
	}

	if r.Owner != "" {
		fmt.Fprintf(w, "\n%s owner: %s\n", users, r.Owner)
		fmt.Fprintf(w, "RLS enabled on %s: %t\n", users, r.RLSEnabled)
	}
	fmt.Fprintf(w, "\nPolicies on %s (%d total):\n", users, len(r.Policies))
	if len(r.Policies) > 0 {
		rows := make([][]string, 0, len(r.Policies))
		for _, p := range r.Policies {
			rows = append(rows, []string{p.Name, p.Permissive, p.Roles, p.Command})
		}
		renderTable(w, []string{"Policy", "Permissive", "Roles", "Command"}, rows)
	}
}

func newNavigationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "navigation",
		Short: "Show categories, pages and menu items",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close() //nolint:errcheck

			nav, err := d.Navigation(cmd.Context())
			if err != nil {
				return err
			}
			renderNavigation(a.out, nav)
			return nil
		},
	}
}

func renderNavigation(w io.Writer, nav *backend.Navigation) {
	fmt.Fprintln(w, "=== CATEGORIES ===")
	if len(nav.Categories) == 0 {
		fmt.Fprintln(w, "No categories found!")
	} else {
		rows := make([][]string, 0, len(nav.Categories))
		for _, c := range nav.Categories {
			rows = append(rows, []string{c.ID, c.Name, intOrEmpty(c.SortOrder)})
		}
		renderTable(w, []string{"ID", "Name", "Sort"}, rows)
	}

	fmt.Fprintln(w, "\n=== PAGES ===")
	if len(nav.Pages) == 0 {
		fmt.Fprintln(w, "No pages found!")
	} else {
		rows := make([][]string, 0, len(nav.Pages))
		for _, p := range nav.Pages {
			rows = append(rows, []string{p.ID, p.Title, p.Slug, strOrEmpty(p.CategoryID)})
		}
		renderTable(w, []string{"ID", "Title", "Slug", "Category"}, rows)
	}

	fmt.Fprintln(w, "\n=== MENU ITEMS ===")
	if len(nav.MenuItems) == 0 {
		fmt.Fprintln(w, "No menu items found!")
	} else {
		rows := make([][]string, 0, len(nav.MenuItems))
		for _, m := range nav.MenuItems {
			rows = append(rows, []string{m.ID, m.Label, strOrEmpty(m.Href), strOrEmpty(m.CategoryName)})
		}
		renderTable(w, []string{"ID", "Label", "Href", "Category"}, rows)
	}
}

func newRLSCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rls",
		Short: "Inspect or disable row level security on the s42 tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show row level security flags and policy counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close() //nolint:errcheck

			states, err := d.RLSStatus(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(states))
			for _, s := range states {
				rows = append(rows, []string{s.Table, strconv.FormatBool(s.Enabled), strconv.FormatBool(s.Forced), strconv.Itoa(s.Policies)})
			}
			renderTable(a.out, []string{"Table", "RLS", "Forced", "Policies"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Drop the navigation service policies and disable RLS on the navigation tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close() //nolint:errcheck

			counts, err := d.DisableRLS(cmd.Context(), func(stmt string) {
				fmt.Fprintf(a.out, "Executing: %s;\n", stmt)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "RLS disabled successfully!")
			for _, t := range backend.NavigationTables {
				fmt.Fprintf(a.out, "%s: %d\n", d.Table(t), counts[t])
			}
			return nil
		},
	})

	return cmd
}

func newPagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pages",
		Short: "List pages through the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.restClient()
			if err != nil {
				return err
			}
			var pages []struct {
				Title string `json:"title"`
				Slug  string `json:"slug"`
			}
			if err := c.Select(cmd.Context(), a.cfg.TablePrefix+"pages", 0, &pages); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Pages in database:")
			for _, p := range pages {
				fmt.Fprintf(a.out, "- %s (slug: %s)\n", p.Title, p.Slug)
			}
			return nil
		},
	}
}

func newRESTCheckCmd(a *app) *cobra.Command {
	var sample int
	cmd := &cobra.Command{
		Use:   "rest-check",
		Short: "Check that the navigation tables are readable through the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.restClient()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Checking REST access to navigation tables...")
			failed := 0
			for _, t := range backend.NavigationTables {
				table := a.cfg.TablePrefix + t
				fmt.Fprintf(a.out, "\n--- %s ---\n", table)

				n, err := c.Count(cmd.Context(), table)
				if err != nil {
					fmt.Fprintf(a.out, "Error: %v\n", err)
					failed++
					continue
				}
				fmt.Fprintf(a.out, "Row count: %d\n", n)

				var rows []map[string]any
				if err := c.Select(cmd.Context(), table, sample, &rows); err != nil {
					fmt.Fprintf(a.out, "Data access error: %v\n", err)
					failed++
					continue
				}
				data, _ := json.MarshalIndent(rows, "", "  ")
				fmt.Fprintf(a.out, "Sample data: %s\n", data)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tables not readable through REST", failed, len(backend.NavigationTables))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&sample, "sample", 5, "rows to fetch from each table")
	return cmd
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
