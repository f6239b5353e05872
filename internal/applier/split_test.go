package applier

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "simple",
			in:   "CREATE TABLE a (x int);\nCREATE TABLE b (y int);",
			want: []string{"CREATE TABLE a (x int)", "CREATE TABLE b (y int)"},
		},
		{
			name: "no trailing semicolon",
			in:   "SELECT 1; SELECT 2",
			want: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name: "empty and whitespace",
			in:   " ;\n\t; ",
			want: nil,
		},
		{
			name: "comment only",
			in:   "-- header; with semicolon\n/* block; comment */\n",
			want: nil,
		},
		{
			name: "semicolon in string",
			in:   "INSERT INTO t VALUES ('a;b', 'it''s; fine');SELECT 1;",
			want: []string{"INSERT INTO t VALUES ('a;b', 'it''s; fine')", "SELECT 1"},
		},
		{
			name: "escape string",
			in:   `SELECT E'don\'t; split'; SELECT 2;`,
			want: []string{`SELECT E'don\'t; split'`, "SELECT 2"},
		},
		{
			name: "quoted identifier",
			in:   `CREATE TABLE "odd;name" (id int); SELECT 1;`,
			want: []string{`CREATE TABLE "odd;name" (id int)`, "SELECT 1"},
		},
		{
			name: "dollar quoted function body",
			in: `CREATE FUNCTION touch() RETURNS trigger AS $$
BEGIN
  NEW.updated_at = now();
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;
CREATE TABLE x (id int);`,
			want: []string{
				"CREATE FUNCTION touch() RETURNS trigger AS $$\nBEGIN\n  NEW.updated_at = now();\n  RETURN NEW;\nEND;\n$$ LANGUAGE plpgsql",
				"CREATE TABLE x (id int)",
			},
		},
		{
			name: "tagged dollar quote",
			in:   "DO $body$ BEGIN PERFORM 1; END $body$; SELECT 1;",
			want: []string{"DO $body$ BEGIN PERFORM 1; END $body$", "SELECT 1"},
		},
		{
			name: "positional parameter is not a tag",
			in:   "PREPARE p AS SELECT $1; EXECUTE p(1);",
			want: []string{"PREPARE p AS SELECT $1", "EXECUTE p(1)"},
		},
		{
			name: "nested block comment",
			in:   "/* outer /* inner; */ still; */ SELECT 1;",
			want: []string{"/* outer /* inner; */ still; */ SELECT 1"},
		},
		{
			name: "line comment at end without newline",
			in:   "SELECT 1; -- trailing; note",
			want: []string{"SELECT 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.in))
		})
	}
}

func TestManualInstructions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fix_logs_table.sql"), []byte("CREATE TYPE log_level AS ENUM ('info');\n"), 0o644))

	var buf bytes.Buffer
	plan := NewPlan(dir, RequiredFiles, "fix_logs_table.sql")
	require.NoError(t, ManualInstructions(&buf, plan))

	out := buf.String()
	assert.Contains(t, out, "Supabase SQL Editor")
	assert.Contains(t, out, "CREATE TYPE log_level AS ENUM ('info');")
	assert.Contains(t, out, "psql <your-database-url>")
	assert.Contains(t, out, "-f "+filepath.Join(dir, "fix_logs_table.sql"))
}

func TestManualInstructionsSkipsMissingOptional(t *testing.T) {
	var buf bytes.Buffer
	plan := NewPlan(t.TempDir(), OptionalFiles, "absent.sql")
	require.NoError(t, ManualInstructions(&buf, plan))
	assert.Contains(t, buf.String(), "no SQL files found")

	buf.Reset()
	assert.Error(t, ManualInstructions(&buf, plan.WithMode(RequiredFiles)))
}
