package applier

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var rule = strings.Repeat("=", 80)

// ManualInstructions writes the plan's SQL for an operator to run by hand
// when no direct connection could be made. DDL is never attempted over the
// REST facade; this output is the whole fallback.
func ManualInstructions(w io.Writer, plan Plan) error {
	var paths []string
	_, _ = fmt.Fprintln(w, "\nCannot reach the database directly.")
	_, _ = fmt.Fprintln(w, "Execute the following SQL in your Supabase SQL Editor, in order:")

	for _, f := range plan.Files {
		path := plan.Resolve(f)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && f.Optional {
				continue
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		paths = append(paths, path)
		_, _ = fmt.Fprintf(w, "\n-- %s\n%s\n", path, rule)
		_, _ = fmt.Fprintln(w, strings.TrimRight(string(data), "\n"))
		_, _ = fmt.Fprintln(w, rule)
	}

	if len(paths) == 0 {
		_, _ = fmt.Fprintln(w, "\n(no SQL files found for this plan)")
		return nil
	}

	args := make([]string, 0, len(paths))
	for _, p := range paths {
		args = append(args, "-f "+p)
	}
	_, _ = fmt.Fprintln(w, "\nOr run this command if you have psql installed:")
	_, _ = fmt.Fprintf(w, "psql <your-database-url> -v ON_ERROR_STOP=1 --single-transaction %s\n", strings.Join(args, " "))
	return nil
}
