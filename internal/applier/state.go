package applier

import "time"

// State is a step in the lifecycle of a single run:
//
//	INIT -> CONNECTED -> (APPLYING -> APPLIED)* -> COMMITTED -> CLOSED
//	                          APPLYING failure -> ROLLED_BACK -> CLOSED
//
// Split execution has no transaction to roll back, so its failure path
// ends in ABORTED instead.
type State string

const (
	StateInit       State = "INIT"
	StateConnected  State = "CONNECTED"
	StateApplying   State = "APPLYING"
	StateApplied    State = "APPLIED"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
	StateAborted    State = "ABORTED"
	StateClosed     State = "CLOSED"
)

// Terminal reports whether s ends the run's outcome (before CLOSED).
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack || s == StateAborted
}

// FileStatus is the outcome of one planned file.
type FileStatus string

const (
	FileNotRun   FileStatus = "not-run"
	FileApplying FileStatus = "applying"
	FileApplied  FileStatus = "applied"
	FileSkipped  FileStatus = "skipped"
	FileFailed   FileStatus = "failed"
)

// FileResult records what happened to one planned file.
type FileResult struct {
	File       File
	Path       string // resolved
	Status     FileStatus
	Statements int
	Err        error
	Elapsed    time.Duration
}

// Result summarises a run.
type Result struct {
	Strategy string
	// Outcome is the last terminal state reached (COMMITTED, ROLLED_BACK,
	// ABORTED), or INIT when no connection was made.
	Outcome State
	// State is the final lifecycle state; CLOSED whenever a connection was
	// opened.
	State   State
	Files   []FileResult
	Elapsed time.Duration
}

// Committed reports whether every batch was applied and persisted.
func (r Result) Committed() bool { return r.Outcome == StateCommitted }

// Count returns how many files ended with status s.
func (r Result) Count(s FileStatus) int {
	n := 0
	for _, f := range r.Files {
		if f.Status == s {
			n++
		}
	}
	return n
}

// Observer receives progress from a run. Reporting is informational;
// correctness lives in commit/rollback alone.
type Observer interface {
	OnState(s State)
	OnFile(fr FileResult)
}

type nopObserver struct{}

func (nopObserver) OnState(State)      {}
func (nopObserver) OnFile(FileResult) {}
