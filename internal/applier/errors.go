package applier

import (
	"errors"
	"fmt"
)

// ErrCommit is wrapped when every batch succeeded but COMMIT itself failed.
var ErrCommit = errors.New("commit failed")

// MissingFileError reports a required plan file that does not exist.
type MissingFileError struct {
	Path string
	Err  error
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("required file not found: %s", e.Path)
}

func (e *MissingFileError) Unwrap() error { return e.Err }

// FileError reports a plan file that exists but cannot be submitted, such
// as a directory or a file the process may not read.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("cannot use plan file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// errIsDir is the cause of a FileError for a plan entry that is a directory.
var errIsDir = errors.New("is a directory")

// BatchError reports a batch the backend rejected. Statement is the
// 1-based statement index for split execution and 0 for whole-file batches.
type BatchError struct {
	File      string
	Statement int
	Err       error
}

func (e *BatchError) Error() string {
	if e.Statement > 0 {
		return fmt.Sprintf("error in %s (statement %d): %v", e.File, e.Statement, e.Err)
	}
	return fmt.Sprintf("error in %s: %v", e.File, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// ConnectError wraps a failure to obtain the database connection.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
