package applier

import (
	"errors"
	"os"
	"path/filepath"
)

// Mode says what happens when a planned file does not exist.
type Mode int

const (
	// RequiredFiles aborts the plan on a missing file.
	RequiredFiles Mode = iota
	// OptionalFiles logs a missing file and moves on to the next one.
	OptionalFiles
)

func (m Mode) String() string {
	if m == OptionalFiles {
		return "optional-file"
	}
	return "required-file"
}

// File is one batch in a plan: the whole text of one SQL file.
type File struct {
	Path     string
	Optional bool
}

// Plan is an ordered list of files applied in one run. Order is the
// caller's; nothing here reorders or infers dependencies.
type Plan struct {
	BaseDir string
	Files   []File
}

// NewPlan builds a plan from paths with every file stamped with mode.
func NewPlan(baseDir string, mode Mode, paths ...string) Plan {
	p := Plan{BaseDir: baseDir}
	for _, path := range paths {
		p.Files = append(p.Files, File{Path: path})
	}
	return p.WithMode(mode)
}

// WithMode returns a copy of p with every file set to mode.
func (p Plan) WithMode(mode Mode) Plan {
	files := make([]File, len(p.Files))
	for i, f := range p.Files {
		f.Optional = mode == OptionalFiles
		files[i] = f
	}
	return Plan{BaseDir: p.BaseDir, Files: files}
}

// Resolve returns the on-disk location of f.
func (p Plan) Resolve(f File) string {
	if filepath.IsAbs(f.Path) || p.BaseDir == "" {
		return f.Path
	}
	return filepath.Join(p.BaseDir, f.Path)
}

// Preflight stats every required file. A file that does not exist yields
// a *MissingFileError; a directory or an unreadable entry yields a
// *FileError. Optional files are not checked.
func (p Plan) Preflight() error {
	for _, f := range p.Files {
		if f.Optional {
			continue
		}
		path := p.Resolve(f)
		fi, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return &MissingFileError{Path: path, Err: err}
		case err != nil:
			return &FileError{Path: path, Err: err}
		case fi.IsDir():
			return &FileError{Path: path, Err: errIsDir}
		}
	}
	return nil
}
