package logging

import "fmt"

// Backends supported by Open.
const (
	BackendJSONL    = "jsonl"
	BackendRotating = "rotating"
	BackendSQLite   = "sqlite"
)

// Options selects and parameterises a LogStore backend.
type Options struct {
	Backend    string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Open creates the store described by opts.
func Open(opts Options) (LogStore, error) {
	switch opts.Backend {
	case BackendJSONL, "":
		return NewJSONLStore(opts.Path)
	case BackendRotating:
		return NewRotatingJSONLStore(opts.Path, opts.MaxSizeMB, opts.MaxBackups, opts.MaxAgeDays)
	case BackendSQLite:
		return NewSQLiteStore(opts.Path)
	default:
		return nil, fmt.Errorf("unknown log backend %q", opts.Backend)
	}
}
