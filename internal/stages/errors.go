package stages

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/errkind"
)

// ScopeError means no processing window could be derived.
type ScopeError struct {
	Reason string
	Err    error
}

func (e *ScopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("determine scope: %s: %v", e.Reason, e.Err)
	}
	return "determine scope: " + e.Reason
}

func (e *ScopeError) Unwrap() error { return e.Err }

func (e *ScopeError) Kind() errkind.Kind {
	if e.Err != nil {
		return errkind.Classify(e.Err)
	}
	return errkind.Validation
}

// DateParseError reports a date that could not be read from a file name
// or a cell.
type DateParseError struct {
	Source string // file name, or column name for cells
	Value  string
	Err    error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("malformed date %q in %s: %v", e.Value, e.Source, e.Err)
}

func (e *DateParseError) Unwrap() error { return e.Err }

func (e *DateParseError) Kind() errkind.Kind { return errkind.Domain }

// RowError locates a failure inside a dataset. Row is 1-based over data rows.
type RowError struct {
	Row           int
	AccountNumber string
	Err           error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (account %s): %v", e.Row, e.AccountNumber, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func (e *RowError) Kind() errkind.Kind { return errkind.Classify(e.Err) }

// RulesError reports an unusable jurisdiction rule file.
type RulesError struct {
	Path string
	Err  error
}

func (e *RulesError) Error() string {
	return fmt.Sprintf("state laws %s: %v", e.Path, e.Err)
}

func (e *RulesError) Unwrap() error { return e.Err }

func (e *RulesError) Kind() errkind.Kind {
	var perr *os.PathError
	if errors.As(e.Err, &perr) {
		return errkind.Resource
	}
	return errkind.Domain
}

// GenerationError means the downstream file set was not produced.
// NotWritten names every output that does not exist after the failure.
type GenerationError struct {
	NotWritten []string
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate downstream files: not written: %s: %v", strings.Join(e.NotWritten, ", "), e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Kind() errkind.Kind {
	var k errkind.Kinded
	if errors.As(e.Err, &k) {
		return k.Kind()
	}
	return errkind.Resource
}

// ExternalProcessError reports a failed processor invocation. ExitCode is
// -1 when the process could not be started.
type ExternalProcessError struct {
	Path     string
	ExitCode int
	LogPath  string
	Err      error
}

func (e *ExternalProcessError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("external processor %s did not run (log %s): %v", e.Path, e.LogPath, e.Err)
	}
	return fmt.Sprintf("external processor %s exited with status %d, see %s", e.Path, e.ExitCode, e.LogPath)
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

func (e *ExternalProcessError) Kind() errkind.Kind { return errkind.Resource }

// DistributionError reports the first failed copy. Copied lists the files
// that reached the target before it.
type DistributionError struct {
	Copied []string
	Failed string
	Err    error
}

func (e *DistributionError) Error() string {
	copied := "none"
	if len(e.Copied) > 0 {
		copied = strings.Join(e.Copied, ", ")
	}
	if e.Failed == "" {
		return fmt.Sprintf("distribute: %v (copied: %s)", e.Err, copied)
	}
	return fmt.Sprintf("distribute %s: %v (copied before failure: %s)", e.Failed, e.Err, copied)
}

func (e *DistributionError) Unwrap() error { return e.Err }

func (e *DistributionError) Kind() errkind.Kind { return errkind.Resource }
