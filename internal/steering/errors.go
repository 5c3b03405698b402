package steering

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingBaseline indicates a CV the probe did not report.
	ErrMissingBaseline = errors.New("steering: no initial value for cv")

	// ErrUnsupportedKind indicates a CV kind the chosen probe cannot measure.
	ErrUnsupportedKind = errors.New("steering: cv kind not supported by probe")

	// ErrAtomCount indicates a selector that resolved to the wrong number of atoms.
	ErrAtomCount = errors.New("steering: wrong number of atoms for cv")

	// ErrReferenceMismatch indicates system atoms absent from the reference structure.
	ErrReferenceMismatch = errors.New("steering: atom missing from reference structure")

	// ErrRampOverlap indicates a first user step that does not come after the ramp.
	ErrRampOverlap = errors.New("steering: first step must come after the ramp")
)

// Pipeline stages named in failures.
const (
	StageParse    = "parse"
	StageResolve  = "resolve"
	StageEvaluate = "evaluate"
	StageEmit     = "emit"
)

// StageError wraps a compile failure with the stage that produced it.
type StageError struct {
	Stage   string
	Wrapped error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Wrapped)
}

func (e *StageError) Unwrap() error {
	return e.Wrapped
}

// EvaluationError reports a failed probe or an unresolvable target.
type EvaluationError struct {
	CV      string
	Wrapped error
}

func (e *EvaluationError) Error() string {
	if e.CV == "" {
		return fmt.Sprintf("evaluation failed: %v", e.Wrapped)
	}
	return fmt.Sprintf("evaluation of %s failed: %v", e.CV, e.Wrapped)
}

func (e *EvaluationError) Unwrap() error {
	return e.Wrapped
}

// ReferenceNotFoundError reports an rmsd reference absent from every
// searched location.
type ReferenceNotFoundError struct {
	CV       string
	Path     string
	Searched []string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("reference %s for cv %s not found (searched %s)", e.Path, e.CV, strings.Join(e.Searched, ", "))
}
