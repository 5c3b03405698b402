package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSnapshot indicates a seed without a starting structure.
	ErrMissingSnapshot = errors.New("dispatch: snapshot missing for seed")

	// ErrMissingTopology indicates no topology in the run folder or system setup.
	ErrMissingTopology = errors.New("dispatch: topology not found")
)

// Dispatch stages named in failures.
const (
	StagePrepare = "prepare"
	StageDetect  = "detect"
	StageSubmit  = "submit"
)

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

// TransferError reports a failed copy or remote shell call.
type TransferError struct {
	Op      string
	Target  string
	Wrapped error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Wrapped)
}

func (e *TransferError) Unwrap() error {
	return e.Wrapped
}
