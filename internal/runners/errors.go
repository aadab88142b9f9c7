package runners

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// ErrCancelled is returned when the caller's context ends mid-phase
var ErrCancelled = errors.New("benchmark cancelled")

// ErrPrematureEOF marks a payload file shorter than the configured size
var ErrPrematureEOF = errors.New("unexpected end of file")

// IOError is a fatal io failure inside a phase
type IOError struct {
	Phase Phase  // phase that failed
	Op    string // open, write, flush, read or close
	Done  uint64 // bytes transferred before the failure
	Total uint64 // bytes the phase was meant to transfer
	Err   error  // underlying cause
}

func (e *IOError) Error() string {
	what := e.Op
	if errors.Is(e.Err, syscall.ENOSPC) {
		what = "disk full"
	}

	if e.Op == "open" {
		return fmt.Sprintf("%s failed: %s: %v", e.Phase, what, e.Err)
	}
	return fmt.Sprintf("%s failed: %s after %s of %s: %v",
		e.Phase, what, humanize.IBytes(e.Done), humanize.IBytes(e.Total), e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// cancelled builds the error for a cancelled phase. it matches both
// ErrCancelled and the context's own error.
func cancelled(phase Phase, done, total uint64, cause error) error {
	err := fmt.Errorf("%s %w after %s of %s: %w",
		phase, ErrCancelled, humanize.IBytes(done), humanize.IBytes(total), cause)
	return &phaseError{phase: phase, err: err}
}

// PhaseOf returns the phase an error from this package belongs to
func PhaseOf(err error) (Phase, bool) {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr.Phase, true
	}
	var pe *phaseError
	if errors.As(err, &pe) {
		return pe.phase, true
	}
	return 0, false
}

// phaseError tags a non-io error (cancellation) with its phase
type phaseError struct {
	phase Phase
	err   error
}

func (e *phaseError) Error() string { return e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }
