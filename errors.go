package kantele

import (
	"errors"
	"fmt"
)

var (
	// ErrCompile is matched by every error caused by malformed orchestra or
	// score text.
	ErrCompile = errors.New("compile error")
	// ErrUnknownInstrument is returned when an event or lookup references an
	// instrument that was never defined.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrInvalidEvent is returned for events that are malformed or start
	// before the current performance time.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrUnresolvedWiring is returned when a statement reads a variable that
	// no earlier statement writes.
	ErrUnresolvedWiring = errors.New("unresolved wiring")
	// ErrAlreadyStopped is returned by calls made after the performance
	// stopped.
	ErrAlreadyStopped = errors.New("performance already stopped")
	// ErrEngine wraps fatal internal errors that abort a step.
	ErrEngine = errors.New("engine error")
)

// CompileError is a syntax or semantic error at a position of the source
// text. Line and Col are 1-based; zero means unknown.
type CompileError struct {
	Line, Col int
	Msg       string
}

func (e *CompileError) Error() string {
	switch {
	case e.Line > 0 && e.Col > 0:
		return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func (e *CompileError) Unwrap() error { return ErrCompile }

// Errorf returns a CompileError at the given position.
func Errorf(line, col int, format string, args ...any) *CompileError {
	return &CompileError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// WiringError reports a statement input that has no producer. It matches
// both ErrUnresolvedWiring and ErrCompile.
type WiringError struct {
	Instrument InstrumentID
	Line       int
	Name       string
}

func (e *WiringError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("instr %v, line %d: %v: %q is read before any statement writes it", e.Instrument, e.Line, ErrUnresolvedWiring, e.Name)
	}
	return fmt.Sprintf("instr %v: %v: %q is read before any statement writes it", e.Instrument, ErrUnresolvedWiring, e.Name)
}

func (e *WiringError) Unwrap() []error { return []error{ErrUnresolvedWiring, ErrCompile} }
