// Package perr defines the error kinds shared across the pipeline stages.
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the pipeline's error handling policy.
type Kind int

const (
	// Internal covers bugs and unclassified failures.
	Internal Kind = iota
	// BadArgument means the CLI configuration was invalid; fatal before any work begins.
	BadArgument
	// IoFailure means a temp or output file operation failed; fatal, triggers cancel.
	IoFailure
	// SourceParseError means a source reader could not parse a block or stream.
	SourceParseError
	// MissingNodeReference means a way/relation referenced a node absent from pass-1.
	MissingNodeReference
	// ProfileRejected means a profile callback declined to emit a feature.
	ProfileRejected
	// GeometryInvalid means a feature's geometry could not be rendered.
	GeometryInvalid
	// OutOfDisk means a write failed because the filesystem is full.
	OutOfDisk
	// Cancelled means the run was stopped via the engine's cancel signal.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case BadArgument:
		return "BadArgument"
	case IoFailure:
		return "IoFailure"
	case SourceParseError:
		return "SourceParseError"
	case MissingNodeReference:
		return "MissingNodeReference"
	case ProfileRejected:
		return "ProfileRejected"
	case GeometryInvalid:
		return "GeometryInvalid"
	case OutOfDisk:
		return "OutOfDisk"
	case Cancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error is a typed pipeline error carrying a Kind for dispatch by the
// engine's error handling policy (fatal vs. per-feature counted).
type Error struct {
	Kind Kind
	Op   string // component/operation that raised it, e.g. "nodedb.Get"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a Kind and the operation that raised it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a pipeline Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}

// Fatal reports whether a Kind's policy is to abort the run immediately.
func Fatal(kind Kind) bool {
	switch kind {
	case BadArgument, IoFailure, OutOfDisk, Cancelled, Internal:
		return true
	default:
		return false
	}
}
