// Package faults defines the error taxonomy shared across the pipeline.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error by how the session must react to it.
type Kind int

const (
	// Device means the capture device cannot deliver audio. Fatal.
	Device Kind = iota
	// ModelLoad means a capability provider failed to initialize. Fatal.
	ModelLoad
	// Transcription means a transcription attempt failed. Recoverable.
	Transcription
	// IO means a segment write failed. Recoverable, segment marked corrupt.
	IO
	// Protocol means stream invariants were violated (timestamps moving
	// backward, boundary events in an impossible state). Fatal: it
	// indicates a synchronization bug, not an environmental condition.
	Protocol
)

func (k Kind) String() string {
	switch k {
	case Device:
		return "device"
	case ModelLoad:
		return "model_load"
	case Transcription:
		return "transcription"
	case IO:
		return "io"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the usual message and cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: err}
}

// KindOf reports the Kind of err, or ok=false for unclassified errors.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsFatal reports whether err must abort the whole session. Transcription
// and segment-write failures never qualify; the session records them and
// keeps capturing.
func IsFatal(err error) bool {
	switch k, ok := KindOf(err); {
	case !ok:
		return false
	case k == Device, k == ModelLoad, k == Protocol:
		return true
	default:
		return false
	}
}
