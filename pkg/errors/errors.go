// Package errors classifies the failures of the reclamation engine.
//
// The core admits no partial progress: a failure to map, fork, signal or
// pipe aborts the process. The advisory subsystems (cycle history, report
// archive) degrade instead of aborting. The Code carried by an EngineError
// is what separates the two; IsFatal is the collector's single decision
// point.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	Unknown  Code = "UNKNOWN"
	Mmap     Code = "MMAP"
	Fork     Code = "FORK"
	Pipe     Code = "PIPE"
	Signal   Code = "SIGNAL"
	Registry Code = "REGISTRY"
	Sweep    Code = "SWEEP"
	Input    Code = "INPUT"
	Config   Code = "CONFIG"
	Database Code = "DATABASE"
	Archive  Code = "ARCHIVE"
)

// EngineError ties a failure class to the operation that produced it and,
// when present, the underlying cause.
type EngineError struct {
	Code Code
	Op   string
	Err  error
}

// E builds an EngineError. err may be nil when the operation itself is the
// whole story.
func E(code Code, op string, err error) *EngineError {
	return &EngineError{Code: code, Op: op, Err: err}
}

// Ef builds an EngineError with a formatted operation and no cause.
func Ef(code Code, format string, args ...interface{}) *EngineError {
	return &EngineError{Code: code, Op: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v [%s]", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("%s [%s]", e.Op, e.Code)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches any EngineError of the same class, so errors.Is works against
// a bare E(code, "", nil) sentinel.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && t.Code == e.Code
}

// HasCode reports whether err carries the given failure class anywhere in
// its chain.
func HasCode(err error, code Code) bool {
	var ee *EngineError
	return stderrors.As(err, &ee) && ee.Code == code
}

// CodeOf extracts the failure class of err, or Unknown.
func CodeOf(err error) Code {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	return Unknown
}

// IsFatal reports whether err must abort the process. Anything that is not
// provably advisory is fatal: an unclassified error escaping the core means
// a path nobody reasoned about.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case Database, Archive:
		return false
	default:
		return true
	}
}
