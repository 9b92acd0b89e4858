package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies workflow failures.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota + 1
	KindUnsupportedFormat
	KindStaging
	KindRemoteOperation
	KindPersistence
	KindCleanup
)

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindUnsupportedFormat:
		return "UnsupportedFormatError"
	case KindStaging:
		return "StagingError"
	case KindRemoteOperation:
		return "RemoteOperationFailed"
	case KindPersistence:
		return "PersistenceError"
	case KindCleanup:
		return "CleanupError"
	default:
		return fmt.Sprintf("UnknownError(%d)", int(k))
	}
}

// Error is a classified failure. Op names the step or call that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrUnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	ErrStaging           = &Error{Kind: KindStaging}
	ErrRemoteOperation   = &Error{Kind: KindRemoteOperation}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrCleanup           = &Error{Kind: KindCleanup}
)

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RemoteOperationFailed reports a fault signalled by the remote job itself.
func RemoteOperationFailed(operation, message string) *Error {
	return &Error{
		Kind: KindRemoteOperation,
		Op:   operation,
		Err:  fmt.Errorf("remote operation faulted: %s", message),
	}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
