package errors

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers are expected to react to them.
type Kind string

const (
	KindOther           Kind = ""
	KindInvalid         Kind = "invalid"
	KindInternal        Kind = "internal"
	KindNotFound        Kind = "not_found"
	KindClosed          Kind = "closed"
	KindClassification  Kind = "classification"
	KindUnknownStrategy Kind = "unknown_strategy"
	KindValidation      Kind = "resolution_validation"
	KindCustomResolver  Kind = "custom_resolver"
	KindWriteBack       Kind = "write_back"
)

// Op is a typed operation name accepted by E.
type Op string

// Component is a typed component name accepted by E.
type Component string

// E builds a *SyncError from its arguments, in the manner of upspin's errors.E.
// Recognised argument types:
//
//	Op, Operation  - the operation
//	Component      - the component
//	Kind           - the error kind
//	ErrorCode      - the error code
//	error          - the underlying error
//	string         - a message; wraps the underlying error when both are given
//	map[string]any - metadata
//	bool           - retryable
//
// E panics on an unrecognised argument type, which is a programming error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("call to errors.E with no arguments")
	}
	e := &SyncError{}
	var msg string
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = Operation(a)
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case error:
			e.Err = a
		case string:
			msg = a
		case map[string]interface{}:
			e.Metadata = a
		case bool:
			e.Retryable = a
		default:
			panic(fmt.Sprintf("unknown type %T, value %v in error call", arg, arg))
		}
	}

	switch {
	case msg != "" && e.Err != nil:
		e.Err = fmt.Errorf("%s: %w", msg, e.Err)
	case msg != "":
		e.Err = errors.New(msg)
	case e.Err == nil:
		e.Err = errors.New("unknown error")
	}

	// Inherit the kind of a wrapped SyncError when none was given.
	if e.Kind == KindOther {
		var inner *SyncError
		if errors.As(e.Err, &inner) {
			e.Kind = inner.Kind
			if !e.Retryable {
				e.Retryable = inner.Retryable
			}
		}
	}
	return e
}

// KindOf returns the Kind of the outermost SyncError in err's chain.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return KindOther
}

// IsKind reports whether any SyncError in err's chain has kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Kind == k {
			return true
		}
		err = syncErr.Err
	}
	return false
}
