// Package errors provides the structured error type shared by the conflict engine,
// its strategies and the replica store adapters.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeConflictFailure   ErrorCode = "CONFLICT_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeWriteBackRace     ErrorCode = "WRITE_BACK_RACE"
)

// Operation represents the engine operation during which an error occurred
type Operation string

const (
	OpClassify        Operation = "classify"
	OpDiff            Operation = "diff"
	OpResolve         Operation = "resolve"
	OpValidate        Operation = "validate"
	OpApply           Operation = "apply"
	OpEnqueue         Operation = "enqueue"
	OpStore           Operation = "store"
	OpLoad            Operation = "load"
	OpConfig          Operation = "config"
	OpConflictResolve Operation = "conflict_resolve"
	OpClose           Operation = "close"
)

// SyncError represents an error raised while detecting or resolving a conflict.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "conflict/classifier", "storage/sqlite")
	Component string

	// Kind classifies the error for programmatic handling
	Kind Kind

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Kind:      KindInternal,
		Err:       cause,
		Retryable: true,
	}
}

// NewConflictError creates a new conflict-related SyncError
func NewConflictError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConflictFailure,
		Op:        op,
		Component: "engine",
		Err:       cause,
		Retryable: false,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Kind:      KindInvalid,
		Err:       cause,
		Retryable: false,
	}
}

// NewClassificationError reports malformed snapshot input. The document is skipped
// and nothing is queued.
func NewClassificationError(documentID string, cause error) *SyncError {
	return &SyncError{
		Op:        OpClassify,
		Component: "conflict/classifier",
		Kind:      KindClassification,
		Code:      ErrCodeValidationFailure,
		Err:       cause,
		Metadata:  map[string]interface{}{"document_id": documentID},
	}
}

// NewUnknownStrategyError reports a strategy name missing from the registry.
func NewUnknownStrategyError(name string) *SyncError {
	return &SyncError{
		Op:        OpResolve,
		Component: "resolve/registry",
		Kind:      KindUnknownStrategy,
		Code:      ErrCodeConflictFailure,
		Err:       fmt.Errorf("unknown resolution strategy %q", name),
		Metadata:  map[string]interface{}{"strategy": name},
	}
}

// NewResolutionValidationError reports a strategy result that is incomplete or invalid.
func NewResolutionValidationError(documentID string, cause error) *SyncError {
	return &SyncError{
		Op:        OpValidate,
		Component: "engine/orchestrator",
		Kind:      KindValidation,
		Code:      ErrCodeValidationFailure,
		Err:       cause,
		Metadata:  map[string]interface{}{"document_id": documentID},
	}
}

// NewCustomResolverError reports a per-field resolver that failed or panicked.
func NewCustomResolverError(field string, cause error) *SyncError {
	return &SyncError{
		Op:        OpResolve,
		Component: "resolve/custom",
		Kind:      KindCustomResolver,
		Code:      ErrCodeConflictFailure,
		Err:       cause,
		Metadata:  map[string]interface{}{"field": field},
	}
}

// NewWriteBackError reports that the store rejected a resolved document. It is
// retryable: the caller should re-run detection with fresh snapshots.
func NewWriteBackError(documentID string, cause error) *SyncError {
	return &SyncError{
		Op:        OpApply,
		Component: "engine/orchestrator",
		Kind:      KindWriteBack,
		Code:      ErrCodeWriteBackRace,
		Err:       cause,
		Retryable: true,
		Metadata:  map[string]interface{}{"document_id": documentID},
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}
