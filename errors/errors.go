// Package errors provides custom error types for the reconciliation engine
// and the sync orchestrator.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeRemoteUnknown     ErrorCode = "REMOTE_UNKNOWN"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeConflictPending   ErrorCode = "CONFLICT_PENDING"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
)

// Kind classifies an error for propagation and user-visible behaviour.
type Kind string

const (
	KindOther           Kind = ""
	KindValidation      Kind = "validation"
	KindConflictPending Kind = "conflict_pending"
	KindTransient       Kind = "transient"
	KindFatalStore      Kind = "fatal_store"
	KindCancelled       Kind = "cancelled"
	KindRemote          Kind = "remote"
	KindInvalid         Kind = "invalid"
)

// Operation represents the type of engine operation
type Operation string

const (
	OpSync         Operation = "sync"
	OpPlan         Operation = "plan"
	OpExecute      Operation = "execute"
	OpImport       Operation = "import"
	OpExport       Operation = "export"
	OpFetch        Operation = "fetch"
	OpAccount      Operation = "account"
	OpWake         Operation = "wake"
	OpResolve      Operation = "resolve"
	OpSnapshot     Operation = "snapshot"
	OpStore        Operation = "store"
	OpLoad         Operation = "load"
	OpConfig       Operation = "config"
	OpClose        Operation = "close"
	OpNotification Operation = "notification"
)

// Remote failure taxonomy reported by remote.Service implementations.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrRateLimited        = errors.New("rate limited")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrRemoteUnknown      = errors.New("unknown remote failure")
)

// Engine sentinels.
var (
	ErrConflictPending    = errors.New("conflicts are waiting for a user decision")
	ErrCancelled          = errors.New("reconciliation cancelled")
	ErrSyncInProgress     = errors.New("a sync run is already in progress")
	ErrReorderInProgress  = errors.New("a reorder is in progress")
	ErrNoPendingDecision  = errors.New("no reconciliation is waiting for a decision")
	ErrAccountUnavailable = errors.New("remote account unavailable")
)

// SyncError represents an error that occurred during reconciliation or sync
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "transport")
	Component string

	// Kind places the error in the engine taxonomy
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

// WithMetadata attaches a key/value pair and returns the same error.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Issue is a single problem found while validating input.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError lists every problem found in a snapshot or import document.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records an issue.
func (e *ValidationError) Add(path, format string, args ...any) {
	e.Issues = append(e.Issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when no issues were recorded.
func (e *ValidationError) Err() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

// NewStorageError creates a new storage-related SyncError. Storage failures
// inside a merge transaction are fatal: the transaction has been rolled back.
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Kind:      KindFatalStore,
		Err:       cause,
	}
}

// NewConflictPending creates the non-failure error returned while a plan
// waits for user decisions.
func NewConflictPending(op Operation, count int) *SyncError {
	e := &SyncError{
		Code:      ErrCodeConflictPending,
		Op:        op,
		Component: "reconcile",
		Kind:      KindConflictPending,
		Err:       ErrConflictPending,
	}
	return e.WithMetadata("conflicts", count)
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code: ErrCodeValidationFailure,
		Op:   op,
		Kind: KindValidation,
		Err:  cause,
	}
}

// NewNetworkError creates a new network-related SyncError
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "transport",
		Kind:      KindTransient,
		Err:       cause,
		Retryable: true,
	}
}

// NewCancelled creates a SyncError for a cooperative cancellation.
func NewCancelled(op Operation, cause error) *SyncError {
	if cause == nil {
		cause = ErrCancelled
	} else if !errors.Is(cause, ErrCancelled) {
		cause = fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return &SyncError{
		Code: ErrCodeCancelled,
		Op:   op,
		Kind: KindCancelled,
		Err:  cause,
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
		Kind:      KindTransient,
		Err:       err,
		Retryable: true,
	}
}

// Classify maps a remote failure onto the taxonomy. Network and rate
// limiting failures are transient; quota and unknown failures are not.
// Errors that already carry a SyncError are returned unchanged.
func Classify(op Operation, err error) error {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return NewCancelled(op, err)
	case errors.Is(err, ErrNetworkUnavailable):
		return NewNetworkError(op, err)
	case errors.Is(err, ErrRateLimited):
		return &SyncError{Op: op, Component: "transport", Kind: KindTransient, Code: ErrCodeRateLimited, Err: err, Retryable: true}
	case errors.Is(err, ErrQuotaExceeded):
		return &SyncError{Op: op, Component: "transport", Kind: KindRemote, Code: ErrCodeQuotaExceeded, Err: err}
	default:
		return &SyncError{Op: op, Component: "transport", Kind: KindRemote, Code: ErrCodeRemoteUnknown, Err: err}
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

// KindOf returns the Kind of the outermost SyncError in the chain.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	return KindOther
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Is and As re-export the standard library helpers so callers importing this
// package under the name errors keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
