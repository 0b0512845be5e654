package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a state conflict, such as another engine
	// holding the stack lock.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid template, driver failure, timeout.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the logical resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the action being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	}
	if e.Resource != "" {
		return fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(name string) *EngineError {
	e.Resource = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeResourceFailure  = "RESOURCE_FAILURE"
	ErrCodeActionInProgress = "ACTION_IN_PROGRESS"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeInvalidReference = "INVALID_REFERENCE"
	ErrCodeInvalidAttribute = "INVALID_ATTRIBUTE"
	ErrCodeNotSupported     = "NOT_SUPPORTED"
)

// NewResourceFailure wraps any error raised while driving a resource action
// into the single failure kind the orchestrator understands.
func NewResourceFailure(name string, action Action, err error) *EngineError {
	if e := asCode(err, ErrCodeResourceFailure); e != nil {
		return e
	}
	return &EngineError{
		Class:     ErrorClassPermanent,
		Code:      ErrCodeResourceFailure,
		Resource:  name,
		Operation: string(action),
		Err:       err,
	}
}

// NewTimeoutError reports that a task ran past its deadline.
func NewTimeoutError(task string, err error) *EngineError {
	return NewPermanentError(fmt.Sprintf("%s timed out", task), err).
		WithCode(ErrCodeTimeout)
}

// NewValidationError reports a template, graph or property problem found
// before any driver hook was invoked.
func NewValidationError(message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeValidation)
}

// NewActionInProgressError reports that another live engine owns the stack lock.
func NewActionInProgressError(stackName string, action Action) *EngineError {
	msg := fmt.Sprintf("stack %s already has an action (%s) in progress", stackName, action)
	return NewConflictError(msg, nil).
		WithCode(ErrCodeActionInProgress).
		WithDetail("stack", stackName)
}

// NewInvalidStateError reports an action requested from a state that does
// not allow it.
func NewInvalidStateError(operation string, state State) *EngineError {
	return NewPermanentError(fmt.Sprintf("state %s invalid for %s", state, operation), nil).
		WithCode(ErrCodeInvalidState).
		WithOperation(operation)
}

// NewNotFoundError reports a missing stack, resource or output.
func NewNotFoundError(kind, name string) *EngineError {
	return NewPermanentError(fmt.Sprintf("%s %s not found", kind, name), nil).
		WithCode(ErrCodeNotFound)
}

// UpdateReplace signals that a resource cannot be updated in place and must
// be replaced. It is a control signal, not a failure.
type UpdateReplace struct {
	// Resource is the logical name of the resource that needs replacing.
	Resource string
}

// Error implements the error interface.
func (e *UpdateReplace) Error() string {
	return fmt.Sprintf("update of resource %s requires replacement", e.Resource)
}

// IsUpdateReplace returns true if err carries a replacement signal.
func IsUpdateReplace(err error) bool {
	var e *UpdateReplace
	return errors.As(err, &e)
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// IsResourceFailure returns true if a resource action failed somewhere in
// the error chain.
func IsResourceFailure(err error) bool {
	return asCode(err, ErrCodeResourceFailure) != nil
}

// IsTimeout returns true if a scheduler deadline was exceeded.
func IsTimeout(err error) bool {
	return asCode(err, ErrCodeTimeout) != nil
}

// IsActionInProgress returns true if the stack lock is held by a live engine.
func IsActionInProgress(err error) bool {
	return asCode(err, ErrCodeActionInProgress) != nil
}

// IsValidation returns true for template, reference and property errors.
func IsValidation(err error) bool {
	return asCode(err, ErrCodeValidation) != nil ||
		asCode(err, ErrCodeInvalidReference) != nil ||
		asCode(err, ErrCodeInvalidAttribute) != nil
}

// IsInvalidState returns true if an action was requested from an illegal state.
func IsInvalidState(err error) bool {
	return asCode(err, ErrCodeInvalidState) != nil
}

// IsNotFound returns true if a stack, resource or output does not exist.
func IsNotFound(err error) bool {
	return asCode(err, ErrCodeNotFound) != nil
}

// asCode walks the chain and returns the first EngineError carrying code.
func asCode(err error, code string) *EngineError {
	for err != nil {
		if e, ok := err.(*EngineError); ok && e.Code == code {
			return e
		}
		err = errors.Unwrap(err)
	}
	return nil
}
