package core

import (
	"errors"
	"fmt"
)

// Error codes for account operations
const (
	// Authorization errors
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeUnsafePermissionChange = "UNSAFE_PERMISSION_CHANGE"
	ErrCodeWriteProtection        = "WRITE_PROTECTION"

	// Dispatch errors
	ErrCodeInvalidOperationKind  = "INVALID_OPERATION_KIND"
	ErrCodeTargetExecutionFailed = "TARGET_EXECUTION_FAILED"
	ErrCodeDeploymentFailed      = "DEPLOYMENT_FAILED"
	ErrCodeCallDepthExceeded     = "CALL_DEPTH_EXCEEDED"
	ErrCodeUnknownMethod         = "UNKNOWN_METHOD"

	// State errors
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeNonceMismatch       = "NONCE_MISMATCH"
	ErrCodeValueTooLarge       = "VALUE_TOO_LARGE"

	// Input errors
	ErrCodeInvalidArgument = "INVALID_ARGUMENT"
)

// Error is the coded error returned by every state-changing operation.
// Two errors are equal under errors.Is when their codes match.
type Error struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable message
	Context map[string]interface{} // Additional context
	Cause   error                  // Underlying error, e.g. a callee's revert
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewError creates a new coded error
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps cause with a code and message
func WrapError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is matching.
var (
	ErrUnauthorized           = NewError(ErrCodeUnauthorized, "unauthorized")
	ErrUnsafePermissionChange = NewError(ErrCodeUnsafePermissionChange, "unsafe permission change")
	ErrWriteProtection        = NewError(ErrCodeWriteProtection, "write protection")
	ErrInvalidOperationKind   = NewError(ErrCodeInvalidOperationKind, "invalid operation kind")
	ErrTargetExecutionFailed  = NewError(ErrCodeTargetExecutionFailed, "target execution failed")
	ErrDeploymentFailed       = NewError(ErrCodeDeploymentFailed, "deployment failed")
	ErrCallDepthExceeded      = NewError(ErrCodeCallDepthExceeded, "call depth exceeded")
	ErrUnknownMethod          = NewError(ErrCodeUnknownMethod, "unknown method")
	ErrInsufficientBalance    = NewError(ErrCodeInsufficientBalance, "insufficient balance")
	ErrNonceMismatch          = NewError(ErrCodeNonceMismatch, "nonce mismatch")
	ErrValueTooLarge          = NewError(ErrCodeValueTooLarge, "value too large")
	ErrInvalidArgument        = NewError(ErrCodeInvalidArgument, "invalid argument")
)

// Common error constructors

func ErrNotOwner(caller, owner Address) *Error {
	return NewError(ErrCodeUnauthorized, "caller is not the owner").
		WithContext("caller", caller.String()).
		WithContext("owner", owner.String())
}

func ErrMissingPermission(caller Address, required, held uint64) *Error {
	return NewError(ErrCodeUnauthorized, "caller lacks required permission").
		WithContext("caller", caller.String()).
		WithContext("required", required).
		WithContext("held", held)
}

func ErrUnknownOperation(kind uint64) *Error {
	return NewError(ErrCodeInvalidOperationKind, "unknown operation kind").
		WithContext("kind", kind)
}

func ErrExecutionFailed(target Address, cause error) *Error {
	return WrapError(ErrCodeTargetExecutionFailed, "target execution failed", cause).
		WithContext("target", target.String())
}

func ErrDeployment(reason string, cause error) *Error {
	return WrapError(ErrCodeDeploymentFailed, reason, cause)
}

func ErrBalance(addr Address, have, want uint64) *Error {
	return NewError(ErrCodeInsufficientBalance, "insufficient balance").
		WithContext("address", addr.String()).
		WithContext("have", have).
		WithContext("want", want)
}

func ErrArgument(message string) *Error {
	return NewError(ErrCodeInvalidArgument, message)
}

// CodeOf returns the code of the first coded error in err's chain, or ""
// when there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// RevertReason returns the innermost coded error in err's chain, which is
// the failure raised by the deepest callee.
func RevertReason(err error) error {
	deepest := err
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if e, ok := cur.(*Error); ok {
			deepest = e
		}
	}
	return deepest
}
