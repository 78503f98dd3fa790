// Package task defines the orchestrator's core data model: Task,
// ExecutionStep, ExecutionPlan, and the error taxonomy shared across the
// engine, planner, and orchestrator.
package task

import (
	"errors"
	"fmt"
)

// Kind distinguishes the handful of error categories the engine and
// orchestrator need to reason about, per the error handling design: kinds,
// not concrete types, so callers can switch on Kind without a long type
// assertion chain.
type Kind int

const (
	// KindValidation covers malformed input, unknown tool, cyclic plan.
	// Rejected at the boundary; never enters execution.
	KindValidation Kind = iota
	// KindTool covers a tool returning success=false.
	KindTool
	// KindTimeout covers a tool, step, or plan deadline exceeded.
	KindTimeout
	// KindDependency covers a referenced predecessor step in a non-success
	// terminal state.
	KindDependency
	// KindCancelled covers explicit user cancellation or plan-level timeout.
	KindCancelled
	// KindInternal covers a violated invariant.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindTool:
		return "ToolError"
	case KindTimeout:
		return "TimeoutError"
	case KindDependency:
		return "DependencyError"
	case KindCancelled:
		return "Cancelled"
	case KindInternal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// Error is the orchestrator's uniform error shape. It wraps an underlying
// cause (if any) and is classified by Kind so callers can apply the
// propagation policy in §7 of the spec without type assertions.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, so callers can
// do errors.Is(err, &task.Error{Kind: task.KindValidation}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ValidationError is a convenience constructor for KindValidation.
func ValidationError(format string, args ...interface{}) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...), nil)
}

// ToolError is a convenience constructor for KindTool.
func ToolError(format string, args ...interface{}) *Error {
	return NewError(KindTool, fmt.Sprintf(format, args...), nil)
}

// TimeoutError is a convenience constructor for KindTimeout.
func TimeoutError(format string, args ...interface{}) *Error {
	return NewError(KindTimeout, fmt.Sprintf(format, args...), nil)
}

// DependencyError is a convenience constructor for KindDependency.
func DependencyError(format string, args ...interface{}) *Error {
	return NewError(KindDependency, fmt.Sprintf(format, args...), nil)
}

// CancelledError is a convenience constructor for KindCancelled.
func CancelledError(format string, args ...interface{}) *Error {
	return NewError(KindCancelled, fmt.Sprintf(format, args...), nil)
}

// InternalError is a convenience constructor for KindInternal.
func InternalError(format string, args ...interface{}) *Error {
	return NewError(KindInternal, fmt.Sprintf(format, args...), nil)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
