// Package orcherr defines the closed error-kind taxonomy shared across
// orchestrator components, generalizing the component/operation/message
// error shape the teacher codebase used per-package into a single type.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error classes, used by callers to decide
// propagation policy (short-circuit to terminal, retry, bubble as a tool
// result, etc.) without string-matching messages.
type Kind string

const (
	Config           Kind = "config"
	Auth             Kind = "auth"
	RateLimit        Kind = "rate_limit"
	AdapterRequest   Kind = "adapter_request"
	PolicyDenied     Kind = "policy_denied"
	ApprovalRequired Kind = "approval_required"
	ToolExecution    Kind = "tool_execution"
	BudgetExhausted  Kind = "budget_exhausted"
	Cancellation     Kind = "cancellation"
	Recovery         Kind = "recovery"
)

// Error wraps an underlying cause with a Kind, component, and operation,
// so callers can use errors.As to recover the classification.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error.
func New(kind Kind, component, operation, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Operation: operation, Message: message, Err: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsControlFlow reports whether err carries the ApprovalRequired or
// Cancellation kind: per spec.md §7 these two kinds are not failures, just
// control-flow signals.
func IsControlFlow(err error) bool {
	k := KindOf(err)
	return k == ApprovalRequired || k == Cancellation
}
