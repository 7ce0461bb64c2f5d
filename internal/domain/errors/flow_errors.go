package errors

import (
	"fmt"

	stderrors "errors"
)

// ErrorKind is the engine's closed error taxonomy. Every failure the
// engine produces carries exactly one of these, so callers can switch on
// Kind instead of string-matching messages.
type ErrorKind string

const (
	ErrPlanGeneration         ErrorKind = "plan_generation"
	ErrPlanValidation         ErrorKind = "plan_validation"
	ErrCompilation            ErrorKind = "compilation"
	ErrInputValidation        ErrorKind = "input_validation"
	ErrOutputValidation       ErrorKind = "output_validation"
	ErrExpression             ErrorKind = "expression"
	ErrMissingReference       ErrorKind = "missing_reference"
	ErrToolFailureTransient   ErrorKind = "tool_failure_transient"
	ErrToolFailurePermanent   ErrorKind = "tool_failure_permanent"
	ErrTimeout                ErrorKind = "timeout"
	ErrCancelled              ErrorKind = "cancelled"
	ErrSuspended              ErrorKind = "suspended"
	ErrUnknownSuspension      ErrorKind = "unknown_suspension"
	ErrSuspensionExpired      ErrorKind = "suspension_expired"
	ErrSuspensionAlreadyUsed  ErrorKind = "suspension_already_consumed"
	ErrPoolExhaustion         ErrorKind = "pool_exhaustion"
	ErrLoopBound              ErrorKind = "loop_bound"
)

// Retryable reports whether the taxonomy generally treats this kind as
// worth retrying without operator intervention.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrToolFailureTransient, ErrTimeout, ErrPoolExhaustion:
		return true
	default:
		return false
	}
}

// FlowError is the engine's single error type: a kind, a message, an
// optional cause chain, and the flow/node/tool ids the failure belongs to.
type FlowError struct {
	Kind     ErrorKind
	Message  string
	Cause    error
	FlowID   string
	NodeID   string
	ToolID   string
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: node %s: %s: %v", e.Kind, e.NodeID, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FlowError) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &FlowError{Kind: X}) to match on Kind alone.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

// NewFlowError builds a FlowError with the given kind and message.
func NewFlowError(kind ErrorKind, message string) *FlowError {
	return &FlowError{Kind: kind, Message: message}
}

// Wrap builds a FlowError wrapping cause.
func Wrap(kind ErrorKind, message string, cause error) *FlowError {
	return &FlowError{Kind: kind, Message: message, Cause: cause}
}

// WithNode returns a copy of e annotated with nodeID.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	cp := *e
	cp.NodeID = nodeID
	return &cp
}

// WithTool returns a copy of e annotated with toolID.
func (e *FlowError) WithTool(toolID string) *FlowError {
	cp := *e
	cp.ToolID = toolID
	return &cp
}

// WithFlow returns a copy of e annotated with flowID.
func (e *FlowError) WithFlow(flowID string) *FlowError {
	cp := *e
	cp.FlowID = flowID
	return &cp
}

// IsRetryable reports whether err is a *FlowError whose Kind is retryable.
func IsRetryable(err error) bool {
	var fe *FlowError
	if stderrors.As(err, &fe) {
		return fe.Kind.Retryable()
	}
	return false
}
