package core

import (
	"errors"
	"fmt"
)

// FieldError is one machine-readable validation finding.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports document or input shape violations. It is surfaced
// immediately and never retried.
type ValidationError struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d field errors)", e.Message, len(e.Errors))
}

// NewValidationError builds a ValidationError from field findings.
func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Errors: fields}
}

// NotFoundError reports entity absence.
type NotFoundError struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NewNotFoundError builds a NotFoundError for the given entity kind and id.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError reports a uniqueness or precondition violation.
type ConflictError struct {
	Message string `json:"message"`
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NewConflictError builds a ConflictError.
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an illegal state machine transition. It carries
// the state observed when the operation was rejected so callers can
// distinguish "already there" from genuinely illegal moves.
type InvalidStateError struct {
	Operation string         `json:"operation"`
	Current   ExecutionState `json:"current_state,omitempty"`
	Message   string         `json:"message"`
}

func (e *InvalidStateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("cannot %s execution in state %q", e.Operation, e.Current)
}

// NewInvalidStateError builds an InvalidStateError for a rejected transition.
func NewInvalidStateError(operation string, current ExecutionState) *InvalidStateError {
	return &InvalidStateError{Operation: operation, Current: current}
}

// ActionExecutionError wraps a downstream executor failure with the step it
// occurred on.
type ActionExecutionError struct {
	StepID     string `json:"step_id"`
	ActionType string `json:"action_type,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Cause      error  `json:"-"`
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action %q failed at step %q after %d attempt(s): %v", e.ActionType, e.StepID, e.Attempts, e.Cause)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports an inquiry or schedule deadline that elapsed.
type TimeoutError struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %q deadline exceeded", e.Kind, e.ID)
}

// Predicate helpers for the transport layer's status mapping.

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

func IsActionExecution(err error) bool {
	var target *ActionExecutionError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}
