package storage

import (
	"errors"
	"fmt"

	"responder/core"
)

// Sentinel errors for state checking with errors.Is
var (
	// ErrPlaybookNotFound is returned when a playbook doesn't exist
	ErrPlaybookNotFound = errors.New("playbook not found")

	// ErrExecutionNotFound is returned when an execution doesn't exist
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInquiryNotFound is returned when an inquiry doesn't exist
	ErrInquiryNotFound = errors.New("inquiry not found")

	// ErrScheduleNotFound is returned when a schedule doesn't exist
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrSchemaNotFound is returned when a schema data type doesn't exist
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrDuplicateName is returned when creating an entity whose name is
	// already taken within the account
	ErrDuplicateName = errors.New("name already exists")

	// ErrInvalidTransition is returned when a compare-and-set state change
	// finds the entity in a state the transition does not permit
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInquiryNotPending is returned when answering or expiring an inquiry
	// that is no longer pending
	ErrInquiryNotPending = errors.New("inquiry is not pending")
)

// TransitionError carries the state observed when a compare-and-set
// transition was rejected. It wraps ErrInvalidTransition so callers can use
// errors.Is while still recovering the observed state with errors.As.
type TransitionError struct {
	Observed core.ExecutionState
	Target   core.ExecutionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition execution from %q to %q", e.Observed, e.Target)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
