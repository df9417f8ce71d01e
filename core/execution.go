package core

import (
	"encoding/json"
	"time"
)

// ExecutionState represents the lifecycle state of an execution.
type ExecutionState string

const (
	// ExecutionStatePending indicates an execution that has been created but not started
	ExecutionStatePending ExecutionState = "pending"
	// ExecutionStateRunning indicates an execution actively advancing through steps
	ExecutionStateRunning ExecutionState = "running"
	// ExecutionStatePaused indicates an execution halted by an operator or a pending inquiry
	ExecutionStatePaused ExecutionState = "paused"
	// ExecutionStateCompleted indicates all steps finished successfully
	ExecutionStateCompleted ExecutionState = "completed"
	// ExecutionStateFailed indicates a step failure or inquiry timeout ended the execution
	ExecutionStateFailed ExecutionState = "failed"
	// ExecutionStateCancelled indicates the execution was cancelled by a caller
	ExecutionStateCancelled ExecutionState = "cancelled"
)

// String returns the string representation
func (s ExecutionState) String() string {
	return string(s)
}

// IsValid checks if the state is a known execution state
func (s ExecutionState) IsValid() bool {
	switch s {
	case ExecutionStatePending, ExecutionStateRunning, ExecutionStatePaused,
		ExecutionStateCompleted, ExecutionStateFailed, ExecutionStateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case ExecutionStateCompleted, ExecutionStateFailed, ExecutionStateCancelled:
		return true
	default:
		return false
	}
}

// executionTransitions encodes the legal state machine edges. Every state
// change anywhere in the service must pass through CanTransition.
var executionTransitions = map[ExecutionState][]ExecutionState{
	ExecutionStatePending: {ExecutionStateRunning, ExecutionStateCancelled},
	ExecutionStateRunning: {ExecutionStatePaused, ExecutionStateCompleted, ExecutionStateFailed, ExecutionStateCancelled},
	ExecutionStatePaused:  {ExecutionStateRunning, ExecutionStateFailed, ExecutionStateCancelled},
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(from, to ExecutionState) bool {
	for _, next := range executionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every state from which the given target state may
// be reached. Storage uses this to build compare-and-set predicates.
func TransitionSources(to ExecutionState) []ExecutionState {
	var sources []ExecutionState
	for from, targets := range executionTransitions {
		for _, t := range targets {
			if t == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// PauseReason records why an execution entered the paused state.
type PauseReason string

const (
	// PauseReasonOperator indicates an explicit pause request
	PauseReasonOperator PauseReason = "operator"
	// PauseReasonAwaitingInquiry indicates a step raised an inquiry and is waiting for an answer
	PauseReasonAwaitingInquiry PauseReason = "awaiting_inquiry"
)

// FailureReason records why an execution entered the failed state.
type FailureReason string

const (
	// FailureReasonStepFailed indicates a step exhausted its retry budget
	FailureReasonStepFailed FailureReason = "step_failed"
	// FailureReasonInquiryTimeout indicates a pending inquiry expired
	FailureReasonInquiryTimeout FailureReason = "inquiry_timeout"
)

// Execution is one run of a playbook workflow. It is mutated only through
// state machine transitions; terminal executions are retained as history and
// never deleted.
type Execution struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	// PlaybookID is empty when the execution was created from an inline
	// workflow document.
	PlaybookID   string `json:"playbook_id,omitempty"`
	PlaybookName string `json:"playbook_name,omitempty"`

	// Workflow is the snapshot the execution runs against. Updating the
	// source playbook never affects executions already created from it.
	Workflow *Workflow `json:"workflow,omitempty"`

	// Input is the payload the execution was created with. Schedule fires
	// pass the schedule's payload here.
	Input json.RawMessage `json:"input,omitempty"`

	State ExecutionState `json:"state"`

	// Cursor is the id of the next step to evaluate. Empty before the first
	// step and after the last.
	Cursor string `json:"cursor,omitempty"`

	PauseReason   PauseReason   `json:"pause_reason,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Error         string        `json:"error,omitempty"`

	// ParentExecutionID is set when this execution was created by re-running
	// another one.
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	// ScheduleID is set when this execution was created by a schedule fire.
	ScheduleID string `json:"schedule_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExecutionResult is the append-only record of a single step outcome. Rows
// for one execution are ordered by Seq and never mutated after write.
type ExecutionResult struct {
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	Seq         int             `json:"seq"`
	Status      StepStatus      `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// StepStatus represents the outcome of a single step run.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// ExecutionFilter narrows history queries. Zero values mean "no constraint".
type ExecutionFilter struct {
	States     []ExecutionState `json:"states,omitempty"`
	PlaybookID string           `json:"playbook_id,omitempty"`
	ScheduleID string           `json:"schedule_id,omitempty"`
	Since      *time.Time       `json:"since,omitempty"`
	Until      *time.Time       `json:"until,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}
