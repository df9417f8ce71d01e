package storage

import (
	"context"
	"time"

	"responder/core"
)

// PlaybookStorageInterface defines the playbook repository contract.
type PlaybookStorageInterface interface {
	Create(ctx context.Context, playbook *core.Playbook) error
	// Get resolves ref as a playbook id first, then as a name.
	Get(ctx context.Context, accountID, ref string) (*core.Playbook, error)
	List(ctx context.Context, accountID string, limit, offset int) ([]*core.Playbook, int64, error)
	Update(ctx context.Context, playbook *core.Playbook) error
	Delete(ctx context.Context, accountID, ref string) error
}

// ExecutionUpdate carries the optional field writes applied together with a
// state transition.
type ExecutionUpdate struct {
	Cursor        *string
	PauseReason   *core.PauseReason
	FailureReason *core.FailureReason
	Error         *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// ExecutionStorageInterface defines the execution repository contract. All
// state changes go through TransitionState, which enforces the compare-and-set
// discipline the state machine requires.
type ExecutionStorageInterface interface {
	Create(ctx context.Context, execution *core.Execution) error
	Get(ctx context.Context, accountID, id string) (*core.Execution, error)
	List(ctx context.Context, accountID string, filter *core.ExecutionFilter) ([]*core.Execution, int64, error)
	// TransitionState atomically moves the execution to target if its current
	// state is in from. Rejections surface as *TransitionError.
	TransitionState(ctx context.Context, accountID, id string, target core.ExecutionState, from []core.ExecutionState, update *ExecutionUpdate) error
	SetCursor(ctx context.Context, id, cursor string) error
	AppendResult(ctx context.Context, result *core.ExecutionResult) error
	ListResults(ctx context.Context, executionID string) ([]*core.ExecutionResult, error)
	CountActiveByPlaybook(ctx context.Context, accountID, playbookID string) (int64, error)
}

// InquiryStorageInterface defines the inquiry repository contract.
type InquiryStorageInterface interface {
	// CreateAndPause inserts the inquiry and pauses its owning execution in
	// one transaction; either both commit or neither does.
	CreateAndPause(ctx context.Context, inquiry *core.Inquiry) error
	Get(ctx context.Context, accountID, id string) (*core.Inquiry, error)
	List(ctx context.Context, accountID string, filter *core.InquiryFilter) ([]*core.Inquiry, int64, error)
	// Answer performs the pending -> answered compare-and-set.
	Answer(ctx context.Context, accountID, id string, response []byte, answeredBy string) (*core.Inquiry, error)
	// ExpireDue moves every pending inquiry whose deadline elapsed to
	// expired and returns the affected inquiries.
	ExpireDue(ctx context.Context, now time.Time) ([]*core.Inquiry, error)
}

// ScheduleStorageInterface defines the schedule repository contract.
type ScheduleStorageInterface interface {
	Create(ctx context.Context, schedule *core.Schedule) error
	Get(ctx context.Context, accountID, id string) (*core.Schedule, error)
	List(ctx context.Context, accountID string, limit, offset int) ([]*core.Schedule, int64, error)
	Update(ctx context.Context, schedule *core.Schedule) error
	Delete(ctx context.Context, accountID, id string) error
	// ListDue returns enabled schedules whose next_fire_time has elapsed.
	ListDue(ctx context.Context, now time.Time) ([]*core.Schedule, error)
	// AdvanceNextFire performs the compare-and-set from the observed
	// next_fire_time to the next one; false means another ticker consumed
	// the fire first. A zero next disables the schedule (one-shot fired).
	AdvanceNextFire(ctx context.Context, id string, observed, next time.Time) (bool, error)
	RecordFireResult(ctx context.Context, id string, at time.Time, status core.FireStatus, fireErr string) error
}
