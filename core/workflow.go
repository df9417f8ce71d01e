package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepKind distinguishes the behaviors a workflow step can declare. The
// engine dispatches on this tag rather than on a type hierarchy.
type StepKind string

const (
	// StepKindAction invokes an action from the catalog
	StepKindAction StepKind = "action"
	// StepKindInquiry pauses the execution until a human answers
	StepKindInquiry StepKind = "inquiry"
	// StepKindParallel fans out over its child groups and joins before advancing
	StepKindParallel StepKind = "parallel"
)

// IsValid checks if the kind is known
func (k StepKind) IsValid() bool {
	switch k {
	case StepKindAction, StepKindInquiry, StepKindParallel:
		return true
	default:
		return false
	}
}

// RetryPolicy bounds step retries. A nil policy on a step means the engine
// default applies only when the step is marked retryable.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `json:"backoff" yaml:"backoff"`
}

// Step is one node of a workflow graph.
type Step struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`
	Kind StepKind `json:"kind" yaml:"kind"`

	// Action steps
	ActionType string                 `json:"action_type,omitempty" yaml:"action_type,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Inquiry steps
	Prompt         string          `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty" yaml:"response_schema,omitempty"`
	// FallbackStep, when set on an inquiry step, receives control if the
	// inquiry expires instead of failing the execution.
	FallbackStep string `json:"fallback_step,omitempty" yaml:"fallback_step,omitempty"`

	// Parallel steps name sibling step ids that may run concurrently.
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`

	// DependsOn lists step ids that must complete before this step starts.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Optional steps record a failure result but do not fail the execution.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
	// Retryable steps are retried per Retry (or the engine default) before
	// their failure is escalated.
	Retryable bool         `json:"retryable,omitempty" yaml:"retryable,omitempty"`
	Retry     *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Workflow is a parsed workflow document. The step list preserves declaration
// order, which breaks ties during topological ordering.
type Workflow struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// Playbook is an account-scoped named workflow document. The raw document is
// retained alongside the parsed form so executions snapshot exactly what was
// submitted.
type Playbook struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Workflow    *Workflow `json:"workflow"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the playbook's own fields, not the workflow document
// (document validation is the inspector's job).
func (p *Playbook) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("playbook name is required")
	}
	if p.AccountID == "" {
		return fmt.Errorf("playbook account id is required")
	}
	if p.Workflow == nil || len(p.Workflow.Steps) == 0 {
		return fmt.Errorf("playbook workflow must declare at least one step")
	}
	return nil
}

// ActionDescriptor describes one action type available to workflows: the
// payload family it operates on and the shapes it accepts and produces.
// Catalog entries are read-only reference data.
type ActionDescriptor struct {
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	PayloadType  string          `json:"payload_type"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Schema is a named data-shape document served by the schemas endpoint.
type Schema struct {
	DataType string          `json:"data_type"`
	Document json.RawMessage `json:"document"`
}

// InspectorSeverity grades inspector findings.
type InspectorSeverity string

const (
	SeverityError   InspectorSeverity = "error"
	SeverityWarning InspectorSeverity = "warning"
)

// InspectorError is one structured finding from workflow inspection.
type InspectorError struct {
	Path     string            `json:"path"`
	Message  string            `json:"message"`
	Severity InspectorSeverity `json:"severity"`
}
