package core

import (
	"encoding/json"
	"time"
)

// InquiryState represents the lifecycle of a human-input request.
type InquiryState string

const (
	// InquiryStatePending indicates the inquiry is awaiting an answer
	InquiryStatePending InquiryState = "pending"
	// InquiryStateAnswered indicates a valid response was recorded
	InquiryStateAnswered InquiryState = "answered"
	// InquiryStateExpired indicates the TTL elapsed before an answer arrived
	InquiryStateExpired InquiryState = "expired"
)

// IsValid checks if the state is known
func (s InquiryState) IsValid() bool {
	switch s {
	case InquiryStatePending, InquiryStateAnswered, InquiryStateExpired:
		return true
	default:
		return false
	}
}

// Inquiry is a pause request raised by an execution step that needs human
// input. At most one pending inquiry exists per execution step.
type Inquiry struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`

	Prompt         string          `json:"prompt"`
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`

	State    InquiryState    `json:"state"`
	Response json.RawMessage `json:"response,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	AnsweredBy string     `json:"answered_by,omitempty"`
}

// InquiryFilter narrows inquiry history queries.
type InquiryFilter struct {
	States      []InquiryState `json:"states,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Since       *time.Time     `json:"since,omitempty"`
	Until       *time.Time     `json:"until,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	Offset      int            `json:"offset,omitempty"`
}
