package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// FireStatus records the outcome of a schedule's most recent fire.
type FireStatus string

const (
	FireStatusSuccess FireStatus = "success"
	FireStatusError   FireStatus = "error"
)

// Schedule is a trigger definition that creates executions automatically.
// Exactly one of Cron, Interval, or At must be set.
type Schedule struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	PlaybookID string `json:"playbook_id"`
	Name       string `json:"name"`

	// Cron is a standard five-field cron expression.
	Cron string `json:"cron,omitempty"`
	// Interval fires every fixed duration.
	Interval time.Duration `json:"interval,omitempty"`
	// At fires exactly once at the given instant; the schedule is disabled
	// after firing.
	At *time.Time `json:"at,omitempty"`

	Enabled      bool      `json:"enabled"`
	NextFireTime time.Time `json:"next_fire_time"`

	// Payload is passed through as input to executions this schedule creates.
	Payload json.RawMessage `json:"payload,omitempty"`

	LastFireTime   *time.Time `json:"last_fire_time,omitempty"`
	LastFireStatus FireStatus `json:"last_fire_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecurrenceKind reports which trigger form the schedule uses.
func (s *Schedule) RecurrenceKind() string {
	switch {
	case s.Cron != "":
		return "cron"
	case s.Interval > 0:
		return "interval"
	case s.At != nil:
		return "one_shot"
	default:
		return ""
	}
}

// Validate checks structural requirements; cron expression syntax is checked
// by the scheduler, which owns the parser.
func (s *Schedule) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("schedule account id is required")
	}
	if s.PlaybookID == "" {
		return fmt.Errorf("schedule playbook id is required")
	}
	forms := 0
	if s.Cron != "" {
		forms++
	}
	if s.Interval > 0 {
		forms++
	}
	if s.At != nil {
		forms++
	}
	if forms != 1 {
		return fmt.Errorf("schedule must set exactly one of cron, interval, or at")
	}
	if s.Interval > 0 && s.Interval < time.Second {
		return fmt.Errorf("schedule interval must be at least one second")
	}
	return nil
}
