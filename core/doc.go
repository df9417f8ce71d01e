// Package core defines the domain model for the Responder orchestration service.
//
// The core package provides:
//   - Domain types (Playbook, Execution, Inquiry, Schedule, ActionDescriptor)
//   - Execution state machine states and legal transitions
//   - The service error taxonomy used across storage, engine, and API layers
//
// Service interfaces are defined where they are consumed, not here; this
// package holds only data types, state definitions, and typed errors so that
// every other package can depend on it without cycles.
package core
