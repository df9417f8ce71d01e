// Package inquiry manages human-input requests raised by executions: answer
// intake with schema validation, history queries, and TTL expiry sweeps.
package inquiry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"responder/core"
	"responder/storage"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// executionController is the engine surface the manager drives. Answering and
// expiry both mutate the owning execution, so they route through the engine's
// per-execution serialization rather than touching storage directly.
type executionController interface {
	ResumeWithAnswer(ctx context.Context, inquiry *core.Inquiry, response []byte, answeredBy string) (*core.Inquiry, error)
	HandleInquiryExpiry(ctx context.Context, inquiry *core.Inquiry)
}

// Manager exposes the inquiry operations and runs the expiry sweep.
type Manager struct {
	inquiries  storage.InquiryStorageInterface
	controller executionController
	logger     *zap.SugaredLogger

	sweepInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewManager wires the manager. Call Start to begin expiry sweeps.
func NewManager(inquiries storage.InquiryStorageInterface, controller executionController, sweepInterval time.Duration, logger *zap.SugaredLogger) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Manager{
		inquiries:     inquiries,
		controller:    controller,
		logger:        logger,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background expiry sweep.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.logger.Infow("Inquiry manager started", "sweep_interval", m.sweepInterval)
}

// Stop halts the expiry sweep and waits for an in-progress sweep to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Get returns a single inquiry.
func (m *Manager) Get(ctx context.Context, accountID, id string) (*core.Inquiry, error) {
	inquiry, err := m.inquiries.Get(ctx, accountID, id)
	if err != nil {
		if errors.Is(err, storage.ErrInquiryNotFound) {
			return nil, core.NewNotFoundError("inquiry", id)
		}
		return nil, err
	}
	return inquiry, nil
}

// List returns inquiries matching the filter.
func (m *Manager) List(ctx context.Context, accountID string, filter *core.InquiryFilter) ([]*core.Inquiry, int64, error) {
	return m.inquiries.List(ctx, accountID, filter)
}

// Answer validates the response against the inquiry's declared schema and
// resumes the owning execution. Answering a non-pending inquiry is a
// conflict; an invalid response leaves the inquiry pending.
func (m *Manager) Answer(ctx context.Context, accountID, id string, response json.RawMessage, answeredBy string) (*core.Inquiry, error) {
	inquiry, err := m.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if inquiry.State != core.InquiryStatePending {
		return nil, &core.InvalidStateError{
			Operation: "answer",
			Message:   fmt.Sprintf("inquiry %q is %s, not pending", id, inquiry.State),
		}
	}

	if len(response) == 0 {
		response = json.RawMessage(`{}`)
	}
	if err := m.validateResponse(inquiry, response); err != nil {
		return nil, err
	}

	answered, err := m.controller.ResumeWithAnswer(ctx, inquiry, response, answeredBy)
	if err != nil {
		return nil, err
	}

	m.logger.Infow("Inquiry answered",
		"inquiry_id", id,
		"execution_id", inquiry.ExecutionID,
		"answered_by", answeredBy)
	return answered, nil
}

func (m *Manager) validateResponse(inquiry *core.Inquiry, response json.RawMessage) error {
	if len(inquiry.ResponseSchema) == 0 {
		if !json.Valid(response) {
			return core.NewValidationError("response is not valid JSON")
		}
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(inquiry.ResponseSchema))
	if err != nil {
		return fmt.Errorf("failed to compile response schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(response))
	if err != nil {
		return core.NewValidationError(fmt.Sprintf("response is not valid JSON: %v", err))
	}
	if !result.Valid() {
		fields := make([]core.FieldError, 0, len(result.Errors()))
		for _, f := range result.Errors() {
			fields = append(fields, core.FieldError{Field: f.Field(), Message: f.Description()})
		}
		return core.NewValidationError("response does not match the inquiry schema", fields...)
	}
	return nil
}

// sweep expires due inquiries and hands each to the engine, which either
// fails the owning execution or continues at the step's fallback.
func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := m.inquiries.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Errorw("Inquiry expiry sweep failed", "error", err)
		return
	}
	for _, inquiry := range expired {
		m.logger.Infow("Inquiry expired",
			"inquiry_id", inquiry.ID,
			"execution_id", inquiry.ExecutionID,
			"step_id", inquiry.StepID)
		m.controller.HandleInquiryExpiry(ctx, inquiry)
	}
}
