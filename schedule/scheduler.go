// Package schedule runs the trigger engine: schedule CRUD with next-fire
// computation, and a ticker loop that converts due schedules into executions.
// Fire consumption goes through a compare-and-set on next_fire_time so a
// schedule observed due by several tickers still creates exactly one
// execution.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"responder/core"
	"responder/engine"
	"responder/metrics"
	"responder/storage"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// executionCreator is the engine surface the scheduler needs.
type executionCreator interface {
	Create(ctx context.Context, accountID string, req engine.CreateRequest) (*core.Execution, error)
}

// Config carries the scheduler's tunables.
type Config struct {
	// TickInterval is how often due schedules are polled.
	TickInterval time.Duration
	// RetryOnFailure re-arms a fire whose execution creation failed so the
	// next tick retries it. When false the fire is skipped and logged; the
	// schedule stays enabled either way.
	RetryOnFailure bool
}

// Scheduler owns schedule definitions and the fire loop.
type Scheduler struct {
	schedules storage.ScheduleStorageInterface
	playbooks storage.PlaybookStorageInterface
	creator   executionCreator
	logger    *zap.SugaredLogger
	cfg       Config

	parser cron.Parser

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler wires the scheduler. Call Start to begin firing.
func NewScheduler(
	schedules storage.ScheduleStorageInterface,
	playbooks storage.PlaybookStorageInterface,
	creator executionCreator,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Second
	}
	return &Scheduler{
		schedules: schedules,
		playbooks: playbooks,
		creator:   creator,
		logger:    logger,
		cfg:       cfg,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the fire loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Infow("Schedule trigger engine started", "tick_interval", s.cfg.TickInterval)
}

// Stop halts the fire loop and waits for an in-progress tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Create validates the schedule, computes its first fire time, and persists
// it. New schedules start enabled.
func (s *Scheduler) Create(ctx context.Context, schedule *core.Schedule) (*core.Schedule, error) {
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if err := s.validate(ctx, schedule); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next, err := s.nextFire(schedule, now)
	if err != nil {
		return nil, err
	}
	schedule.NextFireTime = next
	schedule.Enabled = true
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if err := s.schedules.Create(ctx, schedule); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			return nil, core.NewConflictError("schedule named %q already exists", schedule.Name)
		}
		return nil, fmt.Errorf("failed to persist schedule: %w", err)
	}

	s.logger.Infow("Schedule created",
		"schedule_id", schedule.ID,
		"account_id", schedule.AccountID,
		"recurrence", schedule.RecurrenceKind(),
		"next_fire_time", schedule.NextFireTime)
	return schedule, nil
}

// Get returns a single schedule.
func (s *Scheduler) Get(ctx context.Context, accountID, id string) (*core.Schedule, error) {
	schedule, err := s.schedules.Get(ctx, accountID, id)
	if err != nil {
		if errors.Is(err, storage.ErrScheduleNotFound) {
			return nil, core.NewNotFoundError("schedule", id)
		}
		return nil, err
	}
	return schedule, nil
}

// List returns the account's schedules.
func (s *Scheduler) List(ctx context.Context, accountID string, limit, offset int) ([]*core.Schedule, int64, error) {
	return s.schedules.List(ctx, accountID, limit, offset)
}

// Update replaces the schedule definition and recomputes the next fire time
// from the new recurrence.
func (s *Scheduler) Update(ctx context.Context, schedule *core.Schedule) (*core.Schedule, error) {
	existing, err := s.Get(ctx, schedule.AccountID, schedule.ID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, schedule); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next, err := s.nextFire(schedule, now)
	if err != nil {
		return nil, err
	}
	schedule.NextFireTime = next
	schedule.CreatedAt = existing.CreatedAt
	schedule.UpdatedAt = now

	if err := s.schedules.Update(ctx, schedule); err != nil {
		if errors.Is(err, storage.ErrScheduleNotFound) {
			return nil, core.NewNotFoundError("schedule", schedule.ID)
		}
		if errors.Is(err, storage.ErrDuplicateName) {
			return nil, core.NewConflictError("schedule named %q already exists", schedule.Name)
		}
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	return schedule, nil
}

// Delete removes a schedule. Executions it already created are unaffected.
func (s *Scheduler) Delete(ctx context.Context, accountID, id string) error {
	err := s.schedules.Delete(ctx, accountID, id)
	if errors.Is(err, storage.ErrScheduleNotFound) {
		return core.NewNotFoundError("schedule", id)
	}
	return err
}

func (s *Scheduler) validate(ctx context.Context, schedule *core.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return core.NewValidationError(err.Error())
	}
	if schedule.Name == "" {
		return core.NewValidationError("schedule name is required")
	}
	if schedule.Cron != "" {
		if _, err := s.parser.Parse(schedule.Cron); err != nil {
			return core.NewValidationError(fmt.Sprintf("invalid cron expression %q: %v", schedule.Cron, err))
		}
	}
	if schedule.At != nil && schedule.At.Before(time.Now().UTC()) {
		return core.NewValidationError("one-shot fire time is in the past")
	}
	if _, err := s.playbooks.Get(ctx, schedule.AccountID, schedule.PlaybookID); err != nil {
		if errors.Is(err, storage.ErrPlaybookNotFound) {
			return core.NewNotFoundError("playbook", schedule.PlaybookID)
		}
		return fmt.Errorf("failed to resolve schedule playbook: %w", err)
	}
	return nil
}

// nextFire computes the fire time following after. A zero result means the
// schedule has no further fires and must be disabled.
func (s *Scheduler) nextFire(schedule *core.Schedule, after time.Time) (time.Time, error) {
	switch {
	case schedule.Cron != "":
		spec, err := s.parser.Parse(schedule.Cron)
		if err != nil {
			return time.Time{}, core.NewValidationError(fmt.Sprintf("invalid cron expression %q: %v", schedule.Cron, err))
		}
		return spec.Next(after).UTC(), nil
	case schedule.Interval > 0:
		return after.Add(schedule.Interval).UTC(), nil
	case schedule.At != nil:
		if schedule.At.After(after) {
			return schedule.At.UTC(), nil
		}
		return time.Time{}, nil
	default:
		return time.Time{}, core.NewValidationError("schedule has no recurrence")
	}
}

// tick fires every due schedule at most once.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		s.logger.Errorw("Failed to list due schedules", "error", err)
		return
	}

	for _, schedule := range due {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.fire(ctx, schedule, now)
	}
}

// fire consumes one due fire. The next_fire_time advance happens before the
// execution is created, so a crash between the two loses a fire rather than
// duplicating it.
func (s *Scheduler) fire(ctx context.Context, schedule *core.Schedule, now time.Time) {
	var next time.Time
	if schedule.At == nil {
		computed, err := s.nextFire(schedule, now)
		if err != nil {
			s.logger.Errorw("Failed to compute next fire time",
				"schedule_id", schedule.ID, "error", err)
			return
		}
		next = computed
	}

	advanced, err := s.schedules.AdvanceNextFire(ctx, schedule.ID, schedule.NextFireTime, next)
	if err != nil {
		s.logger.Errorw("Failed to advance schedule", "schedule_id", schedule.ID, "error", err)
		return
	}
	if !advanced {
		// Another ticker consumed this fire.
		return
	}

	exec, err := s.creator.Create(ctx, schedule.AccountID, engine.CreateRequest{
		PlaybookRef: schedule.PlaybookID,
		ScheduleID:  schedule.ID,
		Input:       schedule.Payload,
	})
	if err != nil {
		metrics.ScheduleFires.WithLabelValues(string(core.FireStatusError)).Inc()
		s.logger.Errorw("Schedule fire failed",
			"schedule_id", schedule.ID,
			"playbook_id", schedule.PlaybookID,
			"error", err)
		if recordErr := s.schedules.RecordFireResult(ctx, schedule.ID, now, core.FireStatusError, err.Error()); recordErr != nil {
			s.logger.Errorw("Failed to record fire result", "schedule_id", schedule.ID, "error", recordErr)
		}
		if s.cfg.RetryOnFailure && !next.IsZero() {
			// Re-arm the consumed fire so the next tick retries it.
			if _, rearmErr := s.schedules.AdvanceNextFire(ctx, schedule.ID, next, schedule.NextFireTime); rearmErr != nil {
				s.logger.Errorw("Failed to re-arm schedule", "schedule_id", schedule.ID, "error", rearmErr)
			}
		}
		return
	}

	metrics.ScheduleFires.WithLabelValues(string(core.FireStatusSuccess)).Inc()
	s.logger.Infow("Schedule fired",
		"schedule_id", schedule.ID,
		"execution_id", exec.ID,
		"next_fire_time", next)
	if err := s.schedules.RecordFireResult(ctx, schedule.ID, now, core.FireStatusSuccess, ""); err != nil {
		s.logger.Errorw("Failed to record fire result", "schedule_id", schedule.ID, "error", err)
	}
}
