package schedule

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"responder/core"
	"responder/engine"
	"responder/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockScheduleStorage struct {
	mu        sync.Mutex
	schedules map[string]*core.Schedule
}

func newMockScheduleStorage() *mockScheduleStorage {
	return &mockScheduleStorage{schedules: make(map[string]*core.Schedule)}
}

func (m *mockScheduleStorage) Create(_ context.Context, schedule *core.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schedules {
		if existing.AccountID == schedule.AccountID && existing.Name == schedule.Name {
			return storage.ErrDuplicateName
		}
	}
	clone := *schedule
	m.schedules[schedule.ID] = &clone
	return nil
}

func (m *mockScheduleStorage) Get(_ context.Context, accountID, id string) (*core.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedules[id]
	if !ok || sched.AccountID != accountID {
		return nil, storage.ErrScheduleNotFound
	}
	clone := *sched
	return &clone, nil
}

func (m *mockScheduleStorage) List(_ context.Context, accountID string, _, _ int) ([]*core.Schedule, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Schedule
	for _, sched := range m.schedules {
		if sched.AccountID == accountID {
			clone := *sched
			out = append(out, &clone)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockScheduleStorage) Update(_ context.Context, schedule *core.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[schedule.ID]; !ok {
		return storage.ErrScheduleNotFound
	}
	clone := *schedule
	m.schedules[schedule.ID] = &clone
	return nil
}

func (m *mockScheduleStorage) Delete(_ context.Context, accountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedules[id]
	if !ok || sched.AccountID != accountID {
		return storage.ErrScheduleNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *mockScheduleStorage) ListDue(_ context.Context, now time.Time) ([]*core.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Schedule
	for _, sched := range m.schedules {
		if sched.Enabled && !sched.NextFireTime.After(now) {
			clone := *sched
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *mockScheduleStorage) AdvanceNextFire(_ context.Context, id string, observed, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedules[id]
	if !ok {
		return false, storage.ErrScheduleNotFound
	}
	if !sched.Enabled || !sched.NextFireTime.Equal(observed) {
		return false, nil
	}
	if next.IsZero() {
		sched.Enabled = false
		return true, nil
	}
	sched.NextFireTime = next
	return true, nil
}

func (m *mockScheduleStorage) RecordFireResult(_ context.Context, id string, at time.Time, status core.FireStatus, fireErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedules[id]
	if !ok {
		return storage.ErrScheduleNotFound
	}
	t := at
	sched.LastFireTime = &t
	sched.LastFireStatus = status
	sched.LastError = fireErr
	return nil
}

type mockPlaybookStorage struct {
	playbooks map[string]*core.Playbook
}

func newMockPlaybookStorage() *mockPlaybookStorage {
	return &mockPlaybookStorage{playbooks: make(map[string]*core.Playbook)}
}

func (m *mockPlaybookStorage) Create(_ context.Context, playbook *core.Playbook) error {
	m.playbooks[playbook.ID] = playbook
	return nil
}

func (m *mockPlaybookStorage) Get(_ context.Context, accountID, ref string) (*core.Playbook, error) {
	if pb, ok := m.playbooks[ref]; ok && pb.AccountID == accountID {
		return pb, nil
	}
	return nil, storage.ErrPlaybookNotFound
}

func (m *mockPlaybookStorage) List(_ context.Context, _ string, _, _ int) ([]*core.Playbook, int64, error) {
	return nil, 0, nil
}

func (m *mockPlaybookStorage) Update(_ context.Context, playbook *core.Playbook) error {
	m.playbooks[playbook.ID] = playbook
	return nil
}

func (m *mockPlaybookStorage) Delete(_ context.Context, _, ref string) error {
	delete(m.playbooks, ref)
	return nil
}

type mockCreator struct {
	mu       sync.Mutex
	requests []engine.CreateRequest
	err      error
}

func (m *mockCreator) Create(_ context.Context, accountID string, req engine.CreateRequest) (*core.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return &core.Execution{
		ID:         "exec-" + req.ScheduleID,
		AccountID:  accountID,
		ScheduleID: req.ScheduleID,
		State:      core.ExecutionStatePending,
	}, nil
}

func (m *mockCreator) created() []engine.CreateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.CreateRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

type schedulerHarness struct {
	scheduler *Scheduler
	schedules *mockScheduleStorage
	playbooks *mockPlaybookStorage
	creator   *mockCreator
}

func newSchedulerHarness(t *testing.T, cfg Config) *schedulerHarness {
	t.Helper()
	schedules := newMockScheduleStorage()
	playbooks := newMockPlaybookStorage()
	creator := &mockCreator{}

	require.NoError(t, playbooks.Create(context.Background(), &core.Playbook{
		ID:        "pb-1",
		AccountID: "12345678",
		Name:      "containment",
		Workflow:  &core.Workflow{Steps: []core.Step{{ID: "only", Kind: core.StepKindAction, ActionType: "send_notification"}}},
	}))

	return &schedulerHarness{
		scheduler: NewScheduler(schedules, playbooks, creator, cfg, zap.NewNop().Sugar()),
		schedules: schedules,
		playbooks: playbooks,
		creator:   creator,
	}
}

func TestSchedulerCreateCron(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "nightly-sweep",
		Cron:       "0 2 * * *",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled)
	assert.False(t, created.NextFireTime.IsZero())
	assert.Equal(t, 2, created.NextFireTime.Hour())
}

func TestSchedulerCreateInvalidCron(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	_, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "broken",
		Cron:       "not a cron",
	})
	assert.True(t, core.IsValidation(err))
}

func TestSchedulerCreateRequiresOneRecurrence(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	_, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "ambiguous",
		Cron:       "0 2 * * *",
		Interval:   time.Hour,
	})
	assert.True(t, core.IsValidation(err))

	_, err = h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "empty",
	})
	assert.True(t, core.IsValidation(err))
}

func TestSchedulerCreateUnknownPlaybook(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	_, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "missing",
		Name:       "orphan",
		Interval:   time.Hour,
	})
	assert.True(t, core.IsNotFound(err))
}

func TestSchedulerCreateDuplicateName(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	sched := &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "nightly",
		Interval:   time.Hour,
	}
	_, err := h.scheduler.Create(context.Background(), sched)
	require.NoError(t, err)

	_, err = h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "nightly",
		Interval:   time.Minute,
	})
	assert.True(t, core.IsConflict(err))
}

func TestSchedulerCreateOneShotInPast(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	past := time.Now().UTC().Add(-time.Hour)
	_, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "too-late",
		At:         &past,
	})
	assert.True(t, core.IsValidation(err))
}

func TestSchedulerIntervalFireAdvances(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "hourly",
		Interval:   time.Hour,
		Payload:    json.RawMessage(`{"source": "nightly-sweep"}`),
	})
	require.NoError(t, err)

	// Make the schedule due and fire the tick directly.
	h.schedules.mu.Lock()
	h.schedules.schedules[created.ID].NextFireTime = time.Now().UTC().Add(-time.Minute)
	h.schedules.mu.Unlock()

	h.scheduler.tick()

	requests := h.creator.created()
	require.Len(t, requests, 1)
	assert.Equal(t, "pb-1", requests[0].PlaybookRef)
	assert.Equal(t, created.ID, requests[0].ScheduleID)
	assert.JSONEq(t, `{"source": "nightly-sweep"}`, string(requests[0].Input))

	after, err := h.scheduler.Get(context.Background(), "12345678", created.ID)
	require.NoError(t, err)
	assert.True(t, after.Enabled)
	assert.True(t, after.NextFireTime.After(time.Now().UTC().Add(50*time.Minute)))
	assert.Equal(t, core.FireStatusSuccess, after.LastFireStatus)
	require.NotNil(t, after.LastFireTime)

	// A second tick with nothing due fires nothing.
	h.scheduler.tick()
	assert.Len(t, h.creator.created(), 1)
}

func TestSchedulerFireConsumedOnce(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "contested",
		Interval:   time.Hour,
	})
	require.NoError(t, err)

	h.schedules.mu.Lock()
	h.schedules.schedules[created.ID].NextFireTime = time.Now().UTC().Add(-time.Minute)
	stale := *h.schedules.schedules[created.ID]
	h.schedules.mu.Unlock()

	// First fire consumes the due time; the second observes a stale
	// next_fire_time and loses the compare-and-set.
	h.scheduler.fire(context.Background(), &stale, time.Now().UTC())
	h.scheduler.fire(context.Background(), &stale, time.Now().UTC())

	assert.Len(t, h.creator.created(), 1)
}

func TestSchedulerOneShotDisablesAfterFire(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	at := time.Now().UTC().Add(time.Minute)
	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "once",
		At:         &at,
	})
	require.NoError(t, err)
	assert.True(t, created.NextFireTime.Equal(at))

	h.schedules.mu.Lock()
	h.schedules.schedules[created.ID].NextFireTime = time.Now().UTC().Add(-time.Second)
	current := *h.schedules.schedules[created.ID]
	h.schedules.mu.Unlock()

	h.scheduler.fire(context.Background(), &current, time.Now().UTC())

	assert.Len(t, h.creator.created(), 1)
	after, err := h.scheduler.Get(context.Background(), "12345678", created.ID)
	require.NoError(t, err)
	assert.False(t, after.Enabled)
}

func TestSchedulerFireFailureSkipsWithoutRetry(t *testing.T) {
	h := newSchedulerHarness(t, Config{RetryOnFailure: false})
	h.creator.err = core.NewNotFoundError("playbook", "pb-1")

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "doomed",
		Interval:   time.Hour,
	})
	require.NoError(t, err)

	h.schedules.mu.Lock()
	h.schedules.schedules[created.ID].NextFireTime = time.Now().UTC().Add(-time.Minute)
	current := *h.schedules.schedules[created.ID]
	h.schedules.mu.Unlock()

	h.scheduler.fire(context.Background(), &current, time.Now().UTC())

	// The failed fire is skipped: the schedule stays enabled and the next
	// fire time has advanced past the lost one.
	after, err := h.scheduler.Get(context.Background(), "12345678", created.ID)
	require.NoError(t, err)
	assert.True(t, after.Enabled)
	assert.True(t, after.NextFireTime.After(time.Now().UTC()))
	assert.Equal(t, core.FireStatusError, after.LastFireStatus)
	assert.Contains(t, after.LastError, "not found")
}

func TestSchedulerFireFailureReArmsWithRetry(t *testing.T) {
	h := newSchedulerHarness(t, Config{RetryOnFailure: true})
	h.creator.mu.Lock()
	h.creator.err = core.NewNotFoundError("playbook", "pb-1")
	h.creator.mu.Unlock()

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "persistent",
		Interval:   time.Hour,
	})
	require.NoError(t, err)

	h.schedules.mu.Lock()
	h.schedules.schedules[created.ID].NextFireTime = time.Now().UTC().Add(-time.Minute)
	current := *h.schedules.schedules[created.ID]
	h.schedules.mu.Unlock()

	h.scheduler.fire(context.Background(), &current, time.Now().UTC())

	// The fire is re-armed at its original due time for the next tick.
	after, err := h.scheduler.Get(context.Background(), "12345678", created.ID)
	require.NoError(t, err)
	assert.True(t, after.Enabled)
	assert.True(t, after.NextFireTime.Equal(current.NextFireTime))
	assert.Equal(t, core.FireStatusError, after.LastFireStatus)

	// Once creation recovers, the retried fire goes through.
	h.creator.mu.Lock()
	h.creator.err = nil
	h.creator.mu.Unlock()
	h.scheduler.tick()
	assert.Len(t, h.creator.created(), 1)
}

func TestSchedulerUpdateRecomputesNextFire(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "tunable",
		Interval:   time.Hour,
	})
	require.NoError(t, err)
	firstFire := created.NextFireTime

	created.Interval = 10 * time.Minute
	updated, err := h.scheduler.Update(context.Background(), created)
	require.NoError(t, err)
	assert.True(t, updated.NextFireTime.Before(firstFire))
}

func TestSchedulerDelete(t *testing.T) {
	h := newSchedulerHarness(t, Config{})

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "ephemeral",
		Interval:   time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, h.scheduler.Delete(context.Background(), "12345678", created.ID))
	_, err = h.scheduler.Get(context.Background(), "12345678", created.ID)
	assert.True(t, core.IsNotFound(err))

	err = h.scheduler.Delete(context.Background(), "12345678", created.ID)
	assert.True(t, core.IsNotFound(err))
}

func TestSchedulerStartStop(t *testing.T) {
	h := newSchedulerHarness(t, Config{TickInterval: 10 * time.Millisecond})

	created, err := h.scheduler.Create(context.Background(), &core.Schedule{
		AccountID:  "12345678",
		PlaybookID: "pb-1",
		Name:       "live",
		Interval:   time.Hour,
	})
	require.NoError(t, err)

	h.schedules.mu.Lock()
	h.schedules.schedules[created.ID].NextFireTime = time.Now().UTC().Add(-time.Minute)
	h.schedules.mu.Unlock()

	h.scheduler.Start()
	require.Eventually(t, func() bool {
		return len(h.creator.created()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	h.scheduler.Stop()
}
