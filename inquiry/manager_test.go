package inquiry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"responder/core"
	"responder/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockInquiryStorage struct {
	mu        sync.Mutex
	inquiries map[string]*core.Inquiry
}

func newMockInquiryStorage() *mockInquiryStorage {
	return &mockInquiryStorage{inquiries: make(map[string]*core.Inquiry)}
}

func (m *mockInquiryStorage) add(inq *core.Inquiry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *inq
	m.inquiries[inq.ID] = &clone
}

func (m *mockInquiryStorage) CreateAndPause(_ context.Context, inquiry *core.Inquiry) error {
	m.add(inquiry)
	return nil
}

func (m *mockInquiryStorage) Get(_ context.Context, accountID, id string) (*core.Inquiry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inq, ok := m.inquiries[id]
	if !ok || inq.AccountID != accountID {
		return nil, storage.ErrInquiryNotFound
	}
	clone := *inq
	return &clone, nil
}

func (m *mockInquiryStorage) List(_ context.Context, accountID string, _ *core.InquiryFilter) ([]*core.Inquiry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Inquiry
	for _, inq := range m.inquiries {
		if inq.AccountID == accountID {
			clone := *inq
			out = append(out, &clone)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockInquiryStorage) Answer(_ context.Context, accountID, id string, response []byte, answeredBy string) (*core.Inquiry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inq, ok := m.inquiries[id]
	if !ok || inq.AccountID != accountID {
		return nil, storage.ErrInquiryNotFound
	}
	if inq.State != core.InquiryStatePending {
		return nil, storage.ErrInquiryNotPending
	}
	now := time.Now().UTC()
	inq.State = core.InquiryStateAnswered
	inq.Response = json.RawMessage(response)
	inq.AnsweredAt = &now
	inq.AnsweredBy = answeredBy
	clone := *inq
	return &clone, nil
}

func (m *mockInquiryStorage) ExpireDue(_ context.Context, now time.Time) ([]*core.Inquiry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Inquiry
	for _, inq := range m.inquiries {
		if inq.State == core.InquiryStatePending && inq.ExpiresAt != nil && !inq.ExpiresAt.After(now) {
			inq.State = core.InquiryStateExpired
			clone := *inq
			out = append(out, &clone)
		}
	}
	return out, nil
}

// mockController records engine calls and answers through the storage mock,
// mirroring the real engine's behavior.
type mockController struct {
	mu         sync.Mutex
	store      *mockInquiryStorage
	resumeErr  error
	resumed    []string
	expired    []string
	expirySeen chan string
}

func newMockController(store *mockInquiryStorage) *mockController {
	return &mockController{store: store, expirySeen: make(chan string, 16)}
}

func (m *mockController) ResumeWithAnswer(ctx context.Context, inquiry *core.Inquiry, response []byte, answeredBy string) (*core.Inquiry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumeErr != nil {
		return nil, m.resumeErr
	}
	m.resumed = append(m.resumed, inquiry.ID)
	return m.store.Answer(ctx, inquiry.AccountID, inquiry.ID, response, answeredBy)
}

func (m *mockController) HandleInquiryExpiry(_ context.Context, inquiry *core.Inquiry) {
	m.mu.Lock()
	m.expired = append(m.expired, inquiry.ID)
	m.mu.Unlock()
	m.expirySeen <- inquiry.ID
}

func newTestManager(t *testing.T, sweepInterval time.Duration) (*Manager, *mockInquiryStorage, *mockController) {
	t.Helper()
	store := newMockInquiryStorage()
	controller := newMockController(store)
	manager := NewManager(store, controller, sweepInterval, zap.NewNop().Sugar())
	return manager, store, controller
}

func pendingInquiry(id string) *core.Inquiry {
	return &core.Inquiry{
		ID:          id,
		AccountID:   "12345678",
		ExecutionID: "exec-1",
		StepID:      "approve",
		Prompt:      "Proceed?",
		State:       core.InquiryStatePending,
		ResponseSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"approved": {"type": "boolean"}},
			"required": ["approved"]
		}`),
		CreatedAt: time.Now().UTC(),
	}
}

func TestManagerAnswerValidResponse(t *testing.T) {
	manager, store, controller := newTestManager(t, time.Hour)
	store.add(pendingInquiry("inq-1"))

	answered, err := manager.Answer(context.Background(), "12345678", "inq-1",
		json.RawMessage(`{"approved": true}`), "analyst@example.com")
	require.NoError(t, err)
	assert.Equal(t, core.InquiryStateAnswered, answered.State)
	assert.JSONEq(t, `{"approved": true}`, string(answered.Response))
	assert.Equal(t, "analyst@example.com", answered.AnsweredBy)
	assert.Equal(t, []string{"inq-1"}, controller.resumed)
}

func TestManagerAnswerSchemaViolation(t *testing.T) {
	manager, store, controller := newTestManager(t, time.Hour)
	store.add(pendingInquiry("inq-1"))

	_, err := manager.Answer(context.Background(), "12345678", "inq-1",
		json.RawMessage(`{"approved": "yes"}`), "analyst")
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Empty(t, controller.resumed, "invalid answer must not touch the execution")

	// The inquiry stays pending and accepts a corrected answer.
	inq, err := store.Get(context.Background(), "12345678", "inq-1")
	require.NoError(t, err)
	assert.Equal(t, core.InquiryStatePending, inq.State)

	_, err = manager.Answer(context.Background(), "12345678", "inq-1",
		json.RawMessage(`{"approved": false}`), "analyst")
	assert.NoError(t, err)
}

func TestManagerAnswerMissingRequiredField(t *testing.T) {
	manager, store, _ := newTestManager(t, time.Hour)
	store.add(pendingInquiry("inq-1"))

	_, err := manager.Answer(context.Background(), "12345678", "inq-1",
		json.RawMessage(`{}`), "analyst")
	require.Error(t, err)
	var validationErr *core.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.NotEmpty(t, validationErr.Errors)
}

func TestManagerAnswerWithoutSchema(t *testing.T) {
	manager, store, _ := newTestManager(t, time.Hour)
	inq := pendingInquiry("inq-1")
	inq.ResponseSchema = nil
	store.add(inq)

	_, err := manager.Answer(context.Background(), "12345678", "inq-1",
		json.RawMessage(`{"anything": "goes"}`), "analyst")
	assert.NoError(t, err)

	inq2 := pendingInquiry("inq-2")
	inq2.ResponseSchema = nil
	store.add(inq2)
	_, err = manager.Answer(context.Background(), "12345678", "inq-2",
		json.RawMessage(`not json`), "analyst")
	assert.True(t, core.IsValidation(err))
}

func TestManagerAnswerNotPending(t *testing.T) {
	manager, store, _ := newTestManager(t, time.Hour)
	inq := pendingInquiry("inq-1")
	inq.State = core.InquiryStateAnswered
	store.add(inq)

	_, err := manager.Answer(context.Background(), "12345678", "inq-1",
		json.RawMessage(`{"approved": true}`), "analyst")
	assert.True(t, core.IsInvalidState(err))
}

func TestManagerAnswerNotFound(t *testing.T) {
	manager, _, _ := newTestManager(t, time.Hour)

	_, err := manager.Answer(context.Background(), "12345678", "missing",
		json.RawMessage(`{}`), "analyst")
	assert.True(t, core.IsNotFound(err))
}

func TestManagerAnswerWrongAccount(t *testing.T) {
	manager, store, _ := newTestManager(t, time.Hour)
	store.add(pendingInquiry("inq-1"))

	_, err := manager.Answer(context.Background(), "99999999", "inq-1",
		json.RawMessage(`{"approved": true}`), "analyst")
	assert.True(t, core.IsNotFound(err))
}

func TestManagerExpirySweep(t *testing.T) {
	manager, store, controller := newTestManager(t, 20*time.Millisecond)

	due := pendingInquiry("inq-due")
	past := time.Now().UTC().Add(-time.Minute)
	due.ExpiresAt = &past
	store.add(due)

	fresh := pendingInquiry("inq-fresh")
	fresh.ID = "inq-fresh"
	future := time.Now().UTC().Add(time.Hour)
	fresh.ExpiresAt = &future
	store.add(fresh)

	manager.Start()
	defer manager.Stop()

	select {
	case id := <-controller.expirySeen:
		assert.Equal(t, "inq-due", id)
	case <-time.After(5 * time.Second):
		t.Fatal("expiry sweep never fired")
	}

	got, err := store.Get(context.Background(), "12345678", "inq-due")
	require.NoError(t, err)
	assert.Equal(t, core.InquiryStateExpired, got.State)

	got, err = store.Get(context.Background(), "12345678", "inq-fresh")
	require.NoError(t, err)
	assert.Equal(t, core.InquiryStatePending, got.State)
}
