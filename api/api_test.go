package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"responder/config"
	"responder/core"
	"responder/engine"
	"responder/inquiry"
	"responder/schedule"
	"responder/storage"
	"responder/workflow"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAccount = "12345678"

type apiHarness struct {
	api    *API
	engine *engine.Engine
	cfg    *config.Config
}

func testAPIConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = 8083
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	cfg.Engine.MaxConcurrentExecutions = 4
	cfg.Engine.DefaultStepTimeout = 5 * time.Second
	cfg.Engine.RetryAttempts = 2
	cfg.Engine.RetryBackoff = 5 * time.Millisecond
	cfg.Inquiry.TTL = time.Hour
	cfg.Inquiry.SweepInterval = time.Hour
	cfg.Scheduler.TickInterval = time.Hour
	return cfg
}

func newAPIHarness(t *testing.T, cfg *config.Config) *apiHarness {
	t.Helper()
	logger := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "responder.db"), logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	playbooks := storage.NewSQLitePlaybookStorage(db, logger)
	executions := storage.NewSQLiteExecutionStorage(db, logger)
	inquiries := storage.NewSQLiteInquiryStorage(db, logger)
	schedules := storage.NewSQLiteScheduleStorage(db, logger)

	catalog := workflow.NewCatalog(workflow.BuiltinDescriptors())
	inspector, err := workflow.NewInspector(catalog, cfg.Workflow.AllowCycles, logger)
	require.NoError(t, err)
	executor := engine.NewCatalogExecutor(catalog, inspector, logger)

	eng := engine.NewEngine(executions, playbooks, inquiries, inspector, executor, engine.Config{
		MaxConcurrentExecutions: cfg.Engine.MaxConcurrentExecutions,
		DefaultStepTimeout:      cfg.Engine.DefaultStepTimeout,
		RetryAttempts:           cfg.Engine.RetryAttempts,
		RetryBackoff:            cfg.Engine.RetryBackoff,
		InquiryTTL:              cfg.Inquiry.TTL,
	}, logger)
	t.Cleanup(func() { eng.Stop(5 * time.Second) })

	manager := inquiry.NewManager(inquiries, eng, cfg.Inquiry.SweepInterval, logger)
	scheduler := schedule.NewScheduler(schedules, playbooks, eng, schedule.Config{
		TickInterval: cfg.Scheduler.TickInterval,
	}, logger)

	return &apiHarness{
		api:    NewAPI(playbooks, eng, manager, scheduler, inspector, catalog, cfg, logger),
		engine: eng,
		cfg:    cfg,
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.api.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func simpleWorkflowDoc() map[string]interface{} {
	return map[string]interface{}{
		"steps": []map[string]interface{}{
			{
				"id":          "notify",
				"kind":        "action",
				"action_type": "send_notification",
				"parameters":  map[string]interface{}{"channel": "soc", "message": "hi"},
			},
		},
	}
}

func (h *apiHarness) createPlaybook(t *testing.T, name string, doc map[string]interface{}) *core.Playbook {
	t.Helper()
	rec := h.do(t, "POST", "/v1/"+testAccount+"/playbooks", map[string]interface{}{
		"name":     name,
		"workflow": doc,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var playbook core.Playbook
	decode(t, rec, &playbook)
	return &playbook
}

func (h *apiHarness) waitForExecutionState(t *testing.T, id string, want core.ExecutionState) *core.Execution {
	t.Helper()
	var exec core.Execution
	require.Eventually(t, func() bool {
		rec := h.do(t, "GET", "/v1/"+testAccount+"/executions/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		decode(t, rec, &exec)
		return exec.State == want
	}, 5*time.Second, 10*time.Millisecond, "execution never reached %s", want)
	return &exec
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())
	rec := h.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestPlaybookCRUD(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	created := h.createPlaybook(t, "containment", simpleWorkflowDoc())
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)

	// Duplicate name within the account conflicts.
	rec := h.do(t, "POST", "/v1/"+testAccount+"/playbooks", map[string]interface{}{
		"name":     "containment",
		"workflow": simpleWorkflowDoc(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Lookup works by id and by name.
	rec = h.do(t, "GET", "/v1/"+testAccount+"/playbooks/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, "GET", "/v1/"+testAccount+"/playbooks/containment", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Other accounts cannot see it.
	rec = h.do(t, "GET", "/v1/87654321/playbooks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Update bumps the stored version.
	rec = h.do(t, "PUT", "/v1/"+testAccount+"/playbooks/"+created.ID, map[string]interface{}{
		"name":        "containment",
		"description": "isolates and notifies",
		"workflow":    simpleWorkflowDoc(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, "GET", "/v1/"+testAccount+"/playbooks/"+created.ID, nil)
	var updated core.Playbook
	decode(t, rec, &updated)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "isolates and notifies", updated.Description)

	// List pagination envelope.
	rec = h.do(t, "GET", "/v1/"+testAccount+"/playbooks?limit=10", nil)
	var page PaginationResponse
	decode(t, rec, &page)
	assert.Equal(t, int64(1), page.Total)

	rec = h.do(t, "DELETE", "/v1/"+testAccount+"/playbooks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, "GET", "/v1/"+testAccount+"/playbooks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaybookDeletePolicy(t *testing.T) {
	doc := map[string]interface{}{
		"steps": []map[string]interface{}{
			{
				"id":              "approve",
				"kind":            "inquiry",
				"prompt":          "Proceed?",
				"response_schema": map[string]interface{}{"type": "object"},
			},
		},
	}

	t.Run("block refuses while executions are active", func(t *testing.T) {
		h := newAPIHarness(t, testAPIConfig())
		playbook := h.createPlaybook(t, "gated", doc)

		rec := h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{
			"playbook_id": playbook.ID,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		var exec core.Execution
		decode(t, rec, &exec)
		h.waitForExecutionState(t, exec.ID, core.ExecutionStatePaused)

		rec = h.do(t, "DELETE", "/v1/"+testAccount+"/playbooks/"+playbook.ID, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("cascade deletes regardless of active executions", func(t *testing.T) {
		cfg := testAPIConfig()
		cfg.Engine.PlaybookDeletePolicy = config.DeletePolicyCascade
		h := newAPIHarness(t, cfg)
		playbook := h.createPlaybook(t, "gated", doc)

		rec := h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{
			"playbook_id": playbook.ID,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		var exec core.Execution
		decode(t, rec, &exec)
		h.waitForExecutionState(t, exec.ID, core.ExecutionStatePaused)

		rec = h.do(t, "DELETE", "/v1/"+testAccount+"/playbooks/"+playbook.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		// The execution keeps its workflow snapshot.
		rec = h.do(t, "GET", "/v1/"+testAccount+"/executions/"+exec.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestPlaybookRejectsInvalidWorkflow(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	rec := h.do(t, "POST", "/v1/"+testAccount+"/playbooks", map[string]interface{}{
		"name": "broken",
		"workflow": map[string]interface{}{
			"steps": []map[string]interface{}{
				{"id": "x", "kind": "action", "action_type": "no_such_action"},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	decode(t, rec, &body)
	assert.NotEmpty(t, body.Fields)
}

func TestInspectWorkflow(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	rec := h.do(t, "POST", "/v1/"+testAccount+"/workflow/inspect", map[string]interface{}{
		"input_type": "json",
		"workflow":   simpleWorkflowDoc(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp inspectResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Valid)

	// YAML document with an unknown action reports findings, not an error.
	yamlDoc := "steps:\n  - id: bad\n    kind: action\n    action_type: no_such_action\n"
	rec = h.do(t, "POST", "/v1/"+testAccount+"/workflow/inspect", map[string]interface{}{
		"input_type": "yaml",
		"workflow":   yamlDoc,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &resp)
	assert.False(t, resp.Valid)
	assert.NotEmpty(t, resp.Findings)

	rec = h.do(t, "POST", "/v1/"+testAccount+"/workflow/inspect", map[string]interface{}{
		"input_type": "toml",
		"workflow":   simpleWorkflowDoc(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionCatalogEndpoints(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	rec := h.do(t, "GET", "/v1/"+testAccount+"/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Actions []core.ActionDescriptor `json:"actions"`
	}
	decode(t, rec, &listing)
	assert.NotEmpty(t, listing.Actions)

	rec = h.do(t, "GET", "/v1/"+testAccount+"/actions/send_notification", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, "GET", "/v1/"+testAccount+"/actions/no_such_action", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchemaEndpoints(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	rec := h.do(t, "GET", "/v1/"+testAccount+"/schemas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Schemas []core.Schema `json:"schemas"`
	}
	decode(t, rec, &listing)
	assert.NotEmpty(t, listing.Schemas)

	rec = h.do(t, "GET", "/v1/"+testAccount+"/schemas/incident", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var schema core.Schema
	decode(t, rec, &schema)
	assert.Equal(t, "incident", schema.DataType)
	assert.True(t, json.Valid(schema.Document))

	rec = h.do(t, "GET", "/v1/"+testAccount+"/schemas/no_such_type", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutionLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())
	playbook := h.createPlaybook(t, "containment", simpleWorkflowDoc())

	rec := h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{
		"playbook_id": playbook.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var exec core.Execution
	decode(t, rec, &exec)
	assert.Equal(t, playbook.ID, exec.PlaybookID)

	final := h.waitForExecutionState(t, exec.ID, core.ExecutionStateCompleted)
	assert.NotNil(t, final.CompletedAt)

	rec = h.do(t, "GET", "/v1/"+testAccount+"/executions/"+exec.ID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results struct {
		Results []core.ExecutionResult `json:"results"`
	}
	decode(t, rec, &results)
	require.Len(t, results.Results, 1)
	assert.Equal(t, "notify", results.Results[0].StepID)

	// Control operations on a completed execution are conflicts.
	rec = h.do(t, "POST", "/v1/"+testAccount+"/executions/"+exec.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = h.do(t, "DELETE", "/v1/"+testAccount+"/executions/"+exec.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Re-run spawns a child pointing at the parent.
	rec = h.do(t, "POST", "/v1/"+testAccount+"/executions/"+exec.ID+"/re_run", map[string]interface{}{
		"delay": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var child core.Execution
	decode(t, rec, &child)
	assert.Equal(t, exec.ID, child.ParentExecutionID)
	h.waitForExecutionState(t, child.ID, core.ExecutionStateCompleted)

	// History query by state.
	rec = h.do(t, "POST", "/v1/"+testAccount+"/executions/history", map[string]interface{}{
		"states": []string{"completed"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Executions []core.Execution `json:"executions"`
		Total      int64            `json:"total"`
	}
	decode(t, rec, &history)
	assert.Equal(t, int64(2), history.Total)
}

func TestExecutionInlineWorkflow(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	rec := h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{
		"workflow": simpleWorkflowDoc(),
		"input":    map[string]interface{}{"alert_id": "alrt-42"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var exec core.Execution
	decode(t, rec, &exec)
	assert.Empty(t, exec.PlaybookID)
	assert.JSONEq(t, `{"alert_id": "alrt-42"}`, string(exec.Input))
	h.waitForExecutionState(t, exec.ID, core.ExecutionStateCompleted)
}

func TestExecutionValidationErrors(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	rec := h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{
		"playbook_id": "does-not-exist",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, "GET", "/v1/"+testAccount+"/executions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{
		"workflow": simpleWorkflowDoc(),
		"delay":    -5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInquiryAnswerOverHTTP(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())

	doc := map[string]interface{}{
		"steps": []map[string]interface{}{
			{
				"id":     "approve",
				"kind":   "inquiry",
				"prompt": "Approve isolation?",
				"response_schema": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"approved": map[string]interface{}{"type": "boolean"}},
					"required":   []string{"approved"},
				},
			},
			{
				"id":          "isolate",
				"kind":        "action",
				"action_type": "isolate_host",
				"parameters":  map[string]interface{}{"hostname": "web-01"},
				"depends_on":  []string{"approve"},
			},
		},
	}
	playbook := h.createPlaybook(t, "guarded", doc)

	rec := h.do(t, "POST", "/v1/"+testAccount+"/executions", map[string]interface{}{
		"playbook_id": playbook.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var exec core.Execution
	decode(t, rec, &exec)

	paused := h.waitForExecutionState(t, exec.ID, core.ExecutionStatePaused)
	assert.Equal(t, core.PauseReasonAwaitingInquiry, paused.PauseReason)

	// Find the pending inquiry through the list endpoint.
	rec = h.do(t, "GET", "/v1/"+testAccount+"/inquiries?execution_id="+exec.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []core.Inquiry `json:"items"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Items, 1)
	inquiryID := page.Items[0].ID

	// A schema-violating answer is rejected and the inquiry stays pending.
	rec = h.do(t, "PUT", "/v1/"+testAccount+"/inquiries/"+inquiryID, map[string]interface{}{
		"response": map[string]interface{}{"approved": "definitely"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, "PUT", "/v1/"+testAccount+"/inquiries/"+inquiryID, map[string]interface{}{
		"response": map[string]interface{}{"approved": true},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var answered answerResponse
	decode(t, rec, &answered)
	assert.Equal(t, inquiryID, answered.ID)
	assert.JSONEq(t, `{"approved": true}`, string(answered.Response))

	h.waitForExecutionState(t, exec.ID, core.ExecutionStateCompleted)

	// Answering again conflicts.
	rec = h.do(t, "PUT", "/v1/"+testAccount+"/inquiries/"+inquiryID, map[string]interface{}{
		"response": map[string]interface{}{"approved": false},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduleCRUDOverHTTP(t *testing.T) {
	h := newAPIHarness(t, testAPIConfig())
	playbook := h.createPlaybook(t, "scheduled", simpleWorkflowDoc())

	rec := h.do(t, "POST", "/v1/"+testAccount+"/schedules", map[string]interface{}{
		"name":        "nightly",
		"playbook_id": playbook.ID,
		"cron":        "0 2 * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created core.Schedule
	decode(t, rec, &created)
	assert.True(t, created.Enabled)
	assert.False(t, created.NextFireTime.IsZero())

	rec = h.do(t, "POST", "/v1/"+testAccount+"/schedules", map[string]interface{}{
		"name":        "broken",
		"playbook_id": playbook.ID,
		"cron":        "not a cron",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, "POST", "/v1/"+testAccount+"/schedules", map[string]interface{}{
		"name":        "nightly",
		"playbook_id": playbook.ID,
		"cron":        "0 3 * * *",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, "PUT", "/v1/"+testAccount+"/schedules/"+created.ID, map[string]interface{}{
		"name":             "nightly",
		"playbook_id":      playbook.ID,
		"interval_seconds": 3600,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated core.Schedule
	decode(t, rec, &updated)
	assert.Empty(t, updated.Cron)
	assert.Equal(t, time.Hour, updated.Interval)

	rec = h.do(t, "DELETE", "/v1/"+testAccount+"/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(t, "GET", "/v1/"+testAccount+"/schedules/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testAPIConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	h := newAPIHarness(t, cfg)

	signToken := func(account string) string {
		claims := tokenClaims{
			AccountID: account,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "analyst@example.com",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Auth.JWTSecret))
		require.NoError(t, err)
		return token
	}

	request := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/v1/"+testAccount+"/playbooks", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.api.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, request("").Code)
	assert.Equal(t, http.StatusUnauthorized, request("garbage").Code)
	assert.Equal(t, http.StatusForbidden, request(signToken("87654321")).Code)
	assert.Equal(t, http.StatusOK, request(signToken(testAccount)).Code)

	// Health stays open without a token.
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testAPIConfig()
	cfg.API.RateLimit.RequestsPerSecond = 1
	cfg.API.RateLimit.Burst = 2
	h := newAPIHarness(t, cfg)

	var last int
	for i := 0; i < 5; i++ {
		rec := h.do(t, "GET", "/health", nil)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestSanitizeErrorMessage(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"failed to open sqlite:///var/lib/responder.db", "failed to open [DATABASE_CONNECTION]"},
		{"dial tcp 10.0.0.5:443 refused", "dial tcp [PRIVATE_IP] refused"},
		{"password=supersecret rejected", "password=[REDACTED] rejected"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitizeErrorMessage(tc.in), fmt.Sprintf("input: %s", tc.in))
	}
}
