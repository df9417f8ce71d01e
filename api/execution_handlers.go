package api

import (
	"encoding/json"
	"net/http"
	"time"

	"responder/core"
	"responder/engine"
	"responder/workflow"
)

// createExecutionRequest starts a run of a stored playbook, or of an inline
// workflow document when playbook_id is absent. delay is milliseconds.
type createExecutionRequest struct {
	PlaybookID string          `json:"playbook_id,omitempty"`
	InputType  string          `json:"input_type,omitempty"`
	Workflow   json.RawMessage `json:"workflow,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Delay      int64           `json:"delay,omitempty"`
}

// reRunRequest carries the optional start delay in milliseconds.
type reRunRequest struct {
	Delay int64 `json:"delay,omitempty"`
}

// executionHistoryRequest is the POST history filter body.
type executionHistoryRequest struct {
	States     []core.ExecutionState `json:"states,omitempty"`
	PlaybookID string                `json:"playbook_id,omitempty"`
	ScheduleID string                `json:"schedule_id,omitempty"`
	Since      *time.Time            `json:"since,omitempty"`
	Until      *time.Time            `json:"until,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
	Offset     int                   `json:"offset,omitempty"`
}

func (a *API) createExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if req.Delay < 0 {
		writeError(w, http.StatusBadRequest, "delay must not be negative", nil, a.logger)
		return
	}

	createReq := engine.CreateRequest{
		PlaybookRef: req.PlaybookID,
		Input:       req.Input,
		Delay:       time.Duration(req.Delay) * time.Millisecond,
	}

	if req.PlaybookID == "" {
		if len(req.Workflow) == 0 {
			writeError(w, http.StatusBadRequest, "playbook_id or workflow is required", nil, a.logger)
			return
		}
		inputType := req.InputType
		if inputType == "" {
			inputType = "json"
		}
		format, err := workflow.ParseFormat(inputType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
			return
		}
		document := []byte(req.Workflow)
		if format == workflow.FormatYAML {
			var text string
			if err := json.Unmarshal(req.Workflow, &text); err != nil {
				writeError(w, http.StatusBadRequest, "yaml workflow must be a JSON string", err, a.logger)
				return
			}
			document = []byte(text)
		}
		wf, err := a.inspector.Parse(document, format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
			return
		}
		createReq.Workflow = wf
	}

	execution, err := a.executions.Create(r.Context(), accountID(r), createReq)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusCreated, execution, a.logger)
}

func (a *API) listExecutions(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r)
	filter := &core.ExecutionFilter{
		Limit:  params.Limit,
		Offset: params.CalculateOffset(),
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filter.States = []core.ExecutionState{core.ExecutionState(state)}
	}
	if playbookID := r.URL.Query().Get("playbook_id"); playbookID != "" {
		filter.PlaybookID = playbookID
	}

	executions, total, err := a.executions.List(r.Context(), accountID(r), filter)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, NewPaginationResponse(executions, total, params), a.logger)
}

// queryExecutions is the history endpoint: the filter arrives in the body so
// complex queries do not have to squeeze into a query string.
func (a *API) queryExecutions(w http.ResponseWriter, r *http.Request) {
	var req executionHistoryRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	for _, state := range req.States {
		if !state.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown execution state: "+string(state), nil, a.logger)
			return
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = core.DefaultPageLimit
	}
	if limit > core.MaxPageLimit {
		limit = core.MaxPageLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	filter := &core.ExecutionFilter{
		States:     req.States,
		PlaybookID: req.PlaybookID,
		ScheduleID: req.ScheduleID,
		Since:      req.Since,
		Until:      req.Until,
		Limit:      limit,
		Offset:     offset,
	}
	executions, total, err := a.executions.List(r.Context(), accountID(r), filter)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"total":      total,
	}, a.logger)
}

func (a *API) getExecution(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	execution, err := a.executions.Get(r.Context(), accountID(r), pathID(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, execution, a.logger)
}

func (a *API) getExecutionResults(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	results, err := a.executions.Results(r.Context(), accountID(r), pathID(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	if results == nil {
		results = []*core.ExecutionResult{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results}, a.logger)
}

func (a *API) pauseExecution(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if err := a.executions.Pause(r.Context(), accountID(r), pathID(r)); err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resumeExecution(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if err := a.executions.Resume(r.Context(), accountID(r), pathID(r)); err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) cancelExecution(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if err := a.executions.Cancel(r.Context(), accountID(r), pathID(r)); err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) reRunExecution(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	var req reRunRequest
	if r.ContentLength > 0 {
		if err := decodeJSONBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
			return
		}
	}
	if req.Delay < 0 {
		writeError(w, http.StatusBadRequest, "delay must not be negative", nil, a.logger)
		return
	}

	child, err := a.executions.ReRun(r.Context(), accountID(r), pathID(r),
		time.Duration(req.Delay)*time.Millisecond)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusCreated, child, a.logger)
}
