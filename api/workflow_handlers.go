package api

import (
	"encoding/json"
	"net/http"

	"responder/core"
	"responder/workflow"

	"github.com/gorilla/mux"
)

// inspectRequest carries a workflow document for validation without storing
// or running it.
type inspectRequest struct {
	InputType string          `json:"input_type"`
	Workflow  json.RawMessage `json:"workflow"`
}

// inspectResponse reports every finding; valid is false when any finding has
// error severity.
type inspectResponse struct {
	Valid    bool                  `json:"valid"`
	Findings []core.InspectorError `json:"findings"`
}

func (a *API) inspectWorkflow(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if len(req.Workflow) == 0 {
		writeError(w, http.StatusBadRequest, "workflow is required", nil, a.logger)
		return
	}
	if len(req.Workflow) > core.MaxWorkflowDocumentSize {
		writeError(w, http.StatusBadRequest, "workflow document too large", nil, a.logger)
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

	findings, err := a.inspector.Inspect(document, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if findings == nil {
		findings = []core.InspectorError{}
	}

	valid := true
	for _, f := range findings {
		if f.Severity == core.SeverityError {
			valid = false
			break
		}
	}
	respondJSON(w, http.StatusOK, inspectResponse{Valid: valid, Findings: findings}, a.logger)
}

func (a *API) listActions(w http.ResponseWriter, r *http.Request) {
	descriptors := a.catalog.List(r.URL.Query().Get("payload_type"))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"actions": descriptors,
		"version": a.catalog.Version(),
	}, a.logger)
}

func (a *API) getAction(w http.ResponseWriter, r *http.Request) {
	actionType := mux.Vars(r)["action_type"]
	descriptor, ok := a.catalog.Get(actionType)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action type: "+actionType, nil, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, descriptor, a.logger)
}

func (a *API) listSchemas(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"schemas": workflow.BuiltinSchemas(),
	}, a.logger)
}

func (a *API) getSchema(w http.ResponseWriter, r *http.Request) {
	dataType := mux.Vars(r)["data_type"]
	for _, schema := range workflow.BuiltinSchemas() {
		if schema.DataType == dataType {
			respondJSON(w, http.StatusOK, schema, a.logger)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown data type: "+dataType, nil, a.logger)
}
