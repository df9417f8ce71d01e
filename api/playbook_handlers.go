package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"responder/config"
	"responder/core"
	"responder/storage"
	"responder/workflow"

	"github.com/google/uuid"
)

// playbookRequest is the create/update body. The workflow document is
// submitted as JSON or YAML per input_type; the stored form is always the
// parsed workflow.
type playbookRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputType   string          `json:"input_type,omitempty"`
	Workflow    json.RawMessage `json:"workflow"`
}

func (a *API) parsePlaybookRequest(w http.ResponseWriter, r *http.Request) (*core.Playbook, bool) {
	var req playbookRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return nil, false
	}
	if len(req.Workflow) > core.MaxWorkflowDocumentSize {
		writeError(w, http.StatusBadRequest, "workflow document too large", nil, a.logger)
		return nil, false
	}

	inputType := req.InputType
	if inputType == "" {
		inputType = "json"
	}
	format, err := workflow.ParseFormat(inputType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return nil, false
	}

	document := []byte(req.Workflow)
	if format == workflow.FormatYAML {
		// YAML documents arrive as a JSON string.
		var text string
		if err := json.Unmarshal(req.Workflow, &text); err != nil {
			writeError(w, http.StatusBadRequest, "yaml workflow must be a JSON string", err, a.logger)
			return nil, false
		}
		document = []byte(text)
	}

	wf, err := a.inspector.Parse(document, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return nil, false
	}

	if findings := a.inspector.InspectWorkflow(wf); len(findings) > 0 {
		fields := make([]core.FieldError, 0, len(findings))
		hasError := false
		for _, f := range findings {
			if f.Severity == core.SeverityError {
				hasError = true
				fields = append(fields, core.FieldError{Field: f.Path, Message: f.Message})
			}
		}
		if hasError {
			err := core.NewValidationError("workflow failed inspection", fields...)
			writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
			return nil, false
		}
	}

	return &core.Playbook{
		AccountID:   accountID(r),
		Name:        req.Name,
		Description: req.Description,
		Workflow:    wf,
	}, true
}

func (a *API) createPlaybook(w http.ResponseWriter, r *http.Request) {
	playbook, ok := a.parsePlaybookRequest(w, r)
	if !ok {
		return
	}
	playbook.ID = uuid.New().String()
	playbook.Version = 1
	playbook.CreatedAt = time.Now().UTC()
	playbook.UpdatedAt = playbook.CreatedAt

	if err := playbook.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	if err := a.playbooks.Create(r.Context(), playbook); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "playbook name already exists", err, a.logger)
			return
		}
		writeServiceError(w, err, a.logger)
		return
	}

	a.logger.Infow("Playbook created",
		"playbook_id", playbook.ID,
		"account_id", playbook.AccountID,
		"name", playbook.Name)
	respondJSON(w, http.StatusCreated, playbook, a.logger)
}

func (a *API) listPlaybooks(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r)
	playbooks, total, err := a.playbooks.List(r.Context(), accountID(r), params.Limit, params.CalculateOffset())
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, NewPaginationResponse(playbooks, total, params), a.logger)
}

func (a *API) getPlaybook(w http.ResponseWriter, r *http.Request) {
	playbook, err := a.playbooks.Get(r.Context(), accountID(r), pathID(r))
	if err != nil {
		if errors.Is(err, storage.ErrPlaybookNotFound) {
			writeError(w, http.StatusNotFound, "playbook not found", err, a.logger)
			return
		}
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, playbook, a.logger)
}

func (a *API) updatePlaybook(w http.ResponseWriter, r *http.Request) {
	existing, err := a.playbooks.Get(r.Context(), accountID(r), pathID(r))
	if err != nil {
		if errors.Is(err, storage.ErrPlaybookNotFound) {
			writeError(w, http.StatusNotFound, "playbook not found", err, a.logger)
			return
		}
		writeServiceError(w, err, a.logger)
		return
	}

	updated, ok := a.parsePlaybookRequest(w, r)
	if !ok {
		return
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.Version = existing.Version

	if err := updated.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	if err := a.playbooks.Update(r.Context(), updated); err != nil {
		if errors.Is(err, storage.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "playbook name already exists", err, a.logger)
			return
		}
		if errors.Is(err, storage.ErrPlaybookNotFound) {
			writeError(w, http.StatusNotFound, "playbook not found", err, a.logger)
			return
		}
		writeServiceError(w, err, a.logger)
		return
	}

	respondJSON(w, http.StatusOK, updated, a.logger)
}

// deletePlaybook removes a playbook. Deletion is blocked while any
// non-terminal execution references it; executions already created keep
// their workflow snapshot either way.
func (a *API) deletePlaybook(w http.ResponseWriter, r *http.Request) {
	playbook, err := a.playbooks.Get(r.Context(), accountID(r), pathID(r))
	if err != nil {
		if errors.Is(err, storage.ErrPlaybookNotFound) {
			writeError(w, http.StatusNotFound, "playbook not found", err, a.logger)
			return
		}
		writeServiceError(w, err, a.logger)
		return
	}

	if a.config.Engine.PlaybookDeletePolicy != config.DeletePolicyCascade {
		active, err := a.executions.CountActiveByPlaybook(r.Context(), playbook.AccountID, playbook.ID)
		if err != nil {
			writeServiceError(w, err, a.logger)
			return
		}
		if active > 0 {
			conflict := core.NewConflictError("playbook has %d active executions", active)
			writeError(w, http.StatusConflict, conflict.Error(), conflict, a.logger)
			return
		}
	}

	if err := a.playbooks.Delete(r.Context(), playbook.AccountID, playbook.ID); err != nil {
		if errors.Is(err, storage.ErrPlaybookNotFound) {
			writeError(w, http.StatusNotFound, "playbook not found", err, a.logger)
			return
		}
		writeServiceError(w, err, a.logger)
		return
	}

	a.logger.Infow("Playbook deleted",
		"playbook_id", playbook.ID,
		"account_id", playbook.AccountID)
	w.WriteHeader(http.StatusNoContent)
}
