package api

import (
	"encoding/json"
	"net/http"
	"time"

	"responder/core"
)

// answerRequest is the PUT body for answering an inquiry.
type answerRequest struct {
	Response json.RawMessage `json:"response"`
}

// answerResponse echoes the inquiry id with the accepted response.
type answerResponse struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response"`
}

// inquiryHistoryRequest is the POST history filter body.
type inquiryHistoryRequest struct {
	States      []core.InquiryState `json:"states,omitempty"`
	ExecutionID string              `json:"execution_id,omitempty"`
	Since       *time.Time          `json:"since,omitempty"`
	Until       *time.Time          `json:"until,omitempty"`
	Limit       int                 `json:"limit,omitempty"`
	Offset      int                 `json:"offset,omitempty"`
}

func (a *API) getInquiry(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	inquiry, err := a.inquiries.Get(r.Context(), accountID(r), pathID(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, inquiry, a.logger)
}

func (a *API) listInquiries(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r)
	filter := &core.InquiryFilter{
		Limit:  params.Limit,
		Offset: params.CalculateOffset(),
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filter.States = []core.InquiryState{core.InquiryState(state)}
	}
	if executionID := r.URL.Query().Get("execution_id"); executionID != "" {
		filter.ExecutionID = executionID
	}

	inquiries, total, err := a.inquiries.List(r.Context(), accountID(r), filter)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, NewPaginationResponse(inquiries, total, params), a.logger)
}

func (a *API) queryInquiries(w http.ResponseWriter, r *http.Request) {
	var req inquiryHistoryRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
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

	filter := &core.InquiryFilter{
		States:      req.States,
		ExecutionID: req.ExecutionID,
		Since:       req.Since,
		Until:       req.Until,
		Limit:       limit,
		Offset:      offset,
	}
	inquiries, total, err := a.inquiries.List(r.Context(), accountID(r), filter)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"inquiries": inquiries,
		"total":     total,
	}, a.logger)
}

// answerInquiry records a schema-validated answer and resumes the owning
// execution. The response echoes {id, response} on success.
func (a *API) answerInquiry(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	var req answerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	answered, err := a.inquiries.Answer(r.Context(), accountID(r), pathID(r),
		req.Response, a.callerIdentity(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, answerResponse{
		ID:       answered.ID,
		Response: answered.Response,
	}, a.logger)
}
