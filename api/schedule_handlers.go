package api

import (
	"encoding/json"
	"net/http"
	"time"

	"responder/core"
)

// scheduleRequest is the create/update body. Exactly one of cron, interval,
// or at must be set; interval is in seconds.
type scheduleRequest struct {
	Name            string          `json:"name" validate:"required,max=256"`
	PlaybookID      string          `json:"playbook_id" validate:"required,uuid"`
	Cron            string          `json:"cron,omitempty"`
	IntervalSeconds int64           `json:"interval_seconds,omitempty" validate:"min=0"`
	At              *time.Time      `json:"at,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (s *scheduleRequest) toSchedule(account string) *core.Schedule {
	return &core.Schedule{
		AccountID:  account,
		Name:       s.Name,
		PlaybookID: s.PlaybookID,
		Cron:       s.Cron,
		Interval:   time.Duration(s.IntervalSeconds) * time.Second,
		At:         s.At,
		Payload:    s.Payload,
	}
}

func (a *API) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err, a.logger)
		return
	}

	created, err := a.schedules.Create(r.Context(), req.toSchedule(accountID(r)))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusCreated, created, a.logger)
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	params := ParsePaginationParams(r)
	schedules, total, err := a.schedules.List(r.Context(), accountID(r), params.Limit, params.CalculateOffset())
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, NewPaginationResponse(schedules, total, params), a.logger)
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	schedule, err := a.schedules.Get(r.Context(), accountID(r), pathID(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, schedule, a.logger)
}

func (a *API) updateSchedule(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	var req scheduleRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err, a.logger)
		return
	}

	schedule := req.toSchedule(accountID(r))
	schedule.ID = pathID(r)
	updated, err := a.schedules.Update(r.Context(), schedule)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, updated, a.logger)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := validateUUID(pathID(r)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	if err := a.schedules.Delete(r.Context(), accountID(r), pathID(r)); err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
