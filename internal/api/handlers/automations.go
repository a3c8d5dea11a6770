package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/domain/automations"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/segments"
)

type AutomationsHandler struct {
	Service *automations.Service
	Env     string
}

func NewAutomationsHandler(service *automations.Service, env string) *AutomationsHandler {
	return &AutomationsHandler{Service: service, Env: env}
}

type automationResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	TriggerType string               `json:"trigger_type"`
	MatchMode   string               `json:"match_mode"`
	Conditions  []segments.Rule      `json:"conditions"`
	Actions     []automations.Action `json:"actions"`
	IsActive    bool                 `json:"is_active"`
	RunCount    int                  `json:"run_count"`
	LastRunAt   *time.Time           `json:"last_run_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func automationToResponse(automation *automations.Automation) automationResponse {
	return automationResponse{
		ID:          automation.ULID,
		Name:        automation.Name,
		Description: automation.Description,
		TriggerType: automation.TriggerType,
		MatchMode:   string(automation.MatchMode),
		Conditions:  automation.Conditions,
		Actions:     automation.Actions,
		IsActive:    automation.IsActive,
		RunCount:    automation.RunCount,
		LastRunAt:   automation.LastRunAt,
		CreatedAt:   automation.CreatedAt,
		UpdatedAt:   automation.UpdatedAt,
	}
}

func (h *AutomationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input automations.AutomationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	automation, err := h.Service.Create(r.Context(), input)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	respond(w, http.StatusCreated, automationToResponse(automation))
}

func (h *AutomationsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.List(r.Context())
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]automationResponse, 0, len(items))
	for i := range items {
		out = append(out, automationToResponse(&items[i]))
	}
	respond(w, http.StatusOK, out)
}

func (h *AutomationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	automation, err := h.Service.Get(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, automations.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Automation not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, automationToResponse(automation))
}

func (h *AutomationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var input automations.AutomationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	automation, err := h.Service.Update(r.Context(), ulidValue, input)
	if err != nil {
		if errors.Is(err, automations.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Automation not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	respond(w, http.StatusOK, automationToResponse(automation))
}

type automationActiveRequest struct {
	Active bool `json:"active"`
}

func (h *AutomationsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var req automationActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	automation, err := h.Service.SetActive(r.Context(), ulidValue, req.Active)
	if err != nil {
		if errors.Is(err, automations.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Automation not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, automationToResponse(automation))
}

func (h *AutomationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	if err := h.Service.Delete(r.Context(), ulidValue); err != nil {
		if errors.Is(err, automations.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Automation not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type runResponse struct {
	ID           string    `json:"id"`
	AutomationID string    `json:"automation_id"`
	LeadID       string    `json:"lead_id"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *AutomationsHandler) Runs(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request",
				errors.New("limit must be between 1 and 500"), h.Env)
			return
		}
		limit = parsed
	}

	runs, err := h.Service.Runs(r.Context(), ulidValue, limit)
	if err != nil {
		if errors.Is(err, automations.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Automation not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse{
			ID:           run.ULID,
			AutomationID: run.AutomationULID,
			LeadID:       run.LeadULID,
			Trigger:      run.Trigger,
			Status:       string(run.Status),
			Detail:       run.Detail,
			CreatedAt:    run.CreatedAt,
		})
	}
	respond(w, http.StatusOK, out)
}
