package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/ids"
)

type AgentsHandler struct {
	Service *agents.Service
	Audit   *audit.Writer
	Env     string
}

func NewAgentsHandler(service *agents.Service, auditWriter *audit.Writer, env string) *AgentsHandler {
	return &AgentsHandler{Service: service, Audit: auditWriter, Env: env}
}

type agentResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Specializations  []string   `json:"specializations"`
	LicensedStates   []string   `json:"licensed_states"`
	City             string     `json:"city,omitempty"`
	State            string     `json:"state,omitempty"`
	Capacity         int        `json:"capacity"`
	ActiveLeads      int        `json:"active_leads"`
	PerformanceScore float64    `json:"performance_score"`
	QualityTier      string     `json:"quality_tier"`
	IsActive         bool       `json:"is_active"`
	LastAssignedAt   *time.Time `json:"last_assigned_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func agentToResponse(agent *agents.Agent) agentResponse {
	return agentResponse{
		ID:               agent.ULID,
		Name:             agent.Name,
		Email:            agent.Email,
		Specializations:  agent.Specializations,
		LicensedStates:   agent.LicensedStates,
		City:             agent.City,
		State:            agent.State,
		Capacity:         agent.Capacity,
		ActiveLeads:      agent.ActiveLeads,
		PerformanceScore: agent.PerformanceScore,
		QualityTier:      string(agent.QualityTier),
		IsActive:         agent.IsActive,
		LastAssignedAt:   agent.LastAssignedAt,
		CreatedAt:        agent.CreatedAt,
	}
}

func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := agents.Filters{
		State:          query.Get("state"),
		Specialization: query.Get("specialization"),
		ActiveOnly:     query.Get("active") == "true",
	}

	items, err := h.Service.List(r.Context(), filters)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]agentResponse, 0, len(items))
	for i := range items {
		out = append(out, agentToResponse(&items[i]))
	}
	respond(w, http.StatusOK, out)
}

func (h *AgentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	agent, err := h.Service.Get(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Agent not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, agentToResponse(agent))
}

func (h *AgentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input agents.AgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	agent, err := h.Service.Register(r.Context(), input)
	if err != nil {
		var fieldErrors validator.ValidationErrors
		switch {
		case errors.As(err, &fieldErrors):
			errs := make(map[string]interface{})
			for field, msg := range agents.ValidationErrors(err) {
				errs[field] = msg
			}
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Validation failed", err, h.Env,
				problem.WithErrors(errs))
		case errors.Is(err, agents.ErrConflict):
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Agent already exists", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		}
		return
	}

	h.Audit.Record(r.Context(), audit.AppendParams{
		ActorID:      actorString(r),
		ActorType:    actorType(r),
		Action:       audit.ActionCreate,
		ResourceType: "agent",
		ResourceID:   agent.ULID,
		Details:      map[string]string{"email": agent.Email, "client_ip": clientIP(r)},
	})

	respond(w, http.StatusCreated, agentToResponse(agent))
}

type agentActiveRequest struct {
	Active bool `json:"active"`
}

func (h *AgentsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var req agentActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	if err := h.Service.SetActive(r.Context(), ulidValue, req.Active); err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Agent not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	h.Audit.Record(r.Context(), audit.AppendParams{
		ActorID:      actorString(r),
		ActorType:    actorType(r),
		Action:       audit.ActionUpdate,
		ResourceType: "agent",
		ResourceID:   ulidValue,
		Details:      map[string]bool{"active": req.Active},
	})

	w.WriteHeader(http.StatusNoContent)
}

type agentPerformanceRequest struct {
	PerformanceScore float64 `json:"performanceScore"`
	QualityTier      string  `json:"qualityTier"`
}

func (h *AgentsHandler) UpdatePerformance(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var req agentPerformanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	err := h.Service.UpdatePerformance(r.Context(), ulidValue, req.PerformanceScore, agents.QualityTier(req.QualityTier))
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Agent not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
