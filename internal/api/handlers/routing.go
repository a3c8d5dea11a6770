package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/routing"
	"github.com/coverline/server/internal/metrics"
)

type RoutingHandler struct {
	Router *routing.Service
	Audit  *audit.Writer
	Env    string
}

func NewRoutingHandler(router *routing.Service, auditWriter *audit.Writer, env string) *RoutingHandler {
	return &RoutingHandler{Router: router, Audit: auditWriter, Env: env}
}

type scoredAgentResponse struct {
	Agent   agentResponse   `json:"agent"`
	Score   float64         `json:"score"`
	Factors routing.Factors `json:"factors"`
}

type decisionResponse struct {
	Lead     string                `json:"lead_id"`
	Assigned *scoredAgentResponse  `json:"assigned,omitempty"`
	Ranked   []scoredAgentResponse `json:"ranked"`
	Strategy string                `json:"strategy"`
	Reason   string                `json:"reason,omitempty"`
}

func decisionToResponse(decision *routing.Decision) decisionResponse {
	out := decisionResponse{
		Lead:     decision.Lead.ULID,
		Strategy: string(decision.Strategy),
		Reason:   decision.Reason,
		Ranked:   make([]scoredAgentResponse, 0, len(decision.Ranked)),
	}
	for i := range decision.Ranked {
		out.Ranked = append(out.Ranked, toScoredAgent(&decision.Ranked[i]))
	}
	if decision.Assigned != nil {
		assigned := toScoredAgent(decision.Assigned)
		out.Assigned = &assigned
	}
	return out
}

func toScoredAgent(scored *routing.ScoredAgent) scoredAgentResponse {
	agent := scored.Agent
	return scoredAgentResponse{
		Agent:   agentToResponse(&agent),
		Score:   scored.Score,
		Factors: scored.Factors,
	}
}

// Rank scores eligible agents for a lead without assigning.
func (h *RoutingHandler) Rank(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	decision, err := h.Router.Rank(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, decisionToResponse(decision))
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
}

// Assign routes a lead: with an explicit agent_id it reassigns to that
// agent, otherwise the configured strategy picks one.
func (h *RoutingHandler) Assign(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var req assignRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
			return
		}
	}

	actor := actorID(r)

	if req.AgentID != "" {
		if err := ids.ValidateULID(req.AgentID); err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid agent id", err, h.Env)
			return
		}

		assignment, err := h.Router.Reassign(r.Context(), ulidValue, req.AgentID, actor)
		if err != nil {
			h.writeRoutingError(w, r, err)
			return
		}

		h.recordAssignAudit(r, ulidValue, assignment.AgentULID, "manual")
		respond(w, http.StatusOK, assignmentToResponse(assignment))
		return
	}

	decision, err := h.Router.Assign(r.Context(), ulidValue, actor)
	if err != nil {
		h.writeRoutingError(w, r, err)
		return
	}

	outcome := routing.ReasonNoEligibleAgents
	if decision.Assigned != nil {
		outcome = "assigned"
		h.recordAssignAudit(r, ulidValue, decision.Assigned.Agent.ULID, string(decision.Strategy))
	}
	metrics.LeadsAssigned.WithLabelValues(string(decision.Strategy), outcome).Inc()

	respond(w, http.StatusOK, decisionToResponse(decision))
}

func (h *RoutingHandler) writeRoutingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, leads.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
	case errors.Is(err, agents.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Agent not found", err, h.Env)
	case errors.Is(err, routing.ErrAlreadyAssigned):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Lead already assigned", err, h.Env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
	}
}

func (h *RoutingHandler) recordAssignAudit(r *http.Request, leadULID, agentULID, strategy string) {
	h.Audit.Record(r.Context(), audit.AppendParams{
		ActorID:      actorString(r),
		ActorType:    actorType(r),
		Action:       audit.ActionAssign,
		ResourceType: "lead",
		ResourceID:   leadULID,
		Details: map[string]string{
			"agent_id":  agentULID,
			"strategy":  strategy,
			"client_ip": clientIP(r),
		},
	})
}

type assignmentResponse struct {
	ID         string          `json:"id"`
	LeadID     string          `json:"lead_id"`
	AgentID    string          `json:"agent_id"`
	Strategy   string          `json:"strategy"`
	Score      float64         `json:"score"`
	Factors    json.RawMessage `json:"factors,omitempty"`
	AssignedBy string          `json:"assigned_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

func assignmentToResponse(assignment *routing.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:         assignment.ULID,
		LeadID:     assignment.LeadULID,
		AgentID:    assignment.AgentULID,
		Strategy:   assignment.Strategy,
		Score:      assignment.Score,
		Factors:    assignment.Factors,
		AssignedBy: assignment.AssignedBy,
		CreatedAt:  assignment.CreatedAt,
	}
}

// History lists a lead's assignment history, oldest first.
func (h *RoutingHandler) History(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	history, err := h.Router.History(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]assignmentResponse, 0, len(history))
	for i := range history {
		out = append(out, assignmentToResponse(&history[i]))
	}
	respond(w, http.StatusOK, out)
}
