package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/coverline/server/internal/api/middleware"
	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/metrics"
)

type LeadsHandler struct {
	Service *leads.Service
	Ingest  *leads.IngestService
	Audit   *audit.Writer
	Env     string
}

func NewLeadsHandler(service *leads.Service, ingest *leads.IngestService, auditWriter *audit.Writer, env string) *LeadsHandler {
	return &LeadsHandler{Service: service, Ingest: ingest, Audit: auditWriter, Env: env}
}

type leadResponse struct {
	ID            string     `json:"id"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	Company       string     `json:"company,omitempty"`
	JobTitle      string     `json:"job_title,omitempty"`
	InsuranceType string     `json:"insurance_type"`
	ValueEstimate float64    `json:"value_estimate"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	Source        string     `json:"source"`
	Campaign      string     `json:"campaign,omitempty"`
	AssigneeID    *string    `json:"assignee_id,omitempty"`
	Address       string     `json:"address,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state,omitempty"`
	ZipCode       string     `json:"zip_code,omitempty"`
	Country       string     `json:"country,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	FollowUpOn    *time.Time `json:"follow_up_on,omitempty"`
	NeedsReview   bool       `json:"needs_review"`
	Duplicate     bool       `json:"duplicate,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func leadToResponse(lead *leads.Lead) leadResponse {
	return leadResponse{
		ID:            lead.ULID,
		FirstName:     lead.FirstName,
		LastName:      lead.LastName,
		Email:         lead.Email,
		Phone:         lead.Phone,
		Company:       lead.Company,
		JobTitle:      lead.JobTitle,
		InsuranceType: lead.InsuranceType,
		ValueEstimate: lead.ValueEstimate,
		Status:        string(lead.Status),
		Priority:      string(lead.Priority),
		Source:        lead.Source,
		Campaign:      lead.Campaign,
		AssigneeID:    lead.AssigneeID,
		Address:       lead.AddressLine,
		City:          lead.City,
		State:         lead.State,
		ZipCode:       lead.ZipCode,
		Country:       lead.Country,
		Tags:          lead.Tags,
		FollowUpOn:    lead.FollowUpOn,
		NeedsReview:   lead.NeedsReview,
		CreatedAt:     lead.CreatedAt,
		UpdatedAt:     lead.UpdatedAt,
	}
}

func (h *LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters, pagination, err := leads.ParseFilters(r.URL.Query())
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	result, err := h.Service.List(r.Context(), filters, pagination)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	items := make([]leadResponse, 0, len(result.Leads))
	for i := range result.Leads {
		items = append(items, leadToResponse(&result.Leads[i]))
	}
	respondPage(w, http.StatusOK, items, result.NextCursor, pagination.Limit)
}

func (h *LeadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	lead, err := h.Service.GetByULID(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, leadToResponse(lead))
}

// Create ingests a lead. Duplicates resolve to the existing record with a
// 409 and duplicate=true rather than an error body, so form vendors can
// treat the submission as accepted.
func (h *LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input leads.LeadInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	result, err := h.Ingest.IngestWithIdempotency(r.Context(), input, middleware.IdempotencyKey(r))
	if err != nil {
		var fieldErrors validator.ValidationErrors
		switch {
		case errors.As(err, &fieldErrors):
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Validation failed", err, h.Env,
				problem.WithErrors(leads.ValidationErrors(err)))
		case errors.Is(err, leads.ErrConflict):
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Idempotency key conflict", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		}
		return
	}

	payload := leadToResponse(result.Lead)
	payload.Duplicate = result.IsDuplicate

	status := http.StatusCreated
	metrics.LeadsIngested.WithLabelValues(result.Lead.Source, strconv.FormatBool(result.IsDuplicate)).Inc()
	if result.IsDuplicate {
		status = http.StatusConflict
	} else {
		h.Audit.Record(r.Context(), audit.AppendParams{
			ActorID:      actorString(r),
			ActorType:    actorType(r),
			Action:       audit.ActionCreate,
			ResourceType: "lead",
			ResourceID:   result.Lead.ULID,
			Details:      map[string]string{"source": result.Lead.Source, "client_ip": clientIP(r)},
		})
	}

	respond(w, status, payload)
}

func (h *LeadsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var input leads.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	lead, err := h.Service.Update(r.Context(), ulidValue, input, actorID(r))
	if err != nil {
		var fieldErrors validator.ValidationErrors
		switch {
		case errors.As(err, &fieldErrors):
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Validation failed", err, h.Env,
				problem.WithErrors(leads.ValidationErrors(err)))
		case errors.Is(err, leads.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		}
		return
	}

	h.Audit.Record(r.Context(), audit.AppendParams{
		ActorID:      actorString(r),
		ActorType:    actorType(r),
		Action:       audit.ActionUpdate,
		ResourceType: "lead",
		ResourceID:   lead.ULID,
		Details:      map[string]string{"client_ip": clientIP(r)},
	})

	respond(w, http.StatusOK, leadToResponse(lead))
}

func (h *LeadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	if err := h.Service.Delete(r.Context(), ulidValue, actorID(r)); err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	h.Audit.Record(r.Context(), audit.AppendParams{
		ActorID:      actorString(r),
		ActorType:    actorType(r),
		Action:       audit.ActionDelete,
		ResourceType: "lead",
		ResourceID:   ulidValue,
		Details:      map[string]string{"client_ip": clientIP(r)},
	})

	w.WriteHeader(http.StatusNoContent)
}

type statusChangeRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *LeadsHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var req statusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	before, err := h.Service.GetByULID(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	lead, err := h.Service.ChangeStatus(r.Context(), ulidValue, leads.Status(req.Status), actorID(r), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, leads.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
		case errors.Is(err, leads.ErrInvalidTransition):
			problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Invalid status transition", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		}
		return
	}

	metrics.LeadStatusTransitions.WithLabelValues(string(before.Status), string(lead.Status)).Inc()
	h.Audit.Record(r.Context(), audit.AppendParams{
		ActorID:      actorString(r),
		ActorType:    actorType(r),
		Action:       audit.ActionStatusSet,
		ResourceType: "lead",
		ResourceID:   lead.ULID,
		Details:      map[string]string{"status": string(lead.Status), "reason": req.Reason, "client_ip": clientIP(r)},
	})

	respond(w, http.StatusOK, leadToResponse(lead))
}

func actorType(r *http.Request) string {
	if middleware.PartnerKey(r) != nil {
		return audit.ActorAPIKey
	}
	if middleware.Claims(r) != nil {
		return audit.ActorUser
	}
	return audit.ActorSystem
}
