package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/breaker"
	"github.com/coverline/server/internal/carriers"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/metrics"
)

type CarriersHandler struct {
	Service *carriers.Service
	Audit   *audit.Writer
	Env     string
}

func NewCarriersHandler(service *carriers.Service, auditWriter *audit.Writer, env string) *CarriersHandler {
	return &CarriersHandler{Service: service, Audit: auditWriter, Env: env}
}

type carrierResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	BaseURL        string    `json:"base_url"`
	InsuranceTypes []string  `json:"insurance_types"`
	IsActive       bool      `json:"is_active"`
	BreakerState   string    `json:"breaker_state,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *CarriersHandler) carrierToResponse(carrier *carriers.Carrier) carrierResponse {
	out := carrierResponse{
		ID:             carrier.ULID,
		Name:           carrier.Name,
		Slug:           carrier.Slug,
		BaseURL:        carrier.BaseURL,
		InsuranceTypes: carrier.InsuranceTypes,
		IsActive:       carrier.IsActive,
		CreatedAt:      carrier.CreatedAt,
	}
	for _, snap := range h.Service.BreakerStatus() {
		if snap.Name == carrier.Slug {
			out.BreakerState = snap.State
			break
		}
	}
	return out
}

func (h *CarriersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input carriers.CarrierInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	carrier, err := h.Service.Register(r.Context(), input)
	if err != nil {
		if errors.Is(err, carriers.ErrConflict) {
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Carrier slug already in use", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	h.Audit.Record(r.Context(), audit.AppendParams{
		ActorID:      actorString(r),
		ActorType:    actorType(r),
		Action:       audit.ActionCreate,
		ResourceType: "carrier",
		ResourceID:   carrier.Slug,
	})

	respond(w, http.StatusCreated, h.carrierToResponse(carrier))
}

func (h *CarriersHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	items, err := h.Service.List(r.Context(), activeOnly)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]carrierResponse, 0, len(items))
	for i := range items {
		out = append(out, h.carrierToResponse(&items[i]))
	}
	respond(w, http.StatusOK, out)
}

func (h *CarriersHandler) Get(w http.ResponseWriter, r *http.Request) {
	carrier, err := h.Service.Get(r.Context(), pathParam(r, "slug"))
	if err != nil {
		if errors.Is(err, carriers.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Carrier not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, h.carrierToResponse(carrier))
}

type carrierUpdateRequest struct {
	Name           *string  `json:"name"`
	BaseURL        *string  `json:"baseUrl"`
	APIKey         *string  `json:"apiKey"`
	InsuranceTypes []string `json:"insuranceTypes"`
	IsActive       *bool    `json:"isActive"`
}

func (h *CarriersHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req carrierUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	carrier, err := h.Service.Update(r.Context(), pathParam(r, "slug"), carriers.UpdateParams{
		Name:           req.Name,
		BaseURL:        req.BaseURL,
		APIKey:         req.APIKey,
		InsuranceTypes: req.InsuranceTypes,
		IsActive:       req.IsActive,
	})
	if err != nil {
		if errors.Is(err, carriers.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Carrier not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	respond(w, http.StatusOK, h.carrierToResponse(carrier))
}

func (h *CarriersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), pathParam(r, "slug")); err != nil {
		if errors.Is(err, carriers.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Carrier not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type quoteRequestBody struct {
	LeadID string `json:"lead_id"`
}

// Quote forwards one lead to one carrier. An open circuit breaker maps to
// 503 with a Retry-After hint.
func (h *CarriersHandler) Quote(w http.ResponseWriter, r *http.Request) {
	slug := pathParam(r, "slug")

	var req quoteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}
	if err := ids.ValidateULID(req.LeadID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid lead id", err, h.Env)
		return
	}

	quote, err := h.Service.QuoteCarrier(r.Context(), slug, req.LeadID)
	if err != nil {
		switch {
		case errors.Is(err, carriers.ErrNotFound):
			metrics.CarrierQuotes.WithLabelValues(slug, "error").Inc()
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Carrier not found", err, h.Env)
		case errors.Is(err, leads.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
		case errors.Is(err, breaker.ErrOpen):
			metrics.CarrierQuotes.WithLabelValues(slug, "breaker_open").Inc()
			w.Header().Set("Retry-After", "30")
			problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeUpstream, "Carrier temporarily unavailable", err, h.Env)
		default:
			metrics.CarrierQuotes.WithLabelValues(slug, "error").Inc()
			problem.Write(w, r, http.StatusBadGateway, problem.TypeUpstream, "Carrier quote failed", err, h.Env)
		}
		return
	}

	metrics.CarrierQuotes.WithLabelValues(slug, "success").Inc()
	respond(w, http.StatusOK, quote)
}

// QuoteLead fans a lead out to every supporting carrier.
func (h *CarriersHandler) QuoteLead(w http.ResponseWriter, r *http.Request) {
	leadULID := pathParam(r, "id")
	if err := ids.ValidateULID(leadULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	results, err := h.Service.QuoteLead(r.Context(), leadULID)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	for _, result := range results {
		outcome := "success"
		switch {
		case result.Skipped:
			continue
		case result.Error != "":
			outcome = "error"
		}
		metrics.CarrierQuotes.WithLabelValues(result.Carrier, outcome).Inc()
	}

	respond(w, http.StatusOK, results)
}

// BreakerStatus exposes every carrier breaker for operators.
func (h *CarriersHandler) BreakerStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.Service.BreakerStatus())
}
