package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/compliance"
)

type ComplianceHandler struct {
	Service *compliance.Service
	Env     string
}

func NewComplianceHandler(service *compliance.Service, env string) *ComplianceHandler {
	return &ComplianceHandler{Service: service, Env: env}
}

type dsarRequest struct {
	Email string `json:"email"`
	Kind  string `json:"kind"`
}

// DSAR handles data-subject access requests: export returns everything the
// platform holds for the subject, erase anonymizes it in place.
func (h *ComplianceHandler) DSAR(w http.ResponseWriter, r *http.Request) {
	var req dsarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request",
			errors.New("email must be a valid address"), h.Env)
		return
	}

	switch req.Kind {
	case "export":
		export, err := h.Service.Export(r.Context(), email, actorString(r))
		if err != nil {
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
			return
		}
		respond(w, http.StatusOK, export)

	case "erase":
		count, err := h.Service.Erase(r.Context(), email, actorString(r))
		if err != nil {
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
			return
		}
		respond(w, http.StatusOK, map[string]any{"email": email, "leads_anonymized": count})

	default:
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request",
			errors.New("kind must be export or erase"), h.Env)
	}
}
