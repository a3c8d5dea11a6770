package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/segments"
)

type SegmentsHandler struct {
	Service *segments.Service
	Env     string
}

func NewSegmentsHandler(service *segments.Service, env string) *SegmentsHandler {
	return &SegmentsHandler{Service: service, Env: env}
}

type segmentResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	MatchMode       string          `json:"match_mode"`
	Rules           []segments.Rule `json:"rules"`
	Dynamic         bool            `json:"dynamic"`
	MemberCount     int             `json:"member_count"`
	LastRefreshedAt *time.Time      `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func segmentToResponse(segment *segments.Segment) segmentResponse {
	return segmentResponse{
		ID:              segment.ULID,
		Name:            segment.Name,
		Description:     segment.Description,
		MatchMode:       string(segment.MatchMode),
		Rules:           segment.Rules,
		Dynamic:         segment.Dynamic,
		MemberCount:     segment.MemberCount,
		LastRefreshedAt: segment.LastRefreshedAt,
		CreatedAt:       segment.CreatedAt,
		UpdatedAt:       segment.UpdatedAt,
	}
}

func (h *SegmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input segments.SegmentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	segment, err := h.Service.Create(r.Context(), input)
	if err != nil {
		if errors.Is(err, segments.ErrConflict) {
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Segment name already in use", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	respond(w, http.StatusCreated, segmentToResponse(segment))
}

func (h *SegmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.List(r.Context())
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]segmentResponse, 0, len(items))
	for i := range items {
		out = append(out, segmentToResponse(&items[i]))
	}
	respond(w, http.StatusOK, out)
}

func (h *SegmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	segment, err := h.Service.Get(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, segments.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Segment not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, segmentToResponse(segment))
}

func (h *SegmentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var input segments.SegmentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	segment, err := h.Service.Update(r.Context(), ulidValue, input)
	if err != nil {
		switch {
		case errors.Is(err, segments.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Segment not found", err, h.Env)
		case errors.Is(err, segments.ErrConflict):
			problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Segment name already in use", err, h.Env)
		default:
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		}
		return
	}

	respond(w, http.StatusOK, segmentToResponse(segment))
}

func (h *SegmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	if err := h.Service.Delete(r.Context(), ulidValue); err != nil {
		if errors.Is(err, segments.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Segment not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Preview reports whether one lead currently matches the segment's rules.
func (h *SegmentsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	segmentULID := pathParam(r, "id")
	leadULID := pathParam(r, "leadId")
	if err := ids.ValidateULID(segmentULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}
	if err := ids.ValidateULID(leadULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	matches, err := h.Service.Preview(r.Context(), segmentULID, leadULID)
	if err != nil {
		switch {
		case errors.Is(err, segments.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Segment not found", err, h.Env)
		case errors.Is(err, leads.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		}
		return
	}

	respond(w, http.StatusOK, map[string]any{"segment_id": segmentULID, "lead_id": leadULID, "matches": matches})
}

// Refresh recomputes the segment's membership synchronously.
func (h *SegmentsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ulidValue := pathParam(r, "id")
	if err := ids.ValidateULID(ulidValue); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	count, err := h.Service.Refresh(r.Context(), ulidValue)
	if err != nil {
		if errors.Is(err, segments.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Segment not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	respond(w, http.StatusOK, map[string]any{"segment_id": ulidValue, "member_count": count})
}
