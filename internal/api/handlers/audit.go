package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coverline/server/internal/api/pagination"
	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/metrics"
)

type AuditHandler struct {
	Repo audit.Repository
	Env  string
}

func NewAuditHandler(repo audit.Repository, env string) *AuditHandler {
	return &AuditHandler{Repo: repo, Env: env}
}

type auditEntryResponse struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq"`
	OccurredAt   time.Time       `json:"occurred_at"`
	ActorID      string          `json:"actor_id"`
	ActorType    string          `json:"actor_type"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty"`
	Checksum     string          `json:"checksum"`
	PrevChecksum string          `json:"prev_checksum"`
}

func entryToResponse(entry *audit.Entry) auditEntryResponse {
	return auditEntryResponse{
		ID:           entry.ID,
		Seq:          entry.Seq,
		OccurredAt:   entry.Timestamp,
		ActorID:      entry.ActorID,
		ActorType:    entry.ActorType,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		Checksum:     entry.Checksum,
		PrevChecksum: entry.PrevChecksum,
	}
}

// List returns audit entries in seq order with optional filters and a
// seq-based cursor.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filters := audit.ListFilters{
		ActorID:      query.Get("actor"),
		Action:       query.Get("action"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
	}
	if from := query.Get("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request",
				errors.New("from must be RFC 3339"), h.Env)
			return
		}
		filters.From = &ts
	}
	if to := query.Get("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request",
				errors.New("to must be RFC 3339"), h.Env)
			return
		}
		filters.To = &ts
	}

	page := audit.Page{Limit: 100}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request",
				errors.New("limit must be between 1 and 500"), h.Env)
			return
		}
		page.Limit = limit
	}
	if cursor := query.Get("after"); cursor != "" {
		seq, err := pagination.DecodeSeqCursor(cursor)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid cursor", err, h.Env)
			return
		}
		page.AfterSeq = seq
	}

	entries, err := h.Repo.List(r.Context(), filters, page)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, entryToResponse(&entries[i]))
	}

	nextCursor := ""
	if len(entries) == page.Limit && len(entries) > 0 {
		nextCursor = pagination.EncodeSeqCursor(entries[len(entries)-1].Seq)
	}
	respondPage(w, http.StatusOK, out, nextCursor, page.Limit)
}

type verifyRequest struct {
	FromSeq int64 `json:"from_seq"`
	ToSeq   int64 `json:"to_seq"`
}

// Verify re-walks the hash chain and reports discrepancies.
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
			return
		}
	}

	report, err := audit.Verify(r.Context(), h.Repo, req.FromSeq, req.ToSeq)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	if report.Valid {
		metrics.AuditChainValid.Set(1)
	} else {
		metrics.AuditChainValid.Set(0)
	}
	metrics.AuditChainLength.Set(float64(report.LastSeq))

	respond(w, http.StatusOK, report)
}
