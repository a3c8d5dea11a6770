package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coverline/server/internal/api/middleware"
	"github.com/coverline/server/internal/api/pagination"
	"github.com/coverline/server/internal/api/problem"
	"github.com/coverline/server/internal/auth"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/notes"
)

type NotesHandler struct {
	Service *notes.Service
	Env     string
}

func NewNotesHandler(service *notes.Service, env string) *NotesHandler {
	return &NotesHandler{Service: service, Env: env}
}

type noteResponse struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func noteToResponse(note *notes.Note) noteResponse {
	return noteResponse{
		ID:        note.ULID,
		LeadID:    note.LeadULID,
		AuthorID:  note.AuthorID,
		Body:      note.Body,
		Pinned:    note.Pinned,
		CreatedAt: note.CreatedAt,
		UpdatedAt: note.UpdatedAt,
	}
}

type noteCreateRequest struct {
	Body   string `json:"body"`
	Pinned bool   `json:"pinned"`
}

func (h *NotesHandler) Create(w http.ResponseWriter, r *http.Request) {
	leadULID := pathParam(r, "id")
	if err := ids.ValidateULID(leadULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var req noteCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	note, err := h.Service.Create(r.Context(), leadULID, actorString(r), req.Body, req.Pinned)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	respond(w, http.StatusCreated, noteToResponse(note))
}

func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	leadULID := pathParam(r, "id")
	if err := ids.ValidateULID(leadULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	items, err := h.Service.List(r.Context(), leadULID)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	out := make([]noteResponse, 0, len(items))
	for i := range items {
		out = append(out, noteToResponse(&items[i]))
	}
	respond(w, http.StatusOK, out)
}

type noteUpdateRequest struct {
	Body   *string `json:"body"`
	Pinned *bool   `json:"pinned"`
}

func (h *NotesHandler) Update(w http.ResponseWriter, r *http.Request) {
	noteULID := pathParam(r, "noteId")
	if err := ids.ValidateULID(noteULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	var req noteUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	note, err := h.Service.Update(r.Context(), noteULID, actorString(r), requestIsAdmin(r), notes.UpdateParams{
		Body:   req.Body,
		Pinned: req.Pinned,
	})
	if err != nil {
		h.writeNoteError(w, r, err)
		return
	}

	respond(w, http.StatusOK, noteToResponse(note))
}

func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	noteULID := pathParam(r, "noteId")
	if err := ids.ValidateULID(noteULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	if err := h.Service.Delete(r.Context(), noteULID, actorString(r), requestIsAdmin(r)); err != nil {
		h.writeNoteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *NotesHandler) writeNoteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notes.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Note not found", err, h.Env)
	case errors.Is(err, notes.ErrForbidden):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Not the note author", err, h.Env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
	}
}

// Timeline merges notes, activities, status changes, and assignments
// for a lead, paged with an opaque cursor.
func (h *NotesHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	leadULID := pathParam(r, "id")
	if err := ids.ValidateULID(leadULID); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	query := r.URL.Query()
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request",
				errors.New("limit must be between 1 and 200"), h.Env)
			return
		}
		limit = parsed
	}
	offset := 0
	if cursor := query.Get("after"); cursor != "" {
		decoded, err := pagination.DecodeSeqCursor(cursor)
		if err != nil {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid cursor", err, h.Env)
			return
		}
		offset = int(decoded)
	}

	entries, more, err := h.Service.Timeline(r.Context(), leadULID, offset, limit)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Lead not found", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	nextCursor := ""
	if more {
		nextCursor = pagination.EncodeSeqCursor(int64(offset + limit))
	}
	respondPage(w, http.StatusOK, entries, nextCursor, limit)
}

func requestIsAdmin(r *http.Request) bool {
	claims := middleware.Claims(r)
	return claims != nil && auth.IsAdmin(claims.Role)
}
