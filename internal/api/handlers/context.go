package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coverline/server/internal/api/middleware"
)

// envelope is the standard success payload shape.
type envelope struct {
	Success    bool      `json:"success"`
	Data       any       `json:"data"`
	Pagination *pageMeta `json:"pagination,omitempty"`
}

type pageMeta struct {
	NextCursor string `json:"next_cursor,omitempty"`
	Limit      int    `json:"limit"`
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func respondPage(w http.ResponseWriter, status int, data any, nextCursor string, limit int) {
	writeJSON(w, status, envelope{
		Success:    true,
		Data:       data,
		Pagination: &pageMeta{NextCursor: nextCursor, Limit: limit},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}

// actorID returns the authenticated principal for activity and audit
// attribution: the JWT subject for staff, the key name for partners.
func actorID(r *http.Request) *string {
	if claims := middleware.Claims(r); claims != nil && claims.Subject != "" {
		subject := claims.Subject
		return &subject
	}
	if key := middleware.PartnerKey(r); key != nil && key.Name != "" {
		name := "apikey:" + key.Name
		return &name
	}
	return nil
}

func actorString(r *http.Request) string {
	if id := actorID(r); id != nil {
		return *id
	}
	return "anonymous"
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
