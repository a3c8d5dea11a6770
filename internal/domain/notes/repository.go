// Package notes holds free-text notes agents attach to leads and the
// merged timeline view combining notes, activities, and status changes.
package notes

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("note not found")

// ErrForbidden is returned when a non-author, non-admin tries to edit
// or delete someone else's note.
var ErrForbidden = errors.New("not the note author")

type Note struct {
	ID        string
	ULID      string
	LeadULID  string
	AuthorID  string
	Body      string
	Pinned    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateParams struct {
	ULID     string
	LeadULID string
	AuthorID string
	Body     string
	Pinned   bool
}

type UpdateParams struct {
	Body   *string
	Pinned *bool
}

type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Note, error)
	GetByULID(ctx context.Context, ulid string) (*Note, error)
	// ListByLead returns pinned notes first, then newest first.
	ListByLead(ctx context.Context, leadULID string) ([]Note, error)
	Update(ctx context.Context, ulid string, params UpdateParams) (*Note, error)
	Delete(ctx context.Context, ulid string) error
}
