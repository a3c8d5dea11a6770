package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
)

const maxBodyLength = 10000

// sanitizer strips script and style but keeps basic formatting, since
// note bodies are rendered in the agent console.
var sanitizer = bluemonday.UGCPolicy()

// LeadStore is the slice of the lead repository the notes service needs.
type LeadStore interface {
	GetByULID(ctx context.Context, ulid string) (*leads.Lead, error)
	ListActivities(ctx context.Context, ulid string) ([]leads.Activity, error)
	ListStatusHistory(ctx context.Context, ulid string) ([]leads.StatusChange, error)
}

type Service struct {
	repo        Repository
	leads       LeadStore
	assignments AssignmentLister
}

// NewService builds the notes service. The assignment lister may be
// nil, in which case the timeline omits assignment entries.
func NewService(repo Repository, leadStore LeadStore, assignments AssignmentLister) *Service {
	return &Service{repo: repo, leads: leadStore, assignments: assignments}
}

func (s *Service) Create(ctx context.Context, leadULID, authorID, body string, pinned bool) (*Note, error) {
	body = strings.TrimSpace(sanitizer.Sanitize(body))
	if body == "" {
		return nil, fmt.Errorf("note body is empty after sanitization")
	}
	if len(body) > maxBodyLength {
		return nil, fmt.Errorf("note body exceeds %d characters", maxBodyLength)
	}

	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}

	return s.repo.Create(ctx, CreateParams{
		ULID:     ids.NewULID(),
		LeadULID: lead.ULID,
		AuthorID: authorID,
		Body:     body,
		Pinned:   pinned,
	})
}

func (s *Service) List(ctx context.Context, leadULID string) ([]Note, error) {
	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByLead(ctx, lead.ULID)
}

// Update edits a note. Only the author or an admin may edit.
func (s *Service) Update(ctx context.Context, ulid, actorID string, isAdmin bool, params UpdateParams) (*Note, error) {
	note, err := s.repo.GetByULID(ctx, ulid)
	if err != nil {
		return nil, err
	}
	if note.AuthorID != actorID && !isAdmin {
		return nil, ErrForbidden
	}
	if params.Body != nil {
		clean := strings.TrimSpace(sanitizer.Sanitize(*params.Body))
		if clean == "" {
			return nil, fmt.Errorf("note body is empty after sanitization")
		}
		if len(clean) > maxBodyLength {
			return nil, fmt.Errorf("note body exceeds %d characters", maxBodyLength)
		}
		params.Body = &clean
	}
	return s.repo.Update(ctx, ulid, params)
}

func (s *Service) Delete(ctx context.Context, ulid, actorID string, isAdmin bool) error {
	note, err := s.repo.GetByULID(ctx, ulid)
	if err != nil {
		return err
	}
	if note.AuthorID != actorID && !isAdmin {
		return ErrForbidden
	}
	return s.repo.Delete(ctx, ulid)
}
