package notes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/coverline/server/internal/domain/routing"
)

type EntryKind string

const (
	EntryNote         EntryKind = "note"
	EntryActivity     EntryKind = "activity"
	EntryStatusChange EntryKind = "status_change"
	EntryAssignment   EntryKind = "assignment"
)

// AssignmentLister is the slice of the assignment repository the
// timeline reads.
type AssignmentLister interface {
	ListByLead(ctx context.Context, leadULID string) ([]routing.Assignment, error)
}

const (
	defaultTimelineLimit = 50
	maxTimelineLimit     = 200
)

// TimelineEntry is one row in a lead's merged history, newest first.
type TimelineEntry struct {
	Kind     EntryKind         `json:"kind"`
	At       time.Time         `json:"at"`
	ActorID  *string           `json:"actorId,omitempty"`
	Summary  string            `json:"summary"`
	OldValue string            `json:"oldValue,omitempty"`
	NewValue string            `json:"newValue,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Timeline merges a lead's notes, activities, status changes, and
// assignments into one reverse-chronological feed. Offset and limit
// page through the merged feed; the second return reports whether more
// entries remain past the returned page.
func (s *Service) Timeline(ctx context.Context, leadULID string, offset, limit int) ([]TimelineEntry, bool, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > maxTimelineLimit {
		limit = defaultTimelineLimit
	}

	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, false, err
	}

	noteList, err := s.repo.ListByLead(ctx, lead.ULID)
	if err != nil {
		return nil, false, fmt.Errorf("list notes: %w", err)
	}
	activities, err := s.leads.ListActivities(ctx, lead.ULID)
	if err != nil {
		return nil, false, fmt.Errorf("list activities: %w", err)
	}
	changes, err := s.leads.ListStatusHistory(ctx, lead.ULID)
	if err != nil {
		return nil, false, fmt.Errorf("list status history: %w", err)
	}
	var assignments []routing.Assignment
	if s.assignments != nil {
		assignments, err = s.assignments.ListByLead(ctx, lead.ULID)
		if err != nil {
			return nil, false, fmt.Errorf("list assignments: %w", err)
		}
	}

	entries := make([]TimelineEntry, 0, len(noteList)+len(activities)+len(changes)+len(assignments))
	for _, n := range noteList {
		author := n.AuthorID
		entries = append(entries, TimelineEntry{
			Kind:    EntryNote,
			At:      n.CreatedAt,
			ActorID: &author,
			Summary: n.Body,
		})
	}
	for _, a := range activities {
		entries = append(entries, TimelineEntry{
			Kind:     EntryActivity,
			At:       a.CreatedAt,
			ActorID:  a.ActorID,
			Summary:  a.Description,
			OldValue: a.OldValue,
			NewValue: a.NewValue,
			Metadata: a.Metadata,
		})
	}
	for _, c := range changes {
		entries = append(entries, TimelineEntry{
			Kind:     EntryStatusChange,
			At:       c.CreatedAt,
			ActorID:  c.ChangedBy,
			Summary:  c.Reason,
			OldValue: string(c.OldStatus),
			NewValue: string(c.NewStatus),
		})
	}
	for _, a := range assignments {
		entry := TimelineEntry{
			Kind:     EntryAssignment,
			At:       a.CreatedAt,
			Summary:  "assigned to agent",
			NewValue: a.AgentULID,
			Metadata: map[string]string{"strategy": a.Strategy},
		}
		if a.AssignedBy != "" {
			actor := a.AssignedBy
			entry.ActorID = &actor
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.After(entries[j].At)
	})

	if offset >= len(entries) {
		return []TimelineEntry{}, false, nil
	}
	end := offset + limit
	more := end < len(entries)
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], more, nil
}
