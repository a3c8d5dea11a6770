// Package compliance covers data retention enforcement and
// data-subject access requests (export and erasure).
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/notes"
)

// LeadStore is the slice of the lead repository compliance needs.
type LeadStore interface {
	ListBySubjectEmail(ctx context.Context, email string) ([]leads.Lead, error)
	ListActivities(ctx context.Context, ulid string) ([]leads.Activity, error)
	ListStatusHistory(ctx context.Context, ulid string) ([]leads.StatusChange, error)
	Anonymize(ctx context.Context, ulid string) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]leads.Lead, error)
	DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type NoteStore interface {
	ListByLead(ctx context.Context, leadULID string) ([]notes.Note, error)
}

type Config struct {
	// LeadMaxAge is how long terminal leads keep personal data.
	LeadMaxAge time.Duration
	// IdempotencyMaxAge bounds how long ingest replay keys live.
	IdempotencyMaxAge time.Duration
	// BatchSize caps leads anonymized per retention run.
	BatchSize int
}

type Service struct {
	leads  LeadStore
	notes  NoteStore
	audit  *audit.Writer
	cfg    Config
	logger zerolog.Logger
}

func NewService(leadStore LeadStore, noteStore NoteStore, auditWriter *audit.Writer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Service{leads: leadStore, notes: noteStore, audit: auditWriter, cfg: cfg, logger: logger}
}

// SubjectExport is the full DSAR payload for one email address.
type SubjectExport struct {
	Email       string       `json:"email"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Leads       []LeadExport `json:"leads"`
}

type LeadExport struct {
	Lead       leads.Lead           `json:"lead"`
	Activities []leads.Activity     `json:"activities"`
	History    []leads.StatusChange `json:"statusHistory"`
	Notes      []notes.Note         `json:"notes"`
}

// Export gathers every record held about the subject's email address.
func (s *Service) Export(ctx context.Context, email, actorID string) (*SubjectExport, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("subject email is required")
	}

	matched, err := s.leads.ListBySubjectEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list subject leads: %w", err)
	}

	export := &SubjectExport{
		Email:       email,
		GeneratedAt: time.Now().UTC(),
		Leads:       make([]LeadExport, 0, len(matched)),
	}
	for i := range matched {
		lead := matched[i]
		activities, err := s.leads.ListActivities(ctx, lead.ULID)
		if err != nil {
			return nil, fmt.Errorf("list activities for %s: %w", lead.ULID, err)
		}
		history, err := s.leads.ListStatusHistory(ctx, lead.ULID)
		if err != nil {
			return nil, fmt.Errorf("list status history for %s: %w", lead.ULID, err)
		}
		noteList, err := s.notes.ListByLead(ctx, lead.ULID)
		if err != nil {
			return nil, fmt.Errorf("list notes for %s: %w", lead.ULID, err)
		}
		export.Leads = append(export.Leads, LeadExport{
			Lead:       lead,
			Activities: activities,
			History:    history,
			Notes:      noteList,
		})
	}

	s.audit.Record(ctx, audit.AppendParams{
		ActorID:      actorID,
		ActorType:    audit.ActorUser,
		Action:       audit.ActionExport,
		ResourceType: "subject",
		ResourceID:   email,
		Details:      map[string]int{"leads": len(export.Leads)},
	})
	return export, nil
}

// Erase anonymizes every lead held for the subject. The lead rows stay
// for reporting; personal fields are blanked.
func (s *Service) Erase(ctx context.Context, email, actorID string) (int, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return 0, fmt.Errorf("subject email is required")
	}

	matched, err := s.leads.ListBySubjectEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("list subject leads: %w", err)
	}

	erased := 0
	for i := range matched {
		if err := s.leads.Anonymize(ctx, matched[i].ULID); err != nil {
			return erased, fmt.Errorf("anonymize %s: %w", matched[i].ULID, err)
		}
		erased++
		s.audit.Record(ctx, audit.AppendParams{
			ActorID:      actorID,
			ActorType:    audit.ActorUser,
			Action:       audit.ActionAnonymize,
			ResourceType: "lead",
			ResourceID:   matched[i].ULID,
			Details:      map[string]string{"reason": "dsar_erasure"},
		})
	}

	s.logger.Info().Str("subject", email).Int("erased", erased).Msg("subject erasure completed")
	return erased, nil
}

// RetentionReport summarizes one retention sweep.
type RetentionReport struct {
	Anonymized          int   `json:"anonymized"`
	IdempotencyKeysGone int64 `json:"idempotencyKeysDeleted"`
}

// EnforceRetention anonymizes leads past the retention window and drops
// stale idempotency keys. The retention job runs this nightly.
func (s *Service) EnforceRetention(ctx context.Context) (*RetentionReport, error) {
	report := &RetentionReport{}
	now := time.Now().UTC()

	if s.cfg.LeadMaxAge > 0 {
		cutoff := now.Add(-s.cfg.LeadMaxAge)
		expired, err := s.leads.ListExpired(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("list expired leads: %w", err)
		}
		for i := range expired {
			if err := s.leads.Anonymize(ctx, expired[i].ULID); err != nil {
				return report, fmt.Errorf("anonymize %s: %w", expired[i].ULID, err)
			}
			report.Anonymized++
			s.audit.Record(ctx, audit.AppendParams{
				ActorType:    audit.ActorSystem,
				Action:       audit.ActionAnonymize,
				ResourceType: "lead",
				ResourceID:   expired[i].ULID,
				Details:      map[string]string{"reason": "retention"},
			})
		}
	}

	if s.cfg.IdempotencyMaxAge > 0 {
		gone, err := s.leads.DeleteIdempotencyKeysBefore(ctx, now.Add(-s.cfg.IdempotencyMaxAge))
		if err != nil {
			return report, fmt.Errorf("delete idempotency keys: %w", err)
		}
		report.IdempotencyKeysGone = gone
	}

	if report.Anonymized > 0 || report.IdempotencyKeysGone > 0 {
		s.logger.Info().
			Int("anonymized", report.Anonymized).
			Int64("idempotency_keys", report.IdempotencyKeysGone).
			Msg("retention sweep completed")
	}
	return report, nil
}
