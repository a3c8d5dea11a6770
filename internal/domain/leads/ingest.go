package leads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coverline/server/internal/domain/ids"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LeadInput is the wire payload accepted from web forms, partner APIs, and
// imports.
type LeadInput struct {
	FirstName     string   `json:"first_name" validate:"required,min=1,max=100"`
	LastName      string   `json:"last_name" validate:"required,min=1,max=100"`
	Email         string   `json:"email" validate:"required,email,max=255"`
	Phone         string   `json:"phone" validate:"omitempty,max=50"`
	Company       string   `json:"company" validate:"omitempty,max=200"`
	JobTitle      string   `json:"job_title" validate:"omitempty,max=100"`
	InsuranceType string   `json:"insurance_type" validate:"required,oneof=auto home life health commercial other"`
	ValueEstimate float64  `json:"value_estimate" validate:"gte=0"`
	Priority      string   `json:"priority" validate:"omitempty,oneof=high medium low"`
	Source        string   `json:"source" validate:"required,oneof=web_form call referral paid_ads organic social_media email partner other"`
	Campaign      string   `json:"campaign" validate:"omitempty,max=200"`
	AddressLine   string   `json:"address" validate:"omitempty,max=500"`
	City          string   `json:"city" validate:"omitempty,max=100"`
	State         string   `json:"state" validate:"omitempty,max=100"`
	ZipCode       string   `json:"zip_code" validate:"omitempty,max=20"`
	Country       string   `json:"country" validate:"omitempty,max=100"`
	Tags          []string `json:"tags" validate:"omitempty,max=20,dive,min=1,max=50"`
	FollowUpOn    string   `json:"follow_up_on" validate:"omitempty,datetime=2006-01-02"`
}

// ValidationErrors maps field names to human-readable messages for the
// problem+json errors object.
func ValidationErrors(err error) map[string]interface{} {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(fieldErrors))
	for _, fe := range fieldErrors {
		out[strings.ToLower(fe.Field())] = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return out
}

func validateStruct(v any) error {
	return validate.Struct(v)
}

// NormalizeLeadInput canonicalizes contact fields before hashing and storage.
func NormalizeLeadInput(input LeadInput) LeadInput {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = strings.TrimSpace(input.Phone)
	input.Company = strings.TrimSpace(input.Company)
	input.JobTitle = strings.TrimSpace(input.JobTitle)
	input.InsuranceType = strings.ToLower(strings.TrimSpace(input.InsuranceType))
	input.Source = strings.ToLower(strings.TrimSpace(input.Source))
	input.Campaign = strings.TrimSpace(input.Campaign)
	input.City = strings.TrimSpace(input.City)
	input.State = strings.TrimSpace(input.State)
	input.ZipCode = strings.TrimSpace(input.ZipCode)
	if input.Country == "" {
		input.Country = "USA"
	}
	if input.Priority == "" {
		input.Priority = string(PriorityMedium)
	}
	tags := make([]string, 0, len(input.Tags))
	for _, tag := range input.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	input.Tags = tags
	return input
}

// Trigger names fired by ingestion, lifecycle changes, routing, segment
// membership, and the follow-up scheduler.
const (
	TriggerLeadCreated         = "lead_created"
	TriggerLeadStatusChanged   = "lead_status_changed"
	TriggerLeadAssigned        = "lead_assigned"
	TriggerLeadPriorityChanged = "lead_priority_changed"
	TriggerTimeBased           = "time_based"
	TriggerSegmentEntered      = "segment_entered"
	TriggerSegmentExited       = "segment_exited"
)

// Dispatcher enqueues follow-up work after ingestion. The jobs package
// implements it; a nil dispatcher skips async side effects (tests, CLI).
type Dispatcher interface {
	EnqueueAssignment(ctx context.Context, leadULID string) error
	EnqueueTrigger(ctx context.Context, trigger string, leadULID string, data map[string]string) error
}

type IngestResult struct {
	Lead        *Lead
	IsDuplicate bool
}

type IngestService struct {
	repo       Repository
	dispatcher Dispatcher
}

func NewIngestService(repo Repository, dispatcher Dispatcher) *IngestService {
	return &IngestService{repo: repo, dispatcher: dispatcher}
}

func (s *IngestService) Ingest(ctx context.Context, input LeadInput) (*IngestResult, error) {
	return s.IngestWithIdempotency(ctx, input, "")
}

// IngestWithIdempotency creates a lead unless the dedup hash or the
// idempotency key already resolves to one.
//
// Idempotency contract: replaying the same key with the same payload returns
// the original lead without re-running side effects; the same key with a
// different payload is a conflict.
func (s *IngestService) IngestWithIdempotency(ctx context.Context, input LeadInput, idempotencyKey string) (*IngestResult, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("ingest: repository not configured")
	}

	// Validate before touching the key table so a rejected payload never
	// strands an unbindable key.
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	normalized := NormalizeLeadInput(input)

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		payloadHash, err := hashInput(normalized)
		if err != nil {
			return nil, err
		}
		keyEntry, err := s.repo.GetIdempotencyKey(ctx, idempotencyKey)
		if err == nil && keyEntry != nil {
			if payloadHash != keyEntry.RequestHash {
				return nil, ErrConflict
			}
			if keyEntry.LeadULID == nil || *keyEntry.LeadULID == "" {
				// A concurrent request holds the key but has not finished.
				return nil, ErrConflict
			}
			lead, err := s.repo.GetByULID(ctx, *keyEntry.LeadULID)
			if err != nil {
				return nil, err
			}
			return &IngestResult{Lead: lead, IsDuplicate: true}, nil
		}
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		if _, err := s.repo.InsertIdempotencyKey(ctx, IdempotencyKeyCreateParams{
			Key:         idempotencyKey,
			RequestHash: payloadHash,
		}); err != nil {
			return nil, err
		}
	}

	dedupHash := BuildDedupHash(DedupCandidate{
		Email:         normalized.Email,
		Phone:         normalized.Phone,
		InsuranceType: normalized.InsuranceType,
	})
	if dedupHash != "" {
		existing, err := s.repo.FindByDedupHash(ctx, dedupHash)
		if err == nil && existing != nil {
			// Bind the key to the deduplicated lead so replays resolve
			// instead of hitting the unfinished-key conflict.
			if idempotencyKey != "" {
				if err := s.repo.UpdateIdempotencyKeyLead(ctx, idempotencyKey, existing.ID, existing.ULID); err != nil {
					return nil, fmt.Errorf("bind idempotency key: %w", err)
				}
			}
			return &IngestResult{Lead: existing, IsDuplicate: true}, nil
		}
		if err != nil && err != ErrNotFound {
			return nil, err
		}
	}

	params := CreateParams{
		ULID:          ids.NewULID(),
		FirstName:     normalized.FirstName,
		LastName:      normalized.LastName,
		Email:         normalized.Email,
		Phone:         normalized.Phone,
		Company:       normalized.Company,
		JobTitle:      normalized.JobTitle,
		InsuranceType: normalized.InsuranceType,
		ValueEstimate: normalized.ValueEstimate,
		Priority:      Priority(normalized.Priority),
		Source:        normalized.Source,
		Campaign:      normalized.Campaign,
		AddressLine:   normalized.AddressLine,
		City:          normalized.City,
		State:         normalized.State,
		ZipCode:       normalized.ZipCode,
		Country:       normalized.Country,
		Tags:          normalized.Tags,
		DedupHash:     dedupHash,
		NeedsReview:   dedupHash == "",
	}
	if normalized.FollowUpOn != "" {
		followUp, parseErr := time.Parse("2006-01-02", normalized.FollowUpOn)
		if parseErr == nil {
			params.FollowUpOn = &followUp
		}
	}

	lead, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertActivity(ctx, ActivityParams{
		LeadID:       lead.ID,
		ActivityType: ActivityCreated,
		Description:  fmt.Sprintf("lead ingested from %s", lead.Source),
	}); err != nil {
		return nil, fmt.Errorf("record create activity: %w", err)
	}

	if idempotencyKey != "" {
		if err := s.repo.UpdateIdempotencyKeyLead(ctx, idempotencyKey, lead.ID, lead.ULID); err != nil {
			return nil, fmt.Errorf("bind idempotency key: %w", err)
		}
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.EnqueueAssignment(ctx, lead.ULID); err != nil {
			return nil, fmt.Errorf("enqueue assignment: %w", err)
		}
		if err := s.dispatcher.EnqueueTrigger(ctx, TriggerLeadCreated, lead.ULID, nil); err != nil {
			return nil, fmt.Errorf("enqueue trigger: %w", err)
		}
	}

	return &IngestResult{Lead: lead}, nil
}

func hashInput(input LeadInput) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("hash input: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
