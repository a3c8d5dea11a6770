package segments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
)

const maxRules = 20

// LeadLister pages through leads for segment refresh.
type LeadLister interface {
	List(ctx context.Context, filters leads.Filters, pagination leads.Pagination) (leads.ListResult, error)
	GetByULID(ctx context.Context, ulid string) (*leads.Lead, error)
}

type Service struct {
	repo       Repository
	leads      LeadLister
	dispatcher leads.Dispatcher
	eval       *Evaluator
	logger     zerolog.Logger
}

// NewService wires segment management. dispatcher may be nil; membership
// change triggers are then skipped.
func NewService(repo Repository, leadLister LeadLister, dispatcher leads.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, leads: leadLister, dispatcher: dispatcher, eval: NewEvaluator(), logger: logger}
}

type SegmentInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MatchMode   string `json:"matchMode"`
	Rules       []Rule `json:"rules"`
	Dynamic     *bool  `json:"dynamic"`
}

func (s *Service) validateInput(name, matchMode string, rules []Rule) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("segment name is required")
	}
	switch MatchMode(matchMode) {
	case MatchAll, MatchAny:
	default:
		return fmt.Errorf("match mode must be %q or %q", MatchAll, MatchAny)
	}
	if len(rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	if len(rules) > maxRules {
		return fmt.Errorf("at most %d rules allowed", maxRules)
	}
	for i, rule := range rules {
		if err := ValidateRule(rule); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, input SegmentInput) (*Segment, error) {
	if input.MatchMode == "" {
		input.MatchMode = string(MatchAll)
	}
	if err := s.validateInput(input.Name, input.MatchMode, input.Rules); err != nil {
		return nil, err
	}
	dynamic := true
	if input.Dynamic != nil {
		dynamic = *input.Dynamic
	}
	return s.repo.Create(ctx, CreateParams{
		ULID:        ids.NewULID(),
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		MatchMode:   MatchMode(input.MatchMode),
		Rules:       input.Rules,
		Dynamic:     dynamic,
	})
}

func (s *Service) Get(ctx context.Context, ulid string) (*Segment, error) {
	return s.repo.GetByULID(ctx, ulid)
}

func (s *Service) List(ctx context.Context) ([]Segment, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, ulid string, input SegmentInput) (*Segment, error) {
	current, err := s.repo.GetByULID(ctx, ulid)
	if err != nil {
		return nil, err
	}
	name := current.Name
	if input.Name != "" {
		name = input.Name
	}
	mode := string(current.MatchMode)
	if input.MatchMode != "" {
		mode = input.MatchMode
	}
	rules := current.Rules
	if input.Rules != nil {
		rules = input.Rules
	}
	if err := s.validateInput(name, mode, rules); err != nil {
		return nil, err
	}

	params := UpdateParams{Rules: input.Rules, Dynamic: input.Dynamic}
	if input.Name != "" {
		params.Name = &input.Name
	}
	if input.Description != "" {
		params.Description = &input.Description
	}
	if input.MatchMode != "" {
		m := MatchMode(input.MatchMode)
		params.MatchMode = &m
	}
	return s.repo.Update(ctx, ulid, params)
}

func (s *Service) Delete(ctx context.Context, ulid string) error {
	return s.repo.Delete(ctx, ulid)
}

// Preview evaluates the segment against one lead without touching
// stored membership.
func (s *Service) Preview(ctx context.Context, segmentULID, leadULID string) (bool, error) {
	segment, err := s.repo.GetByULID(ctx, segmentULID)
	if err != nil {
		return false, err
	}
	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return false, err
	}
	return s.eval.Match(segment, lead)
}

// Refresh recomputes the segment's membership by scanning all live
// leads. The segment refresh job calls this on a schedule.
func (s *Service) Refresh(ctx context.Context, segmentULID string) (int, error) {
	segment, err := s.repo.GetByULID(ctx, segmentULID)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var members []string
	cursor := ""
	for {
		page, err := s.leads.List(ctx, leads.Filters{}, leads.Pagination{Limit: 200, After: cursor})
		if err != nil {
			return 0, fmt.Errorf("list leads: %w", err)
		}
		for i := range page.Leads {
			matched, err := s.eval.Match(segment, &page.Leads[i])
			if err != nil {
				return 0, err
			}
			if matched {
				members = append(members, page.Leads[i].ULID)
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	previous, err := s.repo.ListMembers(ctx, segment.ULID)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}

	if err := s.repo.ReplaceMembers(ctx, segment.ULID, members); err != nil {
		return 0, fmt.Errorf("replace members: %w", err)
	}

	s.fireMembershipTriggers(ctx, segment, previous, members)

	s.logger.Info().
		Str("segment_ulid", segment.ULID).
		Int("members", len(members)).
		Dur("took", time.Since(start)).
		Msg("segment refreshed")
	return len(members), nil
}

// fireMembershipTriggers diffs old vs new membership and hands each
// entering and leaving lead to the automation engine. Enqueue failures
// are logged; membership is already committed.
func (s *Service) fireMembershipTriggers(ctx context.Context, segment *Segment, previous, current []string) {
	if s.dispatcher == nil {
		return
	}
	old := make(map[string]bool, len(previous))
	for _, ulid := range previous {
		old[ulid] = true
	}
	data := map[string]string{"segment": segment.ULID, "segment_name": segment.Name}
	seen := make(map[string]bool, len(current))
	for _, ulid := range current {
		seen[ulid] = true
		if old[ulid] {
			continue
		}
		if err := s.dispatcher.EnqueueTrigger(ctx, leads.TriggerSegmentEntered, ulid, data); err != nil {
			s.logger.Error().Err(err).Str("segment_ulid", segment.ULID).Str("lead_ulid", ulid).Msg("failed to enqueue segment trigger")
		}
	}
	for _, ulid := range previous {
		if seen[ulid] {
			continue
		}
		if err := s.dispatcher.EnqueueTrigger(ctx, leads.TriggerSegmentExited, ulid, data); err != nil {
			s.logger.Error().Err(err).Str("segment_ulid", segment.ULID).Str("lead_ulid", ulid).Msg("failed to enqueue segment trigger")
		}
	}
}

// RefreshAll recomputes every dynamic segment, returning per-segment
// counts. Static segments only recompute on an explicit refresh.
func (s *Service) RefreshAll(ctx context.Context) (map[string]int, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(all))
	for _, segment := range all {
		if !segment.Dynamic {
			continue
		}
		n, err := s.Refresh(ctx, segment.ULID)
		if err != nil {
			s.logger.Error().Err(err).Str("segment_ulid", segment.ULID).Msg("segment refresh failed")
			continue
		}
		counts[segment.ULID] = n
	}
	return counts, nil
}
