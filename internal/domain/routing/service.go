package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/domain/agents"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
)

var ErrAlreadyAssigned = errors.New("lead already assigned")

// ReasonNoEligibleAgents marks a routing attempt that found nobody
// active, licensed, and under capacity. The lead is flagged for manual
// review and the unassigned decision is returned, not an error.
const ReasonNoEligibleAgents = "no_eligible_agents"

// Assignment records one routing decision for later audit and rebalancing.
type Assignment struct {
	ID         string
	ULID       string
	LeadULID   string
	AgentULID  string
	Strategy   string
	Score      float64
	Factors    json.RawMessage
	AssignedBy string
	CreatedAt  time.Time
}

type AssignmentParams struct {
	ULID       string
	LeadULID   string
	AgentULID  string
	Strategy   string
	Score      float64
	Factors    json.RawMessage
	AssignedBy string
}

type Repository interface {
	InsertAssignment(ctx context.Context, params AssignmentParams) (*Assignment, error)
	ListByLead(ctx context.Context, leadULID string) ([]Assignment, error)
}

// LeadStore is the slice of the lead repository routing needs.
type LeadStore interface {
	GetByULID(ctx context.Context, ulid string) (*leads.Lead, error)
	Assign(ctx context.Context, ulid string, assigneeULID *string) (*leads.Lead, error)
	SetNeedsReview(ctx context.Context, ulid string, needsReview bool) error
	InsertActivity(ctx context.Context, params leads.ActivityParams) error
}

type Service struct {
	repo       Repository
	agents     agents.Repository
	leads      LeadStore
	dispatcher leads.Dispatcher
	weights    Weights
	strategy   Strategy
	logger     zerolog.Logger
}

// NewService wires lead routing. dispatcher may be nil; assignment
// triggers are then skipped.
func NewService(repo Repository, agentRepo agents.Repository, leadStore LeadStore, dispatcher leads.Dispatcher, weights Weights, strategy Strategy, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		agents:     agentRepo,
		leads:      leadStore,
		dispatcher: dispatcher,
		weights:    weights,
		strategy:   strategy,
		logger:     logger,
	}
}

// Rank returns the scored eligible agents for a lead without assigning.
// Backs the dry-run endpoint so managers can preview routing.
func (s *Service) Rank(ctx context.Context, leadULID string) (*Decision, error) {
	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}
	pool, err := s.agents.List(ctx, agents.Filters{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	ranked := Rank(pool, lead, s.weights)
	return &Decision{Lead: lead, Ranked: ranked, Strategy: s.strategy}, nil
}

// Assign routes the lead to the winning agent, bumps the agent's
// workload, stamps the lead, and records the assignment. actorID
// identifies the user who triggered routing; nil means the assignment
// job did.
func (s *Service) Assign(ctx context.Context, leadULID string, actorID *string) (*Decision, error) {
	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}
	if lead.AssigneeID != nil && *lead.AssigneeID != "" {
		return nil, ErrAlreadyAssigned
	}

	pool, err := s.agents.List(ctx, agents.Filters{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	ranked := Rank(pool, lead, s.weights)
	if len(ranked) == 0 {
		if err := s.leads.SetNeedsReview(ctx, lead.ULID, true); err != nil {
			s.logger.Error().Err(err).Str("lead_ulid", lead.ULID).Msg("failed to flag lead for review")
		}
		s.logger.Warn().Str("lead_ulid", lead.ULID).Str("state", lead.State).Msg("no eligible agents, lead flagged for review")
		return &Decision{Lead: lead, Strategy: s.strategy, Reason: ReasonNoEligibleAgents}, nil
	}

	winner := Pick(ranked, s.strategy)

	factors, err := json.Marshal(winner.Factors)
	if err != nil {
		return nil, fmt.Errorf("marshal factors: %w", err)
	}

	assignment, err := s.repo.InsertAssignment(ctx, AssignmentParams{
		ULID:       ids.NewULID(),
		LeadULID:   lead.ULID,
		AgentULID:  winner.Agent.ULID,
		Strategy:   string(s.strategy),
		Score:      winner.Score,
		Factors:    factors,
		AssignedBy: assignedBy(actorID),
	})
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	agentULID := winner.Agent.ULID
	if _, err := s.leads.Assign(ctx, lead.ULID, &agentULID); err != nil {
		return nil, fmt.Errorf("stamp lead assignee: %w", err)
	}
	if err := s.agents.IncrementWorkload(ctx, winner.Agent.ULID, 1); err != nil {
		return nil, fmt.Errorf("increment workload: %w", err)
	}

	if err := s.leads.InsertActivity(ctx, leads.ActivityParams{
		LeadID:       lead.ID,
		ActorID:      actorID,
		ActivityType: leads.ActivityAssigned,
		Description:  fmt.Sprintf("assigned to %s via %s", winner.Agent.Name, s.strategy),
		NewValue:     winner.Agent.ULID,
		Metadata:     map[string]string{"score": fmt.Sprintf("%.3f", winner.Score)},
	}); err != nil {
		s.logger.Error().Err(err).Str("lead_ulid", lead.ULID).Msg("failed to record assignment activity")
	}

	s.logger.Info().
		Str("lead_ulid", lead.ULID).
		Str("agent_ulid", winner.Agent.ULID).
		Str("strategy", string(s.strategy)).
		Float64("score", winner.Score).
		Str("assignment_ulid", assignment.ULID).
		Msg("lead assigned")

	s.fireAssignedTrigger(ctx, lead.ULID, winner.Agent.ULID, string(s.strategy))

	return &Decision{Lead: lead, Assigned: &winner, Ranked: ranked, Strategy: s.strategy}, nil
}

// Reassign moves an already-assigned lead to a named agent, adjusting
// both agents' workloads.
func (s *Service) Reassign(ctx context.Context, leadULID, agentULID string, actorID *string) (*Assignment, error) {
	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}
	target, err := s.agents.GetByULID(ctx, agentULID)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		return nil, fmt.Errorf("agent %s is inactive", target.ULID)
	}
	if target.AtCapacity() {
		return nil, fmt.Errorf("agent %s is at capacity", target.ULID)
	}

	previous := ""
	if lead.AssigneeID != nil {
		previous = *lead.AssigneeID
	}
	if previous == target.ULID {
		return nil, fmt.Errorf("lead %s already assigned to %s", lead.ULID, target.ULID)
	}

	scored := Score(*target, lead, s.weights)
	factors, err := json.Marshal(scored.Factors)
	if err != nil {
		return nil, fmt.Errorf("marshal factors: %w", err)
	}

	assignment, err := s.repo.InsertAssignment(ctx, AssignmentParams{
		ULID:       ids.NewULID(),
		LeadULID:   lead.ULID,
		AgentULID:  target.ULID,
		Strategy:   "manual",
		Score:      scored.Score,
		Factors:    factors,
		AssignedBy: assignedBy(actorID),
	})
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	ulid := target.ULID
	if _, err := s.leads.Assign(ctx, lead.ULID, &ulid); err != nil {
		return nil, fmt.Errorf("stamp lead assignee: %w", err)
	}
	if previous != "" {
		if err := s.agents.IncrementWorkload(ctx, previous, -1); err != nil && !errors.Is(err, agents.ErrNotFound) {
			return nil, fmt.Errorf("release previous agent: %w", err)
		}
	}
	if err := s.agents.IncrementWorkload(ctx, target.ULID, 1); err != nil {
		return nil, fmt.Errorf("increment workload: %w", err)
	}

	if err := s.leads.InsertActivity(ctx, leads.ActivityParams{
		LeadID:       lead.ID,
		ActorID:      actorID,
		ActivityType: leads.ActivityReassigned,
		Description:  fmt.Sprintf("reassigned to %s", target.Name),
		OldValue:     previous,
		NewValue:     target.ULID,
	}); err != nil {
		s.logger.Error().Err(err).Str("lead_ulid", lead.ULID).Msg("failed to record reassignment activity")
	}

	s.fireAssignedTrigger(ctx, lead.ULID, target.ULID, "manual")

	return assignment, nil
}

// fireAssignedTrigger hands the assignment to the automation engine.
// Enqueue failures are logged, not returned; the assignment itself has
// already been committed.
func (s *Service) fireAssignedTrigger(ctx context.Context, leadULID, agentULID, strategy string) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.EnqueueTrigger(ctx, leads.TriggerLeadAssigned, leadULID, map[string]string{
		"agent":    agentULID,
		"strategy": strategy,
	}); err != nil {
		s.logger.Error().Err(err).Str("lead_ulid", leadULID).Msg("failed to enqueue assignment trigger")
	}
}

// AssignLead routes a lead to a specific agent, or auto-routes when
// agentULID is empty. Satisfies the automation engine's Assigner.
func (s *Service) AssignLead(ctx context.Context, leadULID, agentULID string) error {
	if agentULID == "" {
		_, err := s.Assign(ctx, leadULID, nil)
		return err
	}
	_, err := s.Reassign(ctx, leadULID, agentULID, nil)
	return err
}

// Release decrements the assignee's workload when a lead leaves the
// active pipeline (converted, lost, or deleted while assigned).
func (s *Service) Release(ctx context.Context, agentULID string) error {
	return s.agents.IncrementWorkload(ctx, agentULID, -1)
}

func (s *Service) History(ctx context.Context, leadULID string) ([]Assignment, error) {
	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByLead(ctx, lead.ULID)
}

func assignedBy(actorID *string) string {
	if actorID == nil || *actorID == "" {
		return "system"
	}
	return *actorID
}
