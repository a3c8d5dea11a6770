package automations

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/segments"
)

// Event is one lead lifecycle occurrence delivered to the engine,
// usually via the automation job queue.
type Event struct {
	Trigger  string
	LeadULID string
	Context  map[string]string
}

// LeadStore is the slice of the lead repository actions mutate.
type LeadStore interface {
	GetByULID(ctx context.Context, ulid string) (*leads.Lead, error)
	Update(ctx context.Context, ulid string, params leads.UpdateParams) (*leads.Lead, error)
	SetNeedsReview(ctx context.Context, ulid string, needsReview bool) error
	InsertActivity(ctx context.Context, params leads.ActivityParams) error
}

// Assigner routes a lead to an agent. Satisfied by the routing service.
type Assigner interface {
	AssignLead(ctx context.Context, leadULID string, agentULID string) error
}

// Mailer delivers automation emails. Satisfied by the email service.
type Mailer interface {
	SendAutomationEmail(ctx context.Context, to, subject, body string, lead *leads.Lead) error
}

// StatusChanger moves a lead through its lifecycle with the same
// transition checks the API uses. Satisfied by the lead service.
type StatusChanger interface {
	ChangeStatus(ctx context.Context, ulid string, to leads.Status, actorID *string, reason string) (*leads.Lead, error)
}

// Notifier queues an in-app notification for an agent. Satisfied by
// the job dispatcher.
type Notifier interface {
	EnqueueNotification(ctx context.Context, agentULID, leadULID string) error
}

// Engine matches events against active automations and executes their
// actions. One Run row is recorded per automation per event.
type Engine struct {
	repo     Repository
	leads    LeadStore
	assigner Assigner
	mailer   Mailer
	status   StatusChanger
	notifier Notifier
	eval     *segments.Evaluator
	logger   zerolog.Logger
}

func NewEngine(repo Repository, leadStore LeadStore, assigner Assigner, mailer Mailer, status StatusChanger, notifier Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		leads:    leadStore,
		assigner: assigner,
		mailer:   mailer,
		status:   status,
		notifier: notifier,
		eval:     segments.NewEvaluator(),
		logger:   logger,
	}
}

// HandleEvent runs every active automation registered for the event's
// trigger. Individual automation failures are recorded and do not stop
// the rest.
func (e *Engine) HandleEvent(ctx context.Context, event Event) error {
	lead, err := e.leads.GetByULID(ctx, event.LeadULID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}

	matching, err := e.repo.ListActiveByTrigger(ctx, event.Trigger)
	if err != nil {
		return fmt.Errorf("list automations: %w", err)
	}

	for i := range matching {
		automation := &matching[i]
		status, detail := e.runOne(ctx, automation, lead, event)
		if _, err := e.repo.RecordRun(ctx, RunParams{
			ULID:           ids.NewULID(),
			AutomationULID: automation.ULID,
			LeadULID:       lead.ULID,
			Trigger:        event.Trigger,
			Status:         status,
			Detail:         detail,
		}); err != nil {
			e.logger.Error().Err(err).Str("automation_ulid", automation.ULID).Msg("failed to record automation run")
		}

		// Later automations see the effects of earlier ones.
		if status == RunSucceeded {
			lead, err = e.leads.GetByULID(ctx, event.LeadULID)
			if err != nil {
				return fmt.Errorf("reload lead: %w", err)
			}
		}
	}
	return nil
}

func (e *Engine) runOne(ctx context.Context, automation *Automation, lead *leads.Lead, event Event) (RunStatus, string) {
	if len(automation.Conditions) > 0 {
		seg := &segments.Segment{MatchMode: automation.MatchMode, Rules: automation.Conditions}
		matched, err := e.eval.Match(seg, lead)
		if err != nil {
			return RunFailed, fmt.Sprintf("condition error: %v", err)
		}
		if !matched {
			return RunSkipped, "conditions not met"
		}
	}

	for i, action := range automation.Actions {
		if err := e.execute(ctx, action, lead, event); err != nil {
			return RunFailed, fmt.Sprintf("action %d (%s): %v", i, action.Type, err)
		}
	}

	e.logger.Info().
		Str("automation_ulid", automation.ULID).
		Str("lead_ulid", lead.ULID).
		Str("trigger", event.Trigger).
		Int("actions", len(automation.Actions)).
		Msg("automation executed")
	return RunSucceeded, fmt.Sprintf("%d actions executed", len(automation.Actions))
}

func (e *Engine) execute(ctx context.Context, action Action, lead *leads.Lead, event Event) error {
	get := func(key string) string {
		if action.Params == nil {
			return ""
		}
		return strings.TrimSpace(action.Params[key])
	}

	switch action.Type {
	case ActionSetPriority:
		priority := leads.Priority(get("priority"))
		if lead.Priority == priority {
			return nil
		}
		_, err := e.leads.Update(ctx, lead.ULID, leads.UpdateParams{Priority: &priority})
		return err

	case ActionSetStatus:
		status := leads.Status(get("status"))
		if lead.Status == status {
			return nil
		}
		_, err := e.status.ChangeStatus(ctx, lead.ULID, status, nil, "automation")
		return err

	case ActionAddTag:
		tag := strings.ToLower(get("tag"))
		for _, existing := range lead.Tags {
			if existing == tag {
				return nil
			}
		}
		tags := append(append([]string{}, lead.Tags...), tag)
		_, err := e.leads.Update(ctx, lead.ULID, leads.UpdateParams{Tags: tags})
		return err

	case ActionRemoveTag:
		tag := strings.ToLower(get("tag"))
		kept := make([]string, 0, len(lead.Tags))
		for _, existing := range lead.Tags {
			if existing != tag {
				kept = append(kept, existing)
			}
		}
		if len(kept) == len(lead.Tags) {
			return nil
		}
		_, err := e.leads.Update(ctx, lead.ULID, leads.UpdateParams{Tags: kept})
		return err

	case ActionAssignAgent:
		if lead.AssigneeID != nil && *lead.AssigneeID != "" {
			return nil
		}
		return e.assigner.AssignLead(ctx, lead.ULID, get("agent"))

	case ActionSendEmail:
		to := get("to")
		if to == "lead" {
			if lead.Email == "" {
				return fmt.Errorf("lead has no email address")
			}
			to = lead.Email
		}
		return e.mailer.SendAutomationEmail(ctx, to, get("subject"), get("body"), lead)

	case ActionSendNotification:
		agent := get("agent")
		if agent == "" {
			if lead.AssigneeID == nil || *lead.AssigneeID == "" {
				return fmt.Errorf("lead has no assignee to notify")
			}
			agent = *lead.AssigneeID
		}
		return e.notifier.EnqueueNotification(ctx, agent, lead.ULID)

	case ActionFlagReview:
		return e.leads.SetNeedsReview(ctx, lead.ULID, true)
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}
