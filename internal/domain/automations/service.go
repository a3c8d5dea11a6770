package automations

import (
	"context"
	"fmt"
	"strings"

	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/segments"
)

var validTriggers = map[string]bool{
	TriggerLeadCreated:         true,
	TriggerLeadStatusChanged:   true,
	TriggerLeadAssigned:        true,
	TriggerLeadPriorityChanged: true,
	TriggerTimeBased:           true,
	TriggerSegmentEntered:      true,
	TriggerSegmentExited:       true,
}

type AutomationInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	TriggerType string          `json:"triggerType"`
	MatchMode   string          `json:"matchMode"`
	Conditions  []segments.Rule `json:"conditions"`
	Actions     []Action        `json:"actions"`
}

// ValidateAction checks the action type and its required params.
func ValidateAction(action Action) error {
	get := func(key string) string {
		if action.Params == nil {
			return ""
		}
		return strings.TrimSpace(action.Params[key])
	}
	switch action.Type {
	case ActionSetPriority:
		switch leads.Priority(get("priority")) {
		case leads.PriorityHigh, leads.PriorityMedium, leads.PriorityLow:
			return nil
		}
		return fmt.Errorf("set_priority requires priority high, medium, or low")
	case ActionSetStatus:
		switch leads.Status(get("status")) {
		case leads.StatusNew, leads.StatusContacted, leads.StatusQualified,
			leads.StatusUnqualified, leads.StatusConverted, leads.StatusLost:
			return nil
		}
		return fmt.Errorf("set_status requires a valid lead status")
	case ActionAddTag:
		if get("tag") == "" {
			return fmt.Errorf("add_tag requires a tag")
		}
		return nil
	case ActionRemoveTag:
		if get("tag") == "" {
			return fmt.Errorf("remove_tag requires a tag")
		}
		return nil
	case ActionAssignAgent:
		if agent := get("agent"); agent != "" && !ids.IsULID(agent) {
			return fmt.Errorf("assign_agent agent must be a ULID")
		}
		return nil
	case ActionSendEmail:
		if get("to") == "" || get("subject") == "" {
			return fmt.Errorf("send_email requires to and subject")
		}
		return nil
	case ActionSendNotification:
		if agent := get("agent"); agent != "" && !ids.IsULID(agent) {
			return fmt.Errorf("send_notification agent must be a ULID")
		}
		return nil
	case ActionFlagReview:
		return nil
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

func validateInput(name, trigger, matchMode string, conditions []segments.Rule, actions []Action) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("automation name is required")
	}
	if !validTriggers[trigger] {
		return fmt.Errorf("unknown trigger type %q", trigger)
	}
	switch segments.MatchMode(matchMode) {
	case segments.MatchAll, segments.MatchAny:
	default:
		return fmt.Errorf("match mode must be %q or %q", segments.MatchAll, segments.MatchAny)
	}
	for i, rule := range conditions {
		if err := segments.ValidateRule(rule); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	if len(actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	for i, action := range actions {
		if err := ValidateAction(action); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, input AutomationInput) (*Automation, error) {
	if input.MatchMode == "" {
		input.MatchMode = string(segments.MatchAll)
	}
	if err := validateInput(input.Name, input.TriggerType, input.MatchMode, input.Conditions, input.Actions); err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, CreateParams{
		ULID:        ids.NewULID(),
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		TriggerType: input.TriggerType,
		MatchMode:   segments.MatchMode(input.MatchMode),
		Conditions:  input.Conditions,
		Actions:     input.Actions,
	})
}

func (s *Service) Get(ctx context.Context, ulid string) (*Automation, error) {
	return s.repo.GetByULID(ctx, ulid)
}

func (s *Service) List(ctx context.Context) ([]Automation, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, ulid string, input AutomationInput) (*Automation, error) {
	current, err := s.repo.GetByULID(ctx, ulid)
	if err != nil {
		return nil, err
	}
	name := current.Name
	if input.Name != "" {
		name = input.Name
	}
	trigger := current.TriggerType
	if input.TriggerType != "" {
		trigger = input.TriggerType
	}
	mode := string(current.MatchMode)
	if input.MatchMode != "" {
		mode = input.MatchMode
	}
	conditions := current.Conditions
	if input.Conditions != nil {
		conditions = input.Conditions
	}
	actions := current.Actions
	if input.Actions != nil {
		actions = input.Actions
	}
	if err := validateInput(name, trigger, mode, conditions, actions); err != nil {
		return nil, err
	}

	params := UpdateParams{Conditions: input.Conditions, Actions: input.Actions}
	if input.Name != "" {
		params.Name = &input.Name
	}
	if input.Description != "" {
		params.Description = &input.Description
	}
	if input.TriggerType != "" {
		params.TriggerType = &input.TriggerType
	}
	if input.MatchMode != "" {
		m := segments.MatchMode(input.MatchMode)
		params.MatchMode = &m
	}
	return s.repo.Update(ctx, ulid, params)
}

func (s *Service) SetActive(ctx context.Context, ulid string, active bool) (*Automation, error) {
	return s.repo.Update(ctx, ulid, UpdateParams{IsActive: &active})
}

func (s *Service) Delete(ctx context.Context, ulid string) error {
	return s.repo.Delete(ctx, ulid)
}

func (s *Service) Runs(ctx context.Context, ulid string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if _, err := s.repo.GetByULID(ctx, ulid); err != nil {
		return nil, err
	}
	return s.repo.ListRuns(ctx, ulid, limit)
}
