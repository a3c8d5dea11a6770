// Package automations runs trigger/condition/action rules in response
// to lead lifecycle events.
package automations

import (
	"context"
	"errors"
	"time"

	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/segments"
)

var ErrNotFound = errors.New("automation not found")

// Trigger types mirror the lead lifecycle events the ingest and status
// paths publish.
const (
	TriggerLeadCreated         = leads.TriggerLeadCreated
	TriggerLeadStatusChanged   = leads.TriggerLeadStatusChanged
	TriggerLeadAssigned        = leads.TriggerLeadAssigned
	TriggerLeadPriorityChanged = leads.TriggerLeadPriorityChanged
	TriggerTimeBased           = leads.TriggerTimeBased
	TriggerSegmentEntered      = leads.TriggerSegmentEntered
	TriggerSegmentExited       = leads.TriggerSegmentExited
)

type ActionType string

const (
	ActionSetPriority      ActionType = "set_priority"
	ActionSetStatus        ActionType = "set_status"
	ActionAddTag           ActionType = "add_tag"
	ActionRemoveTag        ActionType = "remove_tag"
	ActionAssignAgent      ActionType = "assign_agent"
	ActionSendEmail        ActionType = "send_email"
	ActionSendNotification ActionType = "send_notification"
	ActionFlagReview       ActionType = "flag_review"
)

// Action is one step in an automation. Params are action-specific:
// set_priority needs "priority", set_status needs "status", add_tag
// and remove_tag need "tag", assign_agent takes an optional "agent"
// ULID (empty means auto-route), send_email needs "to" and "subject"
// with optional "body", send_notification needs "message".
type Action struct {
	Type   ActionType        `json:"type"`
	Params map[string]string `json:"params"`
}

type Automation struct {
	ID          string
	ULID        string
	Name        string
	Description string
	TriggerType string
	MatchMode   segments.MatchMode
	Conditions  []segments.Rule
	Actions     []Action
	IsActive    bool
	RunCount    int
	LastRunAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateParams struct {
	ULID        string
	Name        string
	Description string
	TriggerType string
	MatchMode   segments.MatchMode
	Conditions  []segments.Rule
	Actions     []Action
}

type UpdateParams struct {
	Name        *string
	Description *string
	TriggerType *string
	MatchMode   *segments.MatchMode
	Conditions  []segments.Rule
	Actions     []Action
	IsActive    *bool
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// Run records one evaluation of an automation against a lead.
type Run struct {
	ID             string
	ULID           string
	AutomationULID string
	LeadULID       string
	Trigger        string
	Status         RunStatus
	Detail         string
	CreatedAt      time.Time
}

type RunParams struct {
	ULID           string
	AutomationULID string
	LeadULID       string
	Trigger        string
	Status         RunStatus
	Detail         string
}

type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Automation, error)
	GetByULID(ctx context.Context, ulid string) (*Automation, error)
	List(ctx context.Context) ([]Automation, error)
	ListActiveByTrigger(ctx context.Context, trigger string) ([]Automation, error)
	Update(ctx context.Context, ulid string, params UpdateParams) (*Automation, error)
	Delete(ctx context.Context, ulid string) error
	// RecordRun inserts the run row and bumps run_count / last_run_at.
	RecordRun(ctx context.Context, params RunParams) (*Run, error)
	ListRuns(ctx context.Context, automationULID string, limit int) ([]Run, error)
}
