package leads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coverline/server/internal/domain/ids"
)

// ErrInvalidTransition is returned for a status change the lifecycle does
// not allow (e.g. new -> converted without qualification).
var ErrInvalidTransition = errors.New("invalid status transition")

// WorkloadReleaser frees an agent's routing capacity when an assigned
// lead leaves the active pipeline. The routing service implements it.
type WorkloadReleaser interface {
	Release(ctx context.Context, agentULID string) error
}

type Service struct {
	repo       Repository
	releaser   WorkloadReleaser
	dispatcher Dispatcher
}

// NewService wires the lead lifecycle. releaser and dispatcher may be
// nil; workload release and automation triggers are then skipped.
func NewService(repo Repository, releaser WorkloadReleaser, dispatcher Dispatcher) *Service {
	return &Service{repo: repo, releaser: releaser, dispatcher: dispatcher}
}

func (s *Service) List(ctx context.Context, filters Filters, pagination Pagination) (ListResult, error) {
	return s.repo.List(ctx, filters, pagination)
}

func (s *Service) GetByULID(ctx context.Context, ulid string) (*Lead, error) {
	return s.repo.GetByULID(ctx, ulid)
}

// UpdateInput is a partial lead update. Nil fields are untouched.
type UpdateInput struct {
	FirstName     *string   `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName      *string   `json:"last_name" validate:"omitempty,min=1,max=100"`
	Phone         *string   `json:"phone" validate:"omitempty,max=50"`
	Company       *string   `json:"company" validate:"omitempty,max=200"`
	JobTitle      *string   `json:"job_title" validate:"omitempty,max=100"`
	InsuranceType *string   `json:"insurance_type" validate:"omitempty,oneof=auto home life health commercial other"`
	ValueEstimate *float64  `json:"value_estimate" validate:"omitempty,gte=0"`
	Priority      *string   `json:"priority" validate:"omitempty,oneof=high medium low"`
	Campaign      *string   `json:"campaign" validate:"omitempty,max=200"`
	AddressLine   *string   `json:"address" validate:"omitempty,max=500"`
	City          *string   `json:"city" validate:"omitempty,max=100"`
	State         *string   `json:"state" validate:"omitempty,max=100"`
	ZipCode       *string   `json:"zip_code" validate:"omitempty,max=20"`
	Country       *string   `json:"country" validate:"omitempty,max=100"`
	Tags          []string  `json:"tags" validate:"omitempty,dive,max=50"`
	FollowUpOn    *string   `json:"follow_up_on" validate:"omitempty,datetime=2006-01-02"`
}

// Update applies a partial update and records one `updated` activity per
// changed field so the timeline shows the before/after values.
func (s *Service) Update(ctx context.Context, ulid string, input UpdateInput, actorID *string) (*Lead, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	current, err := s.repo.GetByULID(ctx, ulid)
	if err != nil {
		return nil, err
	}

	params := UpdateParams{
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Phone:         input.Phone,
		Company:       input.Company,
		JobTitle:      input.JobTitle,
		InsuranceType: input.InsuranceType,
		ValueEstimate: input.ValueEstimate,
		Campaign:      input.Campaign,
		AddressLine:   input.AddressLine,
		City:          input.City,
		State:         input.State,
		ZipCode:       input.ZipCode,
		Country:       input.Country,
		Tags:          input.Tags,
	}
	if input.Priority != nil {
		priority := Priority(*input.Priority)
		params.Priority = &priority
	}
	if input.FollowUpOn != nil {
		parsed, parseErr := time.Parse("2006-01-02", *input.FollowUpOn)
		if parseErr != nil {
			return nil, FilterError{Field: "follow_up_on", Message: "must be an ISO8601 date"}
		}
		params.FollowUpOn = &parsed
	}

	updated, err := s.repo.Update(ctx, ulid, params)
	if err != nil {
		return nil, err
	}

	for _, change := range diffLead(current, updated) {
		activity := ActivityParams{
			LeadID:       updated.ID,
			ActorID:      actorID,
			ActivityType: ActivityUpdated,
			Description:  fmt.Sprintf("%s changed", change.field),
			OldValue:     change.old,
			NewValue:     change.new,
		}
		if err := s.repo.InsertActivity(ctx, activity); err != nil {
			return nil, fmt.Errorf("record update activity: %w", err)
		}
	}

	if s.dispatcher != nil && current.Priority != updated.Priority {
		if err := s.dispatcher.EnqueueTrigger(ctx, TriggerLeadPriorityChanged, updated.ULID, map[string]string{
			"from": string(current.Priority),
			"to":   string(updated.Priority),
		}); err != nil {
			return nil, fmt.Errorf("enqueue trigger: %w", err)
		}
	}

	return updated, nil
}

// Delete soft-deletes a lead; it disappears from lists and routing but the
// row is retained for the audit trail until retention anonymizes it.
func (s *Service) Delete(ctx context.Context, ulid string, actorID *string) error {
	lead, err := s.repo.GetByULID(ctx, ulid)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, ulid); err != nil {
		return err
	}
	// Terminal leads already gave the slot back at their last transition.
	if !isTerminalStatus(lead.Status) {
		if err := s.releaseAssignee(ctx, lead); err != nil {
			return err
		}
	}
	return s.repo.InsertActivity(ctx, ActivityParams{
		LeadID:       lead.ID,
		ActorID:      actorID,
		ActivityType: ActivityDeleted,
		Description:  "lead deleted",
	})
}

// releaseAssignee gives the assigned agent a routing slot back. Called
// when a lead is deleted or reaches a terminal status.
func (s *Service) releaseAssignee(ctx context.Context, lead *Lead) error {
	if s.releaser == nil || lead.AssigneeID == nil || *lead.AssigneeID == "" {
		return nil
	}
	if err := s.releaser.Release(ctx, *lead.AssigneeID); err != nil {
		return fmt.Errorf("release agent workload: %w", err)
	}
	return nil
}

var statusTransitions = map[Status][]Status{
	StatusNew:         {StatusContacted, StatusQualified, StatusUnqualified, StatusLost},
	StatusContacted:   {StatusQualified, StatusUnqualified, StatusLost},
	StatusQualified:   {StatusContacted, StatusConverted, StatusUnqualified, StatusLost},
	StatusUnqualified: {StatusQualified},
	// Terminal states only leave via an explicit reopen to qualified.
	StatusConverted: {StatusQualified},
	StatusLost:      {StatusQualified},
}

func isTerminalStatus(status Status) bool {
	return status == StatusConverted || status == StatusLost
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ChangeStatus performs a guarded transition, recording history and an
// activity entry. Returns ErrInvalidTransition when the lifecycle forbids it.
func (s *Service) ChangeStatus(ctx context.Context, ulid string, to Status, actorID *string, reason string) (*Lead, error) {
	if !isAllowedStatus(string(to)) {
		return nil, FilterError{Field: "status", Message: "unknown status"}
	}

	current, err := s.repo.GetByULID(ctx, ulid)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}

	updated, err := s.repo.SetStatus(ctx, ulid, to)
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertStatusHistory(ctx, StatusHistoryParams{
		LeadID:    updated.ID,
		OldStatus: current.Status,
		NewStatus: to,
		ChangedBy: actorID,
		Reason:    reason,
	}); err != nil {
		return nil, fmt.Errorf("record status history: %w", err)
	}

	if err := s.repo.InsertActivity(ctx, ActivityParams{
		LeadID:       updated.ID,
		ActorID:      actorID,
		ActivityType: ActivityStatusChanged,
		Description:  reason,
		OldValue:     string(current.Status),
		NewValue:     string(to),
	}); err != nil {
		return nil, fmt.Errorf("record status activity: %w", err)
	}

	// Converted and lost leads no longer occupy the agent's caseload.
	if isTerminalStatus(to) && !isTerminalStatus(current.Status) {
		if err := s.releaseAssignee(ctx, updated); err != nil {
			return nil, err
		}
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.EnqueueTrigger(ctx, TriggerLeadStatusChanged, updated.ULID, map[string]string{
			"from": string(current.Status),
			"to":   string(to),
		}); err != nil {
			return nil, fmt.Errorf("enqueue trigger: %w", err)
		}
	}

	return updated, nil
}

type FilterError struct {
	Field   string
	Message string
}

func (e FilterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func ParseFilters(values url.Values) (Filters, Pagination, error) {
	filters := Filters{}
	pagination := Pagination{Limit: 50}

	status := strings.ToLower(strings.TrimSpace(values.Get("status")))
	if status != "" {
		if !isAllowedStatus(status) {
			return filters, pagination, FilterError{Field: "status", Message: "unsupported status"}
		}
		filters.Status = Status(status)
	}

	priority := strings.ToLower(strings.TrimSpace(values.Get("priority")))
	if priority != "" {
		if !isAllowedPriority(priority) {
			return filters, pagination, FilterError{Field: "priority", Message: "unsupported priority"}
		}
		filters.Priority = Priority(priority)
	}

	insuranceType := strings.ToLower(strings.TrimSpace(values.Get("insuranceType")))
	if insuranceType != "" {
		if !IsAllowedInsuranceType(insuranceType) {
			return filters, pagination, FilterError{Field: "insuranceType", Message: "unsupported insurance type"}
		}
		filters.InsuranceType = insuranceType
	}

	source := strings.ToLower(strings.TrimSpace(values.Get("source")))
	if source != "" {
		if !IsAllowedSource(source) {
			return filters, pagination, FilterError{Field: "source", Message: "unsupported lead source"}
		}
		filters.Source = source
	}

	filters.AssigneeULID = strings.TrimSpace(values.Get("assigneeId"))
	if filters.AssigneeULID != "" {
		if err := ids.ValidateULID(filters.AssigneeULID); err != nil {
			return filters, pagination, FilterError{Field: "assigneeId", Message: "invalid ULID"}
		}
	}

	filters.State = strings.TrimSpace(values.Get("state"))
	filters.City = strings.TrimSpace(values.Get("city"))
	filters.Query = strings.TrimSpace(values.Get("q"))
	filters.Tags = parseTags(values.Get("tags"))

	createdFrom, err := parseDate("createdFrom", values.Get("createdFrom"))
	if err != nil {
		return filters, pagination, err
	}
	createdTo, err := parseDate("createdTo", values.Get("createdTo"))
	if err != nil {
		return filters, pagination, err
	}
	if createdFrom != nil && createdTo != nil && createdTo.Before(*createdFrom) {
		return filters, pagination, FilterError{Field: "createdTo", Message: "must be on or after createdFrom"}
	}
	filters.CreatedFrom = createdFrom
	filters.CreatedTo = createdTo

	if raw := strings.TrimSpace(values.Get("needsReview")); raw != "" {
		parsed, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			return filters, pagination, FilterError{Field: "needsReview", Message: "must be true or false"}
		}
		filters.NeedsReview = &parsed
	}

	limit, err := parseLimit(values)
	if err != nil {
		return filters, pagination, err
	}
	pagination.Limit = limit

	pagination.After = strings.TrimSpace(values.Get("after"))

	return filters, pagination, nil
}

func parseDate(field string, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, FilterError{Field: field, Message: "must be ISO8601 date"}
	}
	return &parsed, nil
}

func parseTags(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			tags = append(tags, item)
		}
	}
	return tags
}

func parseLimit(values url.Values) (int, error) {
	limit := 50
	rawLimit := strings.TrimSpace(values.Get("limit"))
	if rawLimit == "" {
		return limit, nil
	}
	parsed, err := strconv.Atoi(rawLimit)
	if err != nil {
		return 0, FilterError{Field: "limit", Message: "must be a number"}
	}
	if parsed < 1 || parsed > 200 {
		return 0, FilterError{Field: "limit", Message: "must be between 1 and 200"}
	}
	return parsed, nil
}

func isAllowedStatus(value string) bool {
	switch Status(value) {
	case StatusNew, StatusContacted, StatusQualified, StatusUnqualified, StatusConverted, StatusLost:
		return true
	default:
		return false
	}
}

func isAllowedPriority(value string) bool {
	switch Priority(value) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// IsAllowedInsuranceType reports whether value is a supported line of business.
func IsAllowedInsuranceType(value string) bool {
	switch value {
	case "auto", "home", "life", "health", "commercial", "other":
		return true
	default:
		return false
	}
}

// IsAllowedSource reports whether value is a recognized lead source channel.
func IsAllowedSource(value string) bool {
	switch value {
	case "web_form", "call", "referral", "paid_ads", "organic", "social_media", "email", "partner", "other":
		return true
	default:
		return false
	}
}

type fieldChange struct {
	field string
	old   string
	new   string
}

func diffLead(before, after *Lead) []fieldChange {
	changes := []fieldChange{}
	compare := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, fieldChange{field: field, old: oldValue, new: newValue})
		}
	}
	compare("first_name", before.FirstName, after.FirstName)
	compare("last_name", before.LastName, after.LastName)
	compare("phone", before.Phone, after.Phone)
	compare("company", before.Company, after.Company)
	compare("job_title", before.JobTitle, after.JobTitle)
	compare("insurance_type", before.InsuranceType, after.InsuranceType)
	compare("value_estimate", strconv.FormatFloat(before.ValueEstimate, 'f', -1, 64), strconv.FormatFloat(after.ValueEstimate, 'f', -1, 64))
	compare("priority", string(before.Priority), string(after.Priority))
	compare("campaign", before.Campaign, after.Campaign)
	compare("address", before.AddressLine, after.AddressLine)
	compare("city", before.City, after.City)
	compare("state", before.State, after.State)
	compare("zip_code", before.ZipCode, after.ZipCode)
	compare("country", before.Country, after.Country)
	compare("tags", strings.Join(before.Tags, ","), strings.Join(after.Tags, ","))
	return changes
}
