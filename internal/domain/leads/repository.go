package leads

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("lead not found")

var ErrConflict = errors.New("lead conflict")

type Status string

const (
	StatusNew         Status = "new"
	StatusContacted   Status = "contacted"
	StatusQualified   Status = "qualified"
	StatusUnqualified Status = "unqualified"
	StatusConverted   Status = "converted"
	StatusLost        Status = "lost"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ActivityType labels a timeline entry on the lead.
type ActivityType string

const (
	ActivityCreated       ActivityType = "created"
	ActivityUpdated       ActivityType = "updated"
	ActivityAssigned      ActivityType = "assigned"
	ActivityReassigned    ActivityType = "reassigned"
	ActivityStatusChanged ActivityType = "status_changed"
	ActivityDeleted       ActivityType = "deleted"
	ActivityViewed        ActivityType = "viewed"
	ActivityExported      ActivityType = "exported"
)

type Lead struct {
	ID            string
	ULID          string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Company       string
	JobTitle      string
	InsuranceType string
	ValueEstimate float64
	Status        Status
	Priority      Priority
	Source        string
	Campaign      string
	AssigneeID    *string
	AddressLine   string
	City          string
	State         string
	ZipCode       string
	Country       string
	Tags          []string
	FollowUpOn    *time.Time
	DedupHash     string
	NeedsReview   bool
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (l Lead) FullName() string {
	return l.FirstName + " " + l.LastName
}

type CreateParams struct {
	ULID          string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Company       string
	JobTitle      string
	InsuranceType string
	ValueEstimate float64
	Priority      Priority
	Source        string
	Campaign      string
	AddressLine   string
	City          string
	State         string
	ZipCode       string
	Country       string
	Tags          []string
	FollowUpOn    *time.Time
	DedupHash     string
	NeedsReview   bool
}

// UpdateParams carries a partial update; nil fields are left unchanged.
type UpdateParams struct {
	FirstName     *string
	LastName      *string
	Phone         *string
	Company       *string
	JobTitle      *string
	InsuranceType *string
	ValueEstimate *float64
	Priority      *Priority
	Campaign      *string
	AddressLine   *string
	City          *string
	State         *string
	ZipCode       *string
	Country       *string
	Tags          []string
	FollowUpOn    *time.Time
}

type ActivityParams struct {
	LeadID       string
	ActorID      *string
	ActivityType ActivityType
	Description  string
	OldValue     string
	NewValue     string
	Metadata     map[string]string
}

type Activity struct {
	ID           string
	LeadID       string
	ActorID      *string
	ActivityType ActivityType
	Description  string
	OldValue     string
	NewValue     string
	Metadata     map[string]string
	CreatedAt    time.Time
}

type StatusChange struct {
	ID        string
	LeadID    string
	OldStatus Status
	NewStatus Status
	ChangedBy *string
	Reason    string
	CreatedAt time.Time
}

type StatusHistoryParams struct {
	LeadID    string
	OldStatus Status
	NewStatus Status
	ChangedBy *string
	Reason    string
}

type IdempotencyKey struct {
	Key         string
	RequestHash string
	LeadID      *string
	LeadULID    *string
}

type IdempotencyKeyCreateParams struct {
	Key         string
	RequestHash string
	LeadID      string
	LeadULID    string
}

type Filters struct {
	Status        Status
	Priority      Priority
	InsuranceType string
	Source        string
	AssigneeULID  string
	State         string
	City          string
	Query         string
	Tags          []string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	NeedsReview   *bool
}

type Pagination struct {
	Limit int
	After string
}

type ListResult struct {
	Leads      []Lead
	NextCursor string
}

type Repository interface {
	List(ctx context.Context, filters Filters, pagination Pagination) (ListResult, error)
	GetByULID(ctx context.Context, ulid string) (*Lead, error)
	Create(ctx context.Context, params CreateParams) (*Lead, error)
	Update(ctx context.Context, ulid string, params UpdateParams) (*Lead, error)
	SoftDelete(ctx context.Context, ulid string) error
	Assign(ctx context.Context, ulid string, assigneeULID *string) (*Lead, error)
	SetNeedsReview(ctx context.Context, ulid string, needsReview bool) error
	FindByDedupHash(ctx context.Context, dedupHash string) (*Lead, error)
	SetStatus(ctx context.Context, ulid string, status Status) (*Lead, error)
	InsertActivity(ctx context.Context, params ActivityParams) error
	ListActivities(ctx context.Context, ulid string) ([]Activity, error)
	InsertStatusHistory(ctx context.Context, params StatusHistoryParams) error
	ListStatusHistory(ctx context.Context, ulid string) ([]StatusChange, error)
	GetIdempotencyKey(ctx context.Context, key string) (*IdempotencyKey, error)
	InsertIdempotencyKey(ctx context.Context, params IdempotencyKeyCreateParams) (*IdempotencyKey, error)
	UpdateIdempotencyKeyLead(ctx context.Context, key string, leadID string, leadULID string) error
	ListBySubjectEmail(ctx context.Context, email string) ([]Lead, error)
	Anonymize(ctx context.Context, ulid string) error
	// ListExpired returns terminal-status leads last touched before cutoff
	// that have not been anonymized yet.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]Lead, error)
	DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
