package leads

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// stubRepo is an in-memory Repository used across the package tests.
type stubRepo struct {
	leads      map[string]*Lead
	byHash     map[string]*Lead
	activities []ActivityParams
	history    []StatusHistoryParams
	idemKeys   map[string]*IdempotencyKey
	nextID     int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		leads:    map[string]*Lead{},
		byHash:   map[string]*Lead{},
		idemKeys: map[string]*IdempotencyKey{},
	}
}

func (s *stubRepo) List(_ context.Context, _ Filters, _ Pagination) (ListResult, error) {
	result := ListResult{}
	for _, lead := range s.leads {
		if lead.DeletedAt == nil {
			result.Leads = append(result.Leads, *lead)
		}
	}
	return result, nil
}

func (s *stubRepo) GetByULID(_ context.Context, ulid string) (*Lead, error) {
	if lead, ok := s.leads[ulid]; ok {
		copied := *lead
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *stubRepo) Create(_ context.Context, params CreateParams) (*Lead, error) {
	s.nextID++
	lead := &Lead{
		ID:            "id-" + strconv.Itoa(s.nextID),
		ULID:          params.ULID,
		FirstName:     params.FirstName,
		LastName:      params.LastName,
		Email:         params.Email,
		Phone:         params.Phone,
		Company:       params.Company,
		JobTitle:      params.JobTitle,
		InsuranceType: params.InsuranceType,
		ValueEstimate: params.ValueEstimate,
		Status:        StatusNew,
		Priority:      params.Priority,
		Source:        params.Source,
		Campaign:      params.Campaign,
		AddressLine:   params.AddressLine,
		City:          params.City,
		State:         params.State,
		ZipCode:       params.ZipCode,
		Country:       params.Country,
		Tags:          params.Tags,
		FollowUpOn:    params.FollowUpOn,
		DedupHash:     params.DedupHash,
		NeedsReview:   params.NeedsReview,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	s.leads[lead.ULID] = lead
	if lead.DedupHash != "" {
		s.byHash[lead.DedupHash] = lead
	}
	return lead, nil
}

func (s *stubRepo) Update(_ context.Context, ulid string, params UpdateParams) (*Lead, error) {
	lead, ok := s.leads[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	if params.FirstName != nil {
		lead.FirstName = *params.FirstName
	}
	if params.LastName != nil {
		lead.LastName = *params.LastName
	}
	if params.Phone != nil {
		lead.Phone = *params.Phone
	}
	if params.Company != nil {
		lead.Company = *params.Company
	}
	if params.InsuranceType != nil {
		lead.InsuranceType = *params.InsuranceType
	}
	if params.ValueEstimate != nil {
		lead.ValueEstimate = *params.ValueEstimate
	}
	if params.Priority != nil {
		lead.Priority = *params.Priority
	}
	if params.City != nil {
		lead.City = *params.City
	}
	if params.State != nil {
		lead.State = *params.State
	}
	if params.Tags != nil {
		lead.Tags = params.Tags
	}
	lead.UpdatedAt = time.Now().UTC()
	copied := *lead
	return &copied, nil
}

func (s *stubRepo) SoftDelete(_ context.Context, ulid string) error {
	lead, ok := s.leads[ulid]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	lead.DeletedAt = &now
	return nil
}

func (s *stubRepo) Assign(_ context.Context, ulid string, assigneeULID *string) (*Lead, error) {
	lead, ok := s.leads[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	lead.AssigneeID = assigneeULID
	lead.UpdatedAt = time.Now().UTC()
	copied := *lead
	return &copied, nil
}

func (s *stubRepo) SetNeedsReview(_ context.Context, ulid string, needsReview bool) error {
	lead, ok := s.leads[ulid]
	if !ok {
		return ErrNotFound
	}
	lead.NeedsReview = needsReview
	return nil
}

func (s *stubRepo) FindByDedupHash(_ context.Context, dedupHash string) (*Lead, error) {
	if lead, ok := s.byHash[dedupHash]; ok {
		copied := *lead
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *stubRepo) SetStatus(_ context.Context, ulid string, status Status) (*Lead, error) {
	lead, ok := s.leads[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	lead.Status = status
	copied := *lead
	return &copied, nil
}

func (s *stubRepo) InsertActivity(_ context.Context, params ActivityParams) error {
	s.activities = append(s.activities, params)
	return nil
}

func (s *stubRepo) ListActivities(_ context.Context, ulid string) ([]Activity, error) {
	lead, ok := s.leads[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	var out []Activity
	for i, params := range s.activities {
		if params.LeadID != lead.ID {
			continue
		}
		out = append(out, Activity{
			ID:           "act-" + strconv.Itoa(i),
			LeadID:       params.LeadID,
			ActorID:      params.ActorID,
			ActivityType: params.ActivityType,
			Description:  params.Description,
			OldValue:     params.OldValue,
			NewValue:     params.NewValue,
			Metadata:     params.Metadata,
			CreatedAt:    time.Now().UTC(),
		})
	}
	return out, nil
}

func (s *stubRepo) InsertStatusHistory(_ context.Context, params StatusHistoryParams) error {
	s.history = append(s.history, params)
	return nil
}

func (s *stubRepo) ListStatusHistory(_ context.Context, ulid string) ([]StatusChange, error) {
	lead, ok := s.leads[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	var out []StatusChange
	for i, params := range s.history {
		if params.LeadID != lead.ID {
			continue
		}
		out = append(out, StatusChange{
			ID:        "sc-" + strconv.Itoa(i),
			LeadID:    params.LeadID,
			OldStatus: params.OldStatus,
			NewStatus: params.NewStatus,
			ChangedBy: params.ChangedBy,
			Reason:    params.Reason,
			CreatedAt: time.Now().UTC(),
		})
	}
	return out, nil
}

func (s *stubRepo) GetIdempotencyKey(_ context.Context, key string) (*IdempotencyKey, error) {
	if entry, ok := s.idemKeys[key]; ok {
		return entry, nil
	}
	return nil, ErrNotFound
}

func (s *stubRepo) InsertIdempotencyKey(_ context.Context, params IdempotencyKeyCreateParams) (*IdempotencyKey, error) {
	entry := &IdempotencyKey{Key: params.Key, RequestHash: params.RequestHash}
	if params.LeadULID != "" {
		entry.LeadID = &params.LeadID
		entry.LeadULID = &params.LeadULID
	}
	s.idemKeys[params.Key] = entry
	return entry, nil
}

func (s *stubRepo) UpdateIdempotencyKeyLead(_ context.Context, key string, leadID string, leadULID string) error {
	entry, ok := s.idemKeys[key]
	if !ok {
		return ErrNotFound
	}
	entry.LeadID = &leadID
	entry.LeadULID = &leadULID
	return nil
}

func (s *stubRepo) ListBySubjectEmail(_ context.Context, email string) ([]Lead, error) {
	var out []Lead
	for _, lead := range s.leads {
		if lead.Email == email {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (s *stubRepo) Anonymize(_ context.Context, ulid string) error {
	lead, ok := s.leads[ulid]
	if !ok {
		return ErrNotFound
	}
	lead.FirstName = "redacted"
	lead.LastName = "redacted"
	lead.Email = ""
	lead.Phone = ""
	return nil
}

func (s *stubRepo) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]Lead, error) {
	var out []Lead
	for _, lead := range s.leads {
		if len(out) >= limit {
			break
		}
		if lead.UpdatedAt.Before(cutoff) {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (s *stubRepo) DeleteIdempotencyKeysBefore(_ context.Context, _ time.Time) (int64, error) {
	n := int64(len(s.idemKeys))
	s.idemKeys = map[string]*IdempotencyKey{}
	return n, nil
}

// stubDispatcher records enqueued side effects.
type stubDispatcher struct {
	assignments []string
	triggers    []string
	failAssign  bool
}

func (d *stubDispatcher) EnqueueAssignment(_ context.Context, leadULID string) error {
	if d.failAssign {
		return errors.New("queue unavailable")
	}
	d.assignments = append(d.assignments, leadULID)
	return nil
}

func (d *stubDispatcher) EnqueueTrigger(_ context.Context, trigger string, leadULID string, _ map[string]string) error {
	d.triggers = append(d.triggers, trigger+":"+leadULID)
	return nil
}

// stubReleaser records agents handed back to routing.
type stubReleaser struct {
	released []string
}

func (r *stubReleaser) Release(_ context.Context, agentULID string) error {
	r.released = append(r.released, agentULID)
	return nil
}
