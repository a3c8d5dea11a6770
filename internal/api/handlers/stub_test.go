package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/coverline/server/internal/audit"
	"github.com/coverline/server/internal/domain/leads"
)

// memLeadRepo is an in-memory leads.Repository backing the handler tests.
type memLeadRepo struct {
	leads      map[string]*leads.Lead
	byHash     map[string]*leads.Lead
	activities []leads.ActivityParams
	history    []leads.StatusHistoryParams
	idemKeys   map[string]*leads.IdempotencyKey
	nextID     int
}

func newMemLeadRepo() *memLeadRepo {
	return &memLeadRepo{
		leads:    map[string]*leads.Lead{},
		byHash:   map[string]*leads.Lead{},
		idemKeys: map[string]*leads.IdempotencyKey{},
	}
}

func (m *memLeadRepo) List(_ context.Context, _ leads.Filters, _ leads.Pagination) (leads.ListResult, error) {
	result := leads.ListResult{}
	for _, lead := range m.leads {
		if lead.DeletedAt == nil {
			result.Leads = append(result.Leads, *lead)
		}
	}
	return result, nil
}

func (m *memLeadRepo) GetByULID(_ context.Context, ulid string) (*leads.Lead, error) {
	if lead, ok := m.leads[ulid]; ok {
		copied := *lead
		return &copied, nil
	}
	return nil, leads.ErrNotFound
}

func (m *memLeadRepo) Create(_ context.Context, params leads.CreateParams) (*leads.Lead, error) {
	m.nextID++
	lead := &leads.Lead{
		ID:            "id-" + strconv.Itoa(m.nextID),
		ULID:          params.ULID,
		FirstName:     params.FirstName,
		LastName:      params.LastName,
		Email:         params.Email,
		Phone:         params.Phone,
		Company:       params.Company,
		JobTitle:      params.JobTitle,
		InsuranceType: params.InsuranceType,
		ValueEstimate: params.ValueEstimate,
		Status:        leads.StatusNew,
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
	m.leads[lead.ULID] = lead
	if lead.DedupHash != "" {
		m.byHash[lead.DedupHash] = lead
	}
	return lead, nil
}

func (m *memLeadRepo) Update(_ context.Context, ulid string, params leads.UpdateParams) (*leads.Lead, error) {
	lead, ok := m.leads[ulid]
	if !ok {
		return nil, leads.ErrNotFound
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

func (m *memLeadRepo) SoftDelete(_ context.Context, ulid string) error {
	lead, ok := m.leads[ulid]
	if !ok {
		return leads.ErrNotFound
	}
	now := time.Now().UTC()
	lead.DeletedAt = &now
	return nil
}

func (m *memLeadRepo) Assign(_ context.Context, ulid string, assigneeULID *string) (*leads.Lead, error) {
	lead, ok := m.leads[ulid]
	if !ok {
		return nil, leads.ErrNotFound
	}
	lead.AssigneeID = assigneeULID
	copied := *lead
	return &copied, nil
}

func (m *memLeadRepo) SetNeedsReview(_ context.Context, ulid string, needsReview bool) error {
	lead, ok := m.leads[ulid]
	if !ok {
		return leads.ErrNotFound
	}
	lead.NeedsReview = needsReview
	return nil
}

func (m *memLeadRepo) FindByDedupHash(_ context.Context, dedupHash string) (*leads.Lead, error) {
	if lead, ok := m.byHash[dedupHash]; ok {
		copied := *lead
		return &copied, nil
	}
	return nil, leads.ErrNotFound
}

func (m *memLeadRepo) SetStatus(_ context.Context, ulid string, status leads.Status) (*leads.Lead, error) {
	lead, ok := m.leads[ulid]
	if !ok {
		return nil, leads.ErrNotFound
	}
	lead.Status = status
	copied := *lead
	return &copied, nil
}

func (m *memLeadRepo) InsertActivity(_ context.Context, params leads.ActivityParams) error {
	m.activities = append(m.activities, params)
	return nil
}

func (m *memLeadRepo) ListActivities(_ context.Context, ulid string) ([]leads.Activity, error) {
	lead, ok := m.leads[ulid]
	if !ok {
		return nil, leads.ErrNotFound
	}
	var out []leads.Activity
	for i, params := range m.activities {
		if params.LeadID != lead.ID {
			continue
		}
		out = append(out, leads.Activity{
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

func (m *memLeadRepo) InsertStatusHistory(_ context.Context, params leads.StatusHistoryParams) error {
	m.history = append(m.history, params)
	return nil
}

func (m *memLeadRepo) ListStatusHistory(_ context.Context, ulid string) ([]leads.StatusChange, error) {
	lead, ok := m.leads[ulid]
	if !ok {
		return nil, leads.ErrNotFound
	}
	var out []leads.StatusChange
	for i, params := range m.history {
		if params.LeadID != lead.ID {
			continue
		}
		out = append(out, leads.StatusChange{
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

func (m *memLeadRepo) GetIdempotencyKey(_ context.Context, key string) (*leads.IdempotencyKey, error) {
	if entry, ok := m.idemKeys[key]; ok {
		return entry, nil
	}
	return nil, leads.ErrNotFound
}

func (m *memLeadRepo) InsertIdempotencyKey(_ context.Context, params leads.IdempotencyKeyCreateParams) (*leads.IdempotencyKey, error) {
	entry := &leads.IdempotencyKey{Key: params.Key, RequestHash: params.RequestHash}
	if params.LeadULID != "" {
		entry.LeadID = &params.LeadID
		entry.LeadULID = &params.LeadULID
	}
	m.idemKeys[params.Key] = entry
	return entry, nil
}

func (m *memLeadRepo) UpdateIdempotencyKeyLead(_ context.Context, key string, leadID string, leadULID string) error {
	entry, ok := m.idemKeys[key]
	if !ok {
		return leads.ErrNotFound
	}
	entry.LeadID = &leadID
	entry.LeadULID = &leadULID
	return nil
}

func (m *memLeadRepo) ListBySubjectEmail(_ context.Context, email string) ([]leads.Lead, error) {
	var out []leads.Lead
	for _, lead := range m.leads {
		if lead.Email == email {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (m *memLeadRepo) Anonymize(_ context.Context, ulid string) error {
	lead, ok := m.leads[ulid]
	if !ok {
		return leads.ErrNotFound
	}
	lead.FirstName = "redacted"
	lead.LastName = "redacted"
	lead.Email = ""
	lead.Phone = ""
	return nil
}

func (m *memLeadRepo) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]leads.Lead, error) {
	var out []leads.Lead
	for _, lead := range m.leads {
		if len(out) >= limit {
			break
		}
		if lead.UpdatedAt.Before(cutoff) {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (m *memLeadRepo) DeleteIdempotencyKeysBefore(_ context.Context, _ time.Time) (int64, error) {
	n := int64(len(m.idemKeys))
	m.idemKeys = map[string]*leads.IdempotencyKey{}
	return n, nil
}

// memAuditRepo is an in-memory audit.Repository. Entries are held in seq
// order, so List can honor the cursor with a linear scan.
type memAuditRepo struct {
	entries []audit.Entry
}

func (m *memAuditRepo) Last(_ context.Context) (*audit.Entry, error) {
	if len(m.entries) == 0 {
		return nil, audit.ErrNotFound
	}
	cp := m.entries[len(m.entries)-1]
	return &cp, nil
}

func (m *memAuditRepo) Insert(_ context.Context, entry *audit.Entry) (*audit.Entry, error) {
	for _, existing := range m.entries {
		if existing.Seq == entry.Seq {
			return nil, fmt.Errorf("duplicate key value violates unique constraint")
		}
	}
	stored := *entry
	stored.ID = fmt.Sprintf("id-%d", entry.Seq)
	m.entries = append(m.entries, stored)
	return &stored, nil
}

func (m *memAuditRepo) List(_ context.Context, filters audit.ListFilters, page audit.Page) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range m.entries {
		if e.Seq <= page.AfterSeq {
			continue
		}
		if filters.ActorID != "" && e.ActorID != filters.ActorID {
			continue
		}
		if filters.Action != "" && e.Action != filters.Action {
			continue
		}
		if filters.ResourceType != "" && e.ResourceType != filters.ResourceType {
			continue
		}
		out = append(out, e)
		if page.Limit > 0 && len(out) == page.Limit {
			break
		}
	}
	return out, nil
}

func (m *memAuditRepo) ListRange(_ context.Context, fromSeq, toSeq int64) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range m.entries {
		if e.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && e.Seq > toSeq {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// responseEnvelope mirrors the success payload shape for decoding in tests.
type responseEnvelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Pagination *struct {
		NextCursor string `json:"next_cursor"`
		Limit      int    `json:"limit"`
	} `json:"pagination"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return env
}
