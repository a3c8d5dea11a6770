package segments

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coverline/server/internal/domain/leads"
)

func sampleLead() *leads.Lead {
	assignee := "01JAGENT0000000000000000AA"
	return &leads.Lead{
		ID:            "id-1",
		ULID:          "01JXEAD000000000000000000A",
		Email:         "pat@example.com",
		Company:       "Acme Logistics",
		InsuranceType: "commercial",
		ValueEstimate: 48000,
		Status:        leads.StatusQualified,
		Priority:      leads.PriorityHigh,
		Source:        "referral",
		State:         "TX",
		City:          "Austin",
		Tags:          []string{"fleet", "renewal"},
		AssigneeID:    &assignee,
		CreatedAt:     time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestMatchRuleOperators(t *testing.T) {
	eval := NewEvaluator()
	lead := sampleLead()

	cases := []struct {
		name string
		rule Rule
		want bool
	}{
		{"equals", Rule{Field: "status", Operator: "equals", Value: "qualified"}, true},
		{"equals miss", Rule{Field: "status", Operator: "equals", Value: "new"}, false},
		{"not_equals", Rule{Field: "source", Operator: "not_equals", Value: "web_form"}, true},
		{"contains string", Rule{Field: "company", Operator: "contains", Value: "Acme"}, true},
		{"not_contains string", Rule{Field: "company", Operator: "not_contains", Value: "Retail"}, true},
		{"contains tag", Rule{Field: "tags", Operator: "contains", Value: "fleet"}, true},
		{"contains tag miss", Rule{Field: "tags", Operator: "contains", Value: "new-business"}, false},
		{"starts_with", Rule{Field: "email", Operator: "starts_with", Value: "pat@"}, true},
		{"ends_with", Rule{Field: "email", Operator: "ends_with", Value: "@example.com"}, true},
		{"greater_than", Rule{Field: "value_estimate", Operator: "greater_than", Value: "40000"}, true},
		{"less_than", Rule{Field: "value_estimate", Operator: "less_than", Value: "40000"}, false},
		{"in", Rule{Field: "state", Operator: "in", Value: "TX, OK, NM"}, true},
		{"in miss", Rule{Field: "state", Operator: "in", Value: "CA, NY"}, false},
		{"not_in", Rule{Field: "state", Operator: "not_in", Value: "CA, NY"}, true},
		{"not_in miss", Rule{Field: "state", Operator: "not_in", Value: "TX, OK"}, false},
		{"created after", Rule{Field: "created_at", Operator: "greater_than", Value: "2026-01-01"}, true},
		{"created before", Rule{Field: "created_at", Operator: "less_than", Value: "2026-01-01"}, false},
		{"is_set", Rule{Field: "campaign", Operator: "is_not_set"}, true},
		{"bool equals", Rule{Field: "assigned", Operator: "equals", Value: "true"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eval.MatchRule(tc.rule, lead)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestValidateRuleRejections(t *testing.T) {
	cases := []Rule{
		{Field: "favorite_color", Operator: "equals", Value: "blue"},
		{Field: "status", Operator: "approximately", Value: "new"},
		{Field: "status", Operator: "greater_than", Value: "5"},
		{Field: "value_estimate", Operator: "greater_than", Value: "lots"},
		{Field: "status", Operator: "equals", Value: ""},
		{Field: "created_at", Operator: "greater_than", Value: "last tuesday"},
		{Field: "created_at", Operator: "starts_with", Value: "2026"},
		{Field: "created_at", Operator: "in", Value: "2026-01-01, 2026-02-01"},
	}
	for _, rule := range cases {
		require.Error(t, ValidateRule(rule), "rule %+v", rule)
	}
}

func TestMatchModes(t *testing.T) {
	eval := NewEvaluator()
	lead := sampleLead()

	rules := []Rule{
		{Field: "status", Operator: "equals", Value: "qualified"},
		{Field: "state", Operator: "equals", Value: "CA"},
	}

	all := &Segment{MatchMode: MatchAll, Rules: rules}
	matched, err := eval.Match(all, lead)
	require.NoError(t, err)
	require.False(t, matched)

	anyMode := &Segment{MatchMode: MatchAny, Rules: rules}
	matched, err = eval.Match(anyMode, lead)
	require.NoError(t, err)
	require.True(t, matched)

	empty := &Segment{MatchMode: MatchAll}
	matched, err = eval.Match(empty, lead)
	require.NoError(t, err)
	require.False(t, matched)
}

type stubSegmentRepo struct {
	segments map[string]*Segment
	members  map[string][]string
	nextID   int
}

func newStubSegmentRepo() *stubSegmentRepo {
	return &stubSegmentRepo{segments: map[string]*Segment{}, members: map[string][]string{}}
}

func (r *stubSegmentRepo) Create(_ context.Context, params CreateParams) (*Segment, error) {
	r.nextID++
	seg := &Segment{
		ID:          "id-" + strconv.Itoa(r.nextID),
		ULID:        params.ULID,
		Name:        params.Name,
		Description: params.Description,
		MatchMode:   params.MatchMode,
		Rules:       params.Rules,
		Dynamic:     params.Dynamic,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	r.segments[seg.ULID] = seg
	return seg, nil
}

func (r *stubSegmentRepo) GetByULID(_ context.Context, ulid string) (*Segment, error) {
	seg, ok := r.segments[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (r *stubSegmentRepo) List(_ context.Context) ([]Segment, error) {
	var out []Segment
	for _, seg := range r.segments {
		out = append(out, *seg)
	}
	return out, nil
}

func (r *stubSegmentRepo) Update(_ context.Context, ulid string, params UpdateParams) (*Segment, error) {
	seg, ok := r.segments[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	if params.Name != nil {
		seg.Name = *params.Name
	}
	if params.Description != nil {
		seg.Description = *params.Description
	}
	if params.MatchMode != nil {
		seg.MatchMode = *params.MatchMode
	}
	if params.Rules != nil {
		seg.Rules = params.Rules
	}
	if params.Dynamic != nil {
		seg.Dynamic = *params.Dynamic
	}
	cp := *seg
	return &cp, nil
}

func (r *stubSegmentRepo) Delete(_ context.Context, ulid string) error {
	delete(r.segments, ulid)
	return nil
}

func (r *stubSegmentRepo) ReplaceMembers(_ context.Context, ulid string, leadULIDs []string) error {
	seg, ok := r.segments[ulid]
	if !ok {
		return ErrNotFound
	}
	r.members[ulid] = leadULIDs
	seg.MemberCount = len(leadULIDs)
	now := time.Now().UTC()
	seg.LastRefreshedAt = &now
	return nil
}

func (r *stubSegmentRepo) ListMembers(_ context.Context, ulid string) ([]string, error) {
	return r.members[ulid], nil
}

type stubLeadLister struct {
	leads []leads.Lead
}

func (s *stubLeadLister) List(_ context.Context, _ leads.Filters, _ leads.Pagination) (leads.ListResult, error) {
	return leads.ListResult{Leads: s.leads}, nil
}

func (s *stubLeadLister) GetByULID(_ context.Context, ulid string) (*leads.Lead, error) {
	for i := range s.leads {
		if s.leads[i].ULID == ulid {
			cp := s.leads[i]
			return &cp, nil
		}
	}
	return nil, leads.ErrNotFound
}

type stubSegmentDispatcher struct {
	triggers []string
}

func (d *stubSegmentDispatcher) EnqueueAssignment(_ context.Context, _ string) error { return nil }

func (d *stubSegmentDispatcher) EnqueueTrigger(_ context.Context, trigger string, leadULID string, _ map[string]string) error {
	d.triggers = append(d.triggers, trigger+":"+leadULID)
	return nil
}

func TestCreateValidatesRules(t *testing.T) {
	svc := NewService(newStubSegmentRepo(), &stubLeadLister{}, nil, zerolog.Nop())

	_, err := svc.Create(context.Background(), SegmentInput{
		Name:  "bad",
		Rules: []Rule{{Field: "nope", Operator: "equals", Value: "x"}},
	})
	require.Error(t, err)

	seg, err := svc.Create(context.Background(), SegmentInput{
		Name:  "texas-qualified",
		Rules: []Rule{{Field: "state", Operator: "equals", Value: "TX"}},
	})
	require.NoError(t, err)
	require.Equal(t, MatchAll, seg.MatchMode)
	require.True(t, seg.Dynamic)

	static := false
	seg, err = svc.Create(context.Background(), SegmentInput{
		Name:    "snapshot",
		Rules:   []Rule{{Field: "state", Operator: "equals", Value: "TX"}},
		Dynamic: &static,
	})
	require.NoError(t, err)
	require.False(t, seg.Dynamic)
}

func TestRefreshStoresMembers(t *testing.T) {
	repo := newStubSegmentRepo()
	tx := *sampleLead()
	ca := *sampleLead()
	ca.ULID = "01JXEAD000000000000000000B"
	ca.State = "CA"
	lister := &stubLeadLister{leads: []leads.Lead{tx, ca}}
	svc := NewService(repo, lister, nil, zerolog.Nop())

	seg, err := svc.Create(context.Background(), SegmentInput{
		Name:  "texas",
		Rules: []Rule{{Field: "state", Operator: "equals", Value: "TX"}},
	})
	require.NoError(t, err)

	n, err := svc.Refresh(context.Background(), seg.ULID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	members, err := repo.ListMembers(context.Background(), seg.ULID)
	require.NoError(t, err)
	require.Equal(t, []string{tx.ULID}, members)
	require.NotNil(t, repo.segments[seg.ULID].LastRefreshedAt)
}

func TestRefreshFiresMembershipTriggers(t *testing.T) {
	repo := newStubSegmentRepo()
	tx := *sampleLead()
	lister := &stubLeadLister{leads: []leads.Lead{tx}}
	dispatcher := &stubSegmentDispatcher{}
	svc := NewService(repo, lister, dispatcher, zerolog.Nop())

	seg, err := svc.Create(context.Background(), SegmentInput{
		Name:  "texas",
		Rules: []Rule{{Field: "state", Operator: "equals", Value: "TX"}},
	})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), seg.ULID)
	require.NoError(t, err)
	require.Equal(t, []string{leads.TriggerSegmentEntered + ":" + tx.ULID}, dispatcher.triggers)

	// Unchanged membership fires nothing on the next pass.
	_, err = svc.Refresh(context.Background(), seg.ULID)
	require.NoError(t, err)
	require.Len(t, dispatcher.triggers, 1)

	// The lead moves out of state and exits the segment.
	lister.leads[0].State = "CA"
	_, err = svc.Refresh(context.Background(), seg.ULID)
	require.NoError(t, err)
	require.Equal(t, leads.TriggerSegmentExited+":"+tx.ULID, dispatcher.triggers[1])
}

func TestRefreshAllSkipsStaticSegments(t *testing.T) {
	repo := newStubSegmentRepo()
	tx := *sampleLead()
	lister := &stubLeadLister{leads: []leads.Lead{tx}}
	svc := NewService(repo, lister, nil, zerolog.Nop())

	dynamic, err := svc.Create(context.Background(), SegmentInput{
		Name:  "texas",
		Rules: []Rule{{Field: "state", Operator: "equals", Value: "TX"}},
	})
	require.NoError(t, err)

	off := false
	static, err := svc.Create(context.Background(), SegmentInput{
		Name:    "snapshot",
		Rules:   []Rule{{Field: "state", Operator: "equals", Value: "TX"}},
		Dynamic: &off,
	})
	require.NoError(t, err)

	counts, err := svc.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, counts, dynamic.ULID)
	require.NotContains(t, counts, static.ULID)
	require.Nil(t, repo.segments[static.ULID].LastRefreshedAt)
}
