package notes

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coverline/server/internal/domain/leads"
	"github.com/coverline/server/internal/domain/routing"
)

type stubNoteRepo struct {
	notes  map[string]*Note
	nextID int
}

func newStubNoteRepo() *stubNoteRepo {
	return &stubNoteRepo{notes: map[string]*Note{}}
}

func (r *stubNoteRepo) Create(_ context.Context, params CreateParams) (*Note, error) {
	r.nextID++
	n := &Note{
		ID:        "id-" + strconv.Itoa(r.nextID),
		ULID:      params.ULID,
		LeadULID:  params.LeadULID,
		AuthorID:  params.AuthorID,
		Body:      params.Body,
		Pinned:    params.Pinned,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	r.notes[n.ULID] = n
	return n, nil
}

func (r *stubNoteRepo) GetByULID(_ context.Context, ulid string) (*Note, error) {
	n, ok := r.notes[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *stubNoteRepo) ListByLead(_ context.Context, leadULID string) ([]Note, error) {
	var out []Note
	for _, n := range r.notes {
		if n.LeadULID == leadULID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *stubNoteRepo) Update(_ context.Context, ulid string, params UpdateParams) (*Note, error) {
	n, ok := r.notes[ulid]
	if !ok {
		return nil, ErrNotFound
	}
	if params.Body != nil {
		n.Body = *params.Body
	}
	if params.Pinned != nil {
		n.Pinned = *params.Pinned
	}
	n.UpdatedAt = time.Now().UTC()
	cp := *n
	return &cp, nil
}

func (r *stubNoteRepo) Delete(_ context.Context, ulid string) error {
	if _, ok := r.notes[ulid]; !ok {
		return ErrNotFound
	}
	delete(r.notes, ulid)
	return nil
}

type stubLeadStore struct {
	lead       *leads.Lead
	activities []leads.Activity
	history    []leads.StatusChange
}

func (s *stubLeadStore) GetByULID(_ context.Context, ulid string) (*leads.Lead, error) {
	if s.lead == nil || s.lead.ULID != ulid {
		return nil, leads.ErrNotFound
	}
	cp := *s.lead
	return &cp, nil
}

func (s *stubLeadStore) ListActivities(_ context.Context, _ string) ([]leads.Activity, error) {
	return s.activities, nil
}

func (s *stubLeadStore) ListStatusHistory(_ context.Context, _ string) ([]leads.StatusChange, error) {
	return s.history, nil
}

type stubAssignmentLister struct {
	assignments []routing.Assignment
}

func (s *stubAssignmentLister) ListByLead(_ context.Context, _ string) ([]routing.Assignment, error) {
	return s.assignments, nil
}

const leadULID = "01JXEAD000000000000000000A"

func newFixture() (*Service, *stubNoteRepo, *stubLeadStore, *stubAssignmentLister) {
	repo := newStubNoteRepo()
	store := &stubLeadStore{lead: &leads.Lead{ID: "id-1", ULID: leadULID}}
	lister := &stubAssignmentLister{}
	return NewService(repo, store, lister), repo, store, lister
}

func TestCreateSanitizesBody(t *testing.T) {
	svc, _, _, _ := newFixture()

	note, err := svc.Create(context.Background(), leadULID, "author-1",
		`Called the client. <script>alert("x")</script><b>Will follow up.</b>`, false)
	require.NoError(t, err)
	require.NotContains(t, note.Body, "script")
	require.Contains(t, note.Body, "<b>Will follow up.</b>")
}

func TestCreateRejectsEmptyAfterSanitization(t *testing.T) {
	svc, _, _, _ := newFixture()

	_, err := svc.Create(context.Background(), leadULID, "author-1", `<script>only()</script>`, false)
	require.Error(t, err)
}

func TestCreateUnknownLead(t *testing.T) {
	svc, _, _, _ := newFixture()

	_, err := svc.Create(context.Background(), "01JXEAD000000000000000000B", "author-1", "hello", false)
	require.ErrorIs(t, err, leads.ErrNotFound)
}

func TestUpdateRequiresAuthorOrAdmin(t *testing.T) {
	svc, _, _, _ := newFixture()

	note, err := svc.Create(context.Background(), leadULID, "author-1", "original", false)
	require.NoError(t, err)

	body := "edited"
	_, err = svc.Update(context.Background(), note.ULID, "someone-else", false, UpdateParams{Body: &body})
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.Update(context.Background(), note.ULID, "someone-else", true, UpdateParams{Body: &body})
	require.NoError(t, err)
	require.Equal(t, "edited", updated.Body)
}

func TestDeleteRequiresAuthorOrAdmin(t *testing.T) {
	svc, repo, _, _ := newFixture()

	note, err := svc.Create(context.Background(), leadULID, "author-1", "to delete", false)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(context.Background(), note.ULID, "someone-else", false), ErrForbidden)
	require.NoError(t, svc.Delete(context.Background(), note.ULID, "author-1", false))
	require.Empty(t, repo.notes)
}

func TestTimelineMergesNewestFirst(t *testing.T) {
	svc, _, store, lister := newFixture()

	base := time.Now().UTC().Add(-time.Hour)
	actor := "author-1"
	store.activities = []leads.Activity{
		{ActivityType: leads.ActivityCreated, Description: "lead created", CreatedAt: base},
	}
	store.history = []leads.StatusChange{
		{OldStatus: leads.StatusNew, NewStatus: leads.StatusContacted, ChangedBy: &actor, CreatedAt: base.Add(10 * time.Minute)},
	}
	lister.assignments = []routing.Assignment{
		{AgentULID: "01JAGENT0000000000000000AA", Strategy: "best_match", AssignedBy: "system", CreatedAt: base.Add(5 * time.Minute)},
	}

	_, err := svc.Create(context.Background(), leadULID, actor, "spoke with client", false)
	require.NoError(t, err)

	entries, more, err := svc.Timeline(context.Background(), leadULID, 0, 50)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, entries, 4)
	require.Equal(t, EntryNote, entries[0].Kind)
	require.Equal(t, EntryStatusChange, entries[1].Kind)
	require.Equal(t, "contacted", entries[1].NewValue)
	require.Equal(t, EntryAssignment, entries[2].Kind)
	require.Equal(t, "01JAGENT0000000000000000AA", entries[2].NewValue)
	require.Equal(t, "best_match", entries[2].Metadata["strategy"])
	require.Equal(t, EntryActivity, entries[3].Kind)
}

func TestTimelinePagesThroughEntries(t *testing.T) {
	svc, _, store, _ := newFixture()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		store.activities = append(store.activities, leads.Activity{
			ActivityType: leads.ActivityCreated,
			Description:  "activity " + string(rune('a'+i)),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}

	first, more, err := svc.Timeline(context.Background(), leadULID, 0, 2)
	require.NoError(t, err)
	require.True(t, more)
	require.Len(t, first, 2)
	require.Equal(t, "activity e", first[0].Summary)

	second, more, err := svc.Timeline(context.Background(), leadULID, 2, 2)
	require.NoError(t, err)
	require.True(t, more)
	require.Equal(t, "activity c", second[0].Summary)

	last, more, err := svc.Timeline(context.Background(), leadULID, 4, 2)
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, last, 1)
	require.Equal(t, "activity a", last[0].Summary)

	past, more, err := svc.Timeline(context.Background(), leadULID, 50, 2)
	require.NoError(t, err)
	require.False(t, more)
	require.Empty(t, past)
}
