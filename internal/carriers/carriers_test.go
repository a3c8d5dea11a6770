package carriers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coverline/server/internal/breaker"
	"github.com/coverline/server/internal/domain/leads"
)

type stubCarrierRepo struct {
	carriers map[string]*Carrier
	nextID   int
}

func newStubCarrierRepo() *stubCarrierRepo {
	return &stubCarrierRepo{carriers: map[string]*Carrier{}}
}

func (r *stubCarrierRepo) Create(_ context.Context, params CreateParams) (*Carrier, error) {
	if _, ok := r.carriers[params.Slug]; ok {
		return nil, ErrConflict
	}
	r.nextID++
	c := &Carrier{
		ID:             "id-" + strconv.Itoa(r.nextID),
		ULID:           params.ULID,
		Name:           params.Name,
		Slug:           params.Slug,
		BaseURL:        params.BaseURL,
		APIKey:         params.APIKey,
		InsuranceTypes: params.InsuranceTypes,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	r.carriers[c.Slug] = c
	return c, nil
}

func (r *stubCarrierRepo) GetBySlug(_ context.Context, slug string) (*Carrier, error) {
	c, ok := r.carriers[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *stubCarrierRepo) List(_ context.Context, activeOnly bool) ([]Carrier, error) {
	var out []Carrier
	for _, c := range r.carriers {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *stubCarrierRepo) Update(_ context.Context, slug string, params UpdateParams) (*Carrier, error) {
	c, ok := r.carriers[slug]
	if !ok {
		return nil, ErrNotFound
	}
	if params.Name != nil {
		c.Name = *params.Name
	}
	if params.BaseURL != nil {
		c.BaseURL = *params.BaseURL
	}
	if params.IsActive != nil {
		c.IsActive = *params.IsActive
	}
	if params.InsuranceTypes != nil {
		c.InsuranceTypes = params.InsuranceTypes
	}
	cp := *c
	return &cp, nil
}

func (r *stubCarrierRepo) Delete(_ context.Context, slug string) error {
	delete(r.carriers, slug)
	return nil
}

type stubLeadGetter struct {
	lead *leads.Lead
}

func (s *stubLeadGetter) GetByULID(_ context.Context, ulid string) (*leads.Lead, error) {
	if s.lead == nil || s.lead.ULID != ulid {
		return nil, leads.ErrNotFound
	}
	cp := *s.lead
	return &cp, nil
}

func quoteServer(t *testing.T, premium float64, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/quotes", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"quoteId":    "q-123",
			"premium":    premium,
			"currency":   "USD",
			"validUntil": time.Now().UTC().Add(72 * time.Hour),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func autoLead() *leads.Lead {
	return &leads.Lead{
		ID:            "id-1",
		ULID:          "01JXEAD000000000000000000A",
		InsuranceType: "auto",
		State:         "TX",
		ZipCode:       "78701",
		ValueEstimate: 1200,
	}
}

func newFixture(t *testing.T) (*Service, *stubCarrierRepo, *stubLeadGetter) {
	t.Helper()
	repo := newStubCarrierRepo()
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 2, Cooldown: time.Minute}, zerolog.Nop())
	client := NewClient(nil, breakers, 2*time.Second)
	getter := &stubLeadGetter{lead: autoLead()}
	return NewService(repo, client, breakers, getter, zerolog.Nop()), repo, getter
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.Register(context.Background(), CarrierInput{
		Name: "Acme", Slug: "Not A Slug", BaseURL: "https://acme.test", InsuranceTypes: []string{"auto"},
	})
	require.Error(t, err)

	_, err = svc.Register(context.Background(), CarrierInput{
		Name: "Acme", Slug: "acme", BaseURL: "ftp://acme.test", InsuranceTypes: []string{"auto"},
	})
	require.Error(t, err)

	_, err = svc.Register(context.Background(), CarrierInput{
		Name: "Acme", Slug: "acme", BaseURL: "https://acme.test", InsuranceTypes: []string{"pet"},
	})
	require.Error(t, err)

	c, err := svc.Register(context.Background(), CarrierInput{
		Name: "Acme", Slug: "acme", BaseURL: "https://acme.test/", InsuranceTypes: []string{"auto", "home"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://acme.test", c.BaseURL)
}

func TestQuoteLeadFanOut(t *testing.T) {
	svc, _, _ := newFixture(t)

	good := quoteServer(t, 950, http.StatusOK)
	bad := quoteServer(t, 0, http.StatusBadGateway)

	_, err := svc.Register(context.Background(), CarrierInput{
		Name: "Good", Slug: "good", BaseURL: good.URL, InsuranceTypes: []string{"auto"},
	})
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), CarrierInput{
		Name: "Bad", Slug: "bad", BaseURL: bad.URL, InsuranceTypes: []string{"auto"},
	})
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), CarrierInput{
		Name: "Home Only", Slug: "home-only", BaseURL: good.URL, InsuranceTypes: []string{"home"},
	})
	require.NoError(t, err)

	results, err := svc.QuoteLead(context.Background(), "01JXEAD000000000000000000A")
	require.NoError(t, err)
	require.Len(t, results, 3)

	byCarrier := map[string]QuoteResult{}
	for _, r := range results {
		byCarrier[r.Carrier] = r
	}

	require.NotNil(t, byCarrier["good"].Quote)
	require.Equal(t, 950.0, byCarrier["good"].Quote.Premium)
	require.Equal(t, "good", byCarrier["good"].Quote.Carrier)

	require.Nil(t, byCarrier["bad"].Quote)
	require.Contains(t, byCarrier["bad"].Error, "502")

	require.True(t, byCarrier["home-only"].Skipped)
}

func TestQuoteLeadInterleavesSkipsAndQuotes(t *testing.T) {
	svc, _, _ := newFixture(t)

	good := quoteServer(t, 950, http.StatusOK)

	// A pool alternating supporting and non-supporting carriers makes
	// skip appends on the caller goroutine interleave with quote appends
	// from still-running fan-out goroutines; the race detector trips if
	// either path touches the shared slice unlocked.
	for i := 0; i < 8; i++ {
		_, err := svc.Register(context.Background(), CarrierInput{
			Name: "Auto " + strconv.Itoa(i), Slug: "auto-" + strconv.Itoa(i),
			BaseURL: good.URL, InsuranceTypes: []string{"auto"},
		})
		require.NoError(t, err)
		_, err = svc.Register(context.Background(), CarrierInput{
			Name: "Home " + strconv.Itoa(i), Slug: "home-" + strconv.Itoa(i),
			BaseURL: good.URL, InsuranceTypes: []string{"home"},
		})
		require.NoError(t, err)
	}

	results, err := svc.QuoteLead(context.Background(), "01JXEAD000000000000000000A")
	require.NoError(t, err)
	require.Len(t, results, 16)

	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		} else {
			require.NotNil(t, r.Quote)
		}
	}
	require.Equal(t, 8, skipped)
}

func TestQuoteLeadBreakerOpensAfterFailures(t *testing.T) {
	svc, _, _ := newFixture(t)

	var calls atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(flaky.Close)

	_, err := svc.Register(context.Background(), CarrierInput{
		Name: "Flaky", Slug: "flaky", BaseURL: flaky.URL, InsuranceTypes: []string{"auto"},
	})
	require.NoError(t, err)

	// Failure threshold is 2, so the third fan-out must not hit the server.
	for i := 0; i < 3; i++ {
		results, err := svc.QuoteLead(context.Background(), "01JXEAD000000000000000000A")
		require.NoError(t, err)
		require.NotEmpty(t, results[0].Error)
	}
	require.Equal(t, int32(2), calls.Load())

	status := svc.BreakerStatus()
	require.Len(t, status, 1)
	require.Equal(t, "open", status[0].State)
	require.Equal(t, "carrier temporarily unavailable", func() string {
		results, _ := svc.QuoteLead(context.Background(), "01JXEAD000000000000000000A")
		return results[0].Error
	}())
}

func TestQuoteLeadUnknownLead(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.QuoteLead(context.Background(), "01JXEAD000000000000000000Z")
	require.ErrorIs(t, err, leads.ErrNotFound)
}
