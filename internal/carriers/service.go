package carriers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coverline/server/internal/breaker"
	"github.com/coverline/server/internal/domain/ids"
	"github.com/coverline/server/internal/domain/leads"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type CarrierInput struct {
	Name           string   `json:"name"`
	Slug           string   `json:"slug"`
	BaseURL        string   `json:"baseUrl"`
	APIKey         string   `json:"apiKey"`
	InsuranceTypes []string `json:"insuranceTypes"`
}

// QuoteResult is one carrier's outcome in a fan-out. Exactly one of
// Quote and Error is set.
type QuoteResult struct {
	Carrier string `json:"carrier"`
	Quote   *Quote `json:"quote,omitempty"`
	Error   string `json:"error,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

type LeadGetter interface {
	GetByULID(ctx context.Context, ulid string) (*leads.Lead, error)
}

type Service struct {
	repo     Repository
	client   *Client
	breakers *breaker.Registry
	leads    LeadGetter
	logger   zerolog.Logger
}

func NewService(repo Repository, client *Client, breakers *breaker.Registry, leadGetter LeadGetter, logger zerolog.Logger) *Service {
	return &Service{repo: repo, client: client, breakers: breakers, leads: leadGetter, logger: logger}
}

func (s *Service) Register(ctx context.Context, input CarrierInput) (*Carrier, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("carrier name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("carrier slug must be lowercase letters, digits, and hyphens")
	}
	if !strings.HasPrefix(input.BaseURL, "https://") && !strings.HasPrefix(input.BaseURL, "http://") {
		return nil, fmt.Errorf("carrier base URL must be http or https")
	}
	if len(input.InsuranceTypes) == 0 {
		return nil, fmt.Errorf("at least one insurance type is required")
	}
	for _, t := range input.InsuranceTypes {
		if !leads.IsAllowedInsuranceType(t) {
			return nil, fmt.Errorf("unknown insurance type %q", t)
		}
	}

	return s.repo.Create(ctx, CreateParams{
		ULID:           ids.NewULID(),
		Name:           strings.TrimSpace(input.Name),
		Slug:           slug,
		BaseURL:        strings.TrimRight(input.BaseURL, "/"),
		APIKey:         input.APIKey,
		InsuranceTypes: input.InsuranceTypes,
	})
}

func (s *Service) Get(ctx context.Context, slug string) (*Carrier, error) {
	return s.repo.GetBySlug(ctx, slug)
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]Carrier, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *Service) Update(ctx context.Context, slug string, params UpdateParams) (*Carrier, error) {
	return s.repo.Update(ctx, slug, params)
}

func (s *Service) Delete(ctx context.Context, slug string) error {
	return s.repo.Delete(ctx, slug)
}

// BreakerStatus exposes every carrier breaker for the status endpoint.
func (s *Service) BreakerStatus() []breaker.Snapshot {
	return s.breakers.Snapshots()
}

// QuoteCarrier requests one quote from a single carrier. Unlike the
// fan-out, a breaker-open or transport error is returned to the caller.
func (s *Service) QuoteCarrier(ctx context.Context, slug, leadULID string) (*Quote, error) {
	carrier, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !carrier.IsActive {
		return nil, fmt.Errorf("carrier %s is inactive", carrier.Slug)
	}

	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}
	if !carrier.Supports(lead.InsuranceType) {
		return nil, fmt.Errorf("carrier %s does not quote %s", carrier.Slug, lead.InsuranceType)
	}

	return s.client.RequestQuote(ctx, carrier, QuoteRequest{
		InsuranceType: lead.InsuranceType,
		State:         lead.State,
		ZipCode:       lead.ZipCode,
		ValueEstimate: lead.ValueEstimate,
		LeadRef:       lead.ULID,
	})
}

// QuoteLead fans out the lead to every active carrier supporting its
// insurance type. Per-carrier failures (including open breakers) are
// reported in the result set rather than failing the whole request.
func (s *Service) QuoteLead(ctx context.Context, leadULID string) ([]QuoteResult, error) {
	lead, err := s.leads.GetByULID(ctx, leadULID)
	if err != nil {
		return nil, err
	}
	if lead.InsuranceType == "" {
		return nil, fmt.Errorf("lead %s has no insurance type", lead.ULID)
	}

	pool, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}

	req := QuoteRequest{
		InsuranceType: lead.InsuranceType,
		State:         lead.State,
		ZipCode:       lead.ZipCode,
		ValueEstimate: lead.ValueEstimate,
		LeadRef:       lead.ULID,
	}

	results := make([]QuoteResult, 0, len(pool))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range pool {
		carrier := pool[i]
		if !carrier.Supports(lead.InsuranceType) {
			// Earlier iterations may already have goroutines appending.
			mu.Lock()
			results = append(results, QuoteResult{Carrier: carrier.Slug, Skipped: true})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			quote, err := s.client.RequestQuote(ctx, &carrier, req)

			result := QuoteResult{Carrier: carrier.Slug}
			switch {
			case errors.Is(err, breaker.ErrOpen):
				result.Error = "carrier temporarily unavailable"
				s.logger.Warn().Str("carrier", carrier.Slug).Str("lead_ulid", lead.ULID).Msg("quote skipped, breaker open")
			case err != nil:
				result.Error = err.Error()
				s.logger.Error().Err(err).Str("carrier", carrier.Slug).Str("lead_ulid", lead.ULID).Msg("quote request failed")
			default:
				result.Quote = quote
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results, nil
}
