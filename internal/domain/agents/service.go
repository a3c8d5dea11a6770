package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/coverline/server/internal/domain/ids"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AgentInput is the admin-facing payload for registering an agent.
type AgentInput struct {
	Name             string   `json:"name" validate:"required,min=1,max=200"`
	Email            string   `json:"email" validate:"required,email,max=254"`
	Specializations  []string `json:"specializations" validate:"required,min=1,dive,oneof=auto home life health commercial other"`
	LicensedStates   []string `json:"licensedStates" validate:"required,min=1,dive,len=2,alpha"`
	City             string   `json:"city" validate:"omitempty,max=100"`
	State            string   `json:"state" validate:"omitempty,len=2,alpha"`
	Capacity         int      `json:"capacity" validate:"required,min=1,max=500"`
	PerformanceScore float64  `json:"performanceScore" validate:"min=0,max=1"`
	QualityTier      string   `json:"qualityTier" validate:"omitempty,oneof=platinum gold silver bronze"`
}

// ValidationErrors flattens validator errors into field -> message.
func ValidationErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errorsAs(err, &verrs) {
		out["_"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return out
}

func errorsAs(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Register(ctx context.Context, input AgentInput) (*Agent, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	tier := QualityTier(input.QualityTier)
	if tier == "" {
		tier = TierBronze
	}

	states := make([]string, 0, len(input.LicensedStates))
	for _, st := range input.LicensedStates {
		states = append(states, strings.ToUpper(strings.TrimSpace(st)))
	}
	specs := make([]string, 0, len(input.Specializations))
	for _, sp := range input.Specializations {
		specs = append(specs, strings.ToLower(strings.TrimSpace(sp)))
	}

	return s.repo.Create(ctx, CreateParams{
		ULID:             ids.NewULID(),
		Name:             strings.TrimSpace(input.Name),
		Email:            strings.ToLower(strings.TrimSpace(input.Email)),
		Specializations:  specs,
		LicensedStates:   states,
		City:             strings.TrimSpace(input.City),
		State:            strings.ToUpper(strings.TrimSpace(input.State)),
		Capacity:         input.Capacity,
		PerformanceScore: input.PerformanceScore,
		QualityTier:      tier,
	})
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Agent, error) {
	if filters.State != "" {
		filters.State = strings.ToUpper(filters.State)
	}
	if filters.Specialization != "" {
		filters.Specialization = strings.ToLower(filters.Specialization)
	}
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, ulid string) (*Agent, error) {
	if !ids.IsULID(ulid) {
		return nil, ErrNotFound
	}
	return s.repo.GetByULID(ctx, ids.Normalize(ulid))
}

func (s *Service) SetActive(ctx context.Context, ulid string, active bool) error {
	if !ids.IsULID(ulid) {
		return ErrNotFound
	}
	return s.repo.SetActive(ctx, ids.Normalize(ulid), active)
}

func (s *Service) UpdatePerformance(ctx context.Context, ulid string, score float64, tier QualityTier) error {
	if !ids.IsULID(ulid) {
		return ErrNotFound
	}
	if score < 0 || score > 1 {
		return fmt.Errorf("performance score %f out of range", score)
	}
	switch tier {
	case TierPlatinum, TierGold, TierSilver, TierBronze:
	default:
		return fmt.Errorf("unknown quality tier %q", tier)
	}
	return s.repo.UpdatePerformance(ctx, ids.Normalize(ulid), score, tier)
}
