package agents

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("agent not found")

var ErrConflict = errors.New("agent conflict")

// QualityTier buckets agents by historical close quality; routing aligns
// high-value leads with higher tiers.
type QualityTier string

const (
	TierPlatinum QualityTier = "platinum"
	TierGold     QualityTier = "gold"
	TierSilver   QualityTier = "silver"
	TierBronze   QualityTier = "bronze"
)

type Agent struct {
	ID               string
	ULID             string
	Name             string
	Email            string
	Specializations  []string
	LicensedStates   []string
	City             string
	State            string
	Capacity         int
	ActiveLeads      int
	PerformanceScore float64
	QualityTier      QualityTier
	IsActive         bool
	LastAssignedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WorkloadRatio is active leads over capacity, clamped to [0, 1].
func (a Agent) WorkloadRatio() float64 {
	if a.Capacity <= 0 {
		return 1
	}
	ratio := float64(a.ActiveLeads) / float64(a.Capacity)
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}

// AtCapacity reports whether the agent cannot take another lead.
func (a Agent) AtCapacity() bool {
	return a.Capacity > 0 && a.ActiveLeads >= a.Capacity
}

// LicensedIn reports whether the agent holds a license for the state.
func (a Agent) LicensedIn(state string) bool {
	for _, licensed := range a.LicensedStates {
		if licensed == state {
			return true
		}
	}
	return false
}

type CreateParams struct {
	ULID             string
	Name             string
	Email            string
	Specializations  []string
	LicensedStates   []string
	City             string
	State            string
	Capacity         int
	PerformanceScore float64
	QualityTier      QualityTier
}

type Filters struct {
	State          string
	Specialization string
	ActiveOnly     bool
}

type Repository interface {
	List(ctx context.Context, filters Filters) ([]Agent, error)
	GetByULID(ctx context.Context, ulid string) (*Agent, error)
	Create(ctx context.Context, params CreateParams) (*Agent, error)
	SetActive(ctx context.Context, ulid string, active bool) error
	// IncrementWorkload adds delta to active_leads, stamping last_assigned_at
	// when delta is positive. Implementations must clamp at zero.
	IncrementWorkload(ctx context.Context, ulid string, delta int) error
	UpdatePerformance(ctx context.Context, ulid string, score float64, tier QualityTier) error
}
