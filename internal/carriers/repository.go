// Package carriers integrates with external insurance carrier quote
// APIs, guarding every outbound call with a per-carrier circuit breaker.
package carriers

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("carrier not found")

var ErrConflict = errors.New("carrier slug already in use")

type Carrier struct {
	ID             string
	ULID           string
	Name           string
	Slug           string
	BaseURL        string
	APIKey         string
	InsuranceTypes []string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Supports reports whether the carrier quotes the given insurance type.
func (c Carrier) Supports(insuranceType string) bool {
	for _, t := range c.InsuranceTypes {
		if t == insuranceType {
			return true
		}
	}
	return false
}

type CreateParams struct {
	ULID           string
	Name           string
	Slug           string
	BaseURL        string
	APIKey         string
	InsuranceTypes []string
}

type UpdateParams struct {
	Name           *string
	BaseURL        *string
	APIKey         *string
	InsuranceTypes []string
	IsActive       *bool
}

type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Carrier, error)
	GetBySlug(ctx context.Context, slug string) (*Carrier, error)
	List(ctx context.Context, activeOnly bool) ([]Carrier, error)
	Update(ctx context.Context, slug string, params UpdateParams) (*Carrier, error)
	Delete(ctx context.Context, slug string) error
}
