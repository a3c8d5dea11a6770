// Package segments defines rule-based dynamic lead segments. A segment
// is a list of field/operator/value rules compiled to expressions and
// evaluated against leads on demand or by the refresh job.
package segments

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("segment not found")

var ErrConflict = errors.New("segment name already in use")

type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpIsSet       Operator = "is_set"
	OpIsNotSet    Operator = "is_not_set"
)

// Rule is one predicate over a lead field. Value is a string for most
// operators, a comma-separated list for "in" and "not_in", a number
// rendered as a string for the comparison operators, and ignored for
// is_set/is_not_set.
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type Segment struct {
	ID          string
	ULID        string
	Name        string
	Description string
	MatchMode   MatchMode
	Rules       []Rule
	// Dynamic segments are recomputed by the periodic refresh job;
	// static ones only change on an explicit refresh.
	Dynamic         bool
	MemberCount     int
	LastRefreshedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CreateParams struct {
	ULID        string
	Name        string
	Description string
	MatchMode   MatchMode
	Rules       []Rule
	Dynamic     bool
}

type UpdateParams struct {
	Name        *string
	Description *string
	MatchMode   *MatchMode
	Rules       []Rule
	Dynamic     *bool
}

type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Segment, error)
	GetByULID(ctx context.Context, ulid string) (*Segment, error)
	List(ctx context.Context) ([]Segment, error)
	Update(ctx context.Context, ulid string, params UpdateParams) (*Segment, error)
	Delete(ctx context.Context, ulid string) error
	// ReplaceMembers swaps the segment's membership for the given lead
	// ULIDs and stamps member_count and last_refreshed_at.
	ReplaceMembers(ctx context.Context, ulid string, leadULIDs []string) error
	ListMembers(ctx context.Context, ulid string) ([]string, error)
}
