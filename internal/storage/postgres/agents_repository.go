package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coverline/server/internal/domain/agents"
)

var _ agents.Repository = (*AgentRepository)(nil)

const agentColumns = `
	id, ulid, name, email, specializations, licensed_states, city, state,
	capacity, active_leads, performance_score, quality_tier, is_active,
	last_assigned_at, created_at, updated_at`

func scanAgent(row leadScanner) (*agents.Agent, error) {
	var agent agents.Agent
	err := row.Scan(
		&agent.ID,
		&agent.ULID,
		&agent.Name,
		&agent.Email,
		&agent.Specializations,
		&agent.LicensedStates,
		&agent.City,
		&agent.State,
		&agent.Capacity,
		&agent.ActiveLeads,
		&agent.PerformanceScore,
		&agent.QualityTier,
		&agent.IsActive,
		&agent.LastAssignedAt,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *AgentRepository) List(ctx context.Context, filters agents.Filters) ([]agents.Agent, error) {
	where := []string{"TRUE"}
	args := []any{}

	if filters.State != "" {
		args = append(args, filters.State)
		where = append(where, fmt.Sprintf("$%d = ANY(licensed_states)", len(args)))
	}
	if filters.Specialization != "" {
		args = append(args, filters.Specialization)
		where = append(where, fmt.Sprintf("$%d = ANY(specializations)", len(args)))
	}
	if filters.ActiveOnly {
		where = append(where, "is_active")
	}

	query := fmt.Sprintf(`SELECT %s FROM agents WHERE %s ORDER BY name ASC, ulid ASC`,
		agentColumns, strings.Join(where, " AND "))

	rows, err := r.queryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var items []agents.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		items = append(items, *agent)
	}
	return items, rows.Err()
}

func (r *AgentRepository) GetByULID(ctx context.Context, ulid string) (*agents.Agent, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE ulid = $1`, ulid)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agents.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func (r *AgentRepository) Create(ctx context.Context, params agents.CreateParams) (*agents.Agent, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO agents (
	ulid, name, email, specializations, licensed_states, city, state,
	capacity, performance_score, quality_tier
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+agentColumns,
		params.ULID,
		params.Name,
		params.Email,
		params.Specializations,
		params.LicensedStates,
		params.City,
		params.State,
		params.Capacity,
		params.PerformanceScore,
		string(params.QualityTier),
	)
	agent, err := scanAgent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, agents.ErrConflict
		}
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

func (r *AgentRepository) SetActive(ctx context.Context, ulid string, active bool) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE agents SET is_active = $2, updated_at = now() WHERE ulid = $1`, ulid, active)
	if err != nil {
		return fmt.Errorf("set agent active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return agents.ErrNotFound
	}
	return nil
}

func (r *AgentRepository) IncrementWorkload(ctx context.Context, ulid string, delta int) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE agents
   SET active_leads = GREATEST(active_leads + $2, 0),
       last_assigned_at = CASE WHEN $2 > 0 THEN now() ELSE last_assigned_at END,
       updated_at = now()
 WHERE ulid = $1`, ulid, delta)
	if err != nil {
		return fmt.Errorf("increment agent workload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return agents.ErrNotFound
	}
	return nil
}

func (r *AgentRepository) UpdatePerformance(ctx context.Context, ulid string, score float64, tier agents.QualityTier) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE agents SET performance_score = $2, quality_tier = $3, updated_at = now() WHERE ulid = $1`,
		ulid, score, string(tier))
	if err != nil {
		return fmt.Errorf("update agent performance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return agents.ErrNotFound
	}
	return nil
}
