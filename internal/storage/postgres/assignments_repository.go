package postgres

import (
	"context"
	"fmt"

	"github.com/coverline/server/internal/domain/routing"
)

var _ routing.Repository = (*AssignmentRepository)(nil)

func (r *AssignmentRepository) InsertAssignment(ctx context.Context, params routing.AssignmentParams) (*routing.Assignment, error) {
	factors := params.Factors
	if len(factors) == 0 {
		factors = []byte("{}")
	}

	row := r.queryer().QueryRow(ctx, `
INSERT INTO lead_assignments (ulid, lead_ulid, agent_ulid, strategy, score, factors, assigned_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, ulid, lead_ulid, agent_ulid, strategy, score, factors, assigned_by, created_at`,
		params.ULID,
		params.LeadULID,
		params.AgentULID,
		params.Strategy,
		params.Score,
		factors,
		params.AssignedBy,
	)

	var assignment routing.Assignment
	if err := row.Scan(
		&assignment.ID,
		&assignment.ULID,
		&assignment.LeadULID,
		&assignment.AgentULID,
		&assignment.Strategy,
		&assignment.Score,
		&assignment.Factors,
		&assignment.AssignedBy,
		&assignment.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	return &assignment, nil
}

func (r *AssignmentRepository) ListByLead(ctx context.Context, leadULID string) ([]routing.Assignment, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT id, ulid, lead_ulid, agent_ulid, strategy, score, factors, assigned_by, created_at
  FROM lead_assignments
 WHERE lead_ulid = $1
 ORDER BY created_at ASC, id ASC`, leadULID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var items []routing.Assignment
	for rows.Next() {
		var assignment routing.Assignment
		if err := rows.Scan(
			&assignment.ID,
			&assignment.ULID,
			&assignment.LeadULID,
			&assignment.AgentULID,
			&assignment.Strategy,
			&assignment.Score,
			&assignment.Factors,
			&assignment.AssignedBy,
			&assignment.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		items = append(items, assignment)
	}
	return items, rows.Err()
}
