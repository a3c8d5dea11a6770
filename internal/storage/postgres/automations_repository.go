package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coverline/server/internal/domain/automations"
	"github.com/coverline/server/internal/domain/segments"
)

var _ automations.Repository = (*AutomationRepository)(nil)

const automationColumns = `id, ulid, name, description, trigger_type, match_mode, conditions, actions, is_active, run_count, last_run_at, created_at, updated_at`

func scanAutomation(row leadScanner) (*automations.Automation, error) {
	var automation automations.Automation
	var conditions, actions []byte
	err := row.Scan(
		&automation.ID,
		&automation.ULID,
		&automation.Name,
		&automation.Description,
		&automation.TriggerType,
		&automation.MatchMode,
		&conditions,
		&actions,
		&automation.IsActive,
		&automation.RunCount,
		&automation.LastRunAt,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &automation.Conditions); err != nil {
			return nil, fmt.Errorf("decode automation conditions: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &automation.Actions); err != nil {
			return nil, fmt.Errorf("decode automation actions: %w", err)
		}
	}
	return &automation, nil
}

func marshalConditions(rules []segments.Rule) ([]byte, error) {
	if rules == nil {
		rules = []segments.Rule{}
	}
	return json.Marshal(rules)
}

func marshalActions(actions []automations.Action) ([]byte, error) {
	if actions == nil {
		actions = []automations.Action{}
	}
	return json.Marshal(actions)
}

func (r *AutomationRepository) Create(ctx context.Context, params automations.CreateParams) (*automations.Automation, error) {
	conditions, err := marshalConditions(params.Conditions)
	if err != nil {
		return nil, fmt.Errorf("encode automation conditions: %w", err)
	}
	actions, err := marshalActions(params.Actions)
	if err != nil {
		return nil, fmt.Errorf("encode automation actions: %w", err)
	}

	row := r.queryer().QueryRow(ctx, `
INSERT INTO automations (ulid, name, description, trigger_type, match_mode, conditions, actions)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+automationColumns,
		params.ULID, params.Name, params.Description, params.TriggerType,
		string(params.MatchMode), conditions, actions)

	automation, err := scanAutomation(row)
	if err != nil {
		return nil, fmt.Errorf("create automation: %w", err)
	}
	return automation, nil
}

func (r *AutomationRepository) GetByULID(ctx context.Context, ulid string) (*automations.Automation, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+automationColumns+` FROM automations WHERE ulid = $1`, ulid)
	automation, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, automations.ErrNotFound
		}
		return nil, fmt.Errorf("get automation: %w", err)
	}
	return automation, nil
}

func (r *AutomationRepository) List(ctx context.Context) ([]automations.Automation, error) {
	return r.list(ctx, `SELECT `+automationColumns+` FROM automations ORDER BY name ASC`)
}

func (r *AutomationRepository) ListActiveByTrigger(ctx context.Context, trigger string) ([]automations.Automation, error) {
	return r.list(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE is_active AND trigger_type = $1 ORDER BY created_at ASC`,
		trigger)
}

func (r *AutomationRepository) list(ctx context.Context, query string, args ...any) ([]automations.Automation, error) {
	rows, err := r.queryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()

	var items []automations.Automation
	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		items = append(items, *automation)
	}
	return items, rows.Err()
}

func (r *AutomationRepository) Update(ctx context.Context, ulid string, params automations.UpdateParams) (*automations.Automation, error) {
	set := []string{"updated_at = now()"}
	args := []any{}

	if params.Name != nil {
		args = append(args, *params.Name)
		set = append(set, fmt.Sprintf("name = $%d", len(args)))
	}
	if params.Description != nil {
		args = append(args, *params.Description)
		set = append(set, fmt.Sprintf("description = $%d", len(args)))
	}
	if params.TriggerType != nil {
		args = append(args, *params.TriggerType)
		set = append(set, fmt.Sprintf("trigger_type = $%d", len(args)))
	}
	if params.MatchMode != nil {
		args = append(args, string(*params.MatchMode))
		set = append(set, fmt.Sprintf("match_mode = $%d", len(args)))
	}
	if params.Conditions != nil {
		conditions, err := marshalConditions(params.Conditions)
		if err != nil {
			return nil, fmt.Errorf("encode automation conditions: %w", err)
		}
		args = append(args, conditions)
		set = append(set, fmt.Sprintf("conditions = $%d", len(args)))
	}
	if params.Actions != nil {
		actions, err := marshalActions(params.Actions)
		if err != nil {
			return nil, fmt.Errorf("encode automation actions: %w", err)
		}
		args = append(args, actions)
		set = append(set, fmt.Sprintf("actions = $%d", len(args)))
	}
	if params.IsActive != nil {
		args = append(args, *params.IsActive)
		set = append(set, fmt.Sprintf("is_active = $%d", len(args)))
	}

	args = append(args, ulid)
	query := fmt.Sprintf(`UPDATE automations SET %s WHERE ulid = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), automationColumns)

	automation, err := scanAutomation(r.queryer().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, automations.ErrNotFound
		}
		return nil, fmt.Errorf("update automation: %w", err)
	}
	return automation, nil
}

func (r *AutomationRepository) Delete(ctx context.Context, ulid string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM automations WHERE ulid = $1`, ulid)
	if err != nil {
		return fmt.Errorf("delete automation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automations.ErrNotFound
	}
	return nil
}

func (r *AutomationRepository) RecordRun(ctx context.Context, params automations.RunParams) (*automations.Run, error) {
	row := r.queryer().QueryRow(ctx, `
WITH bumped AS (
	UPDATE automations
	   SET run_count = run_count + 1, last_run_at = now()
	 WHERE ulid = $2
)
INSERT INTO automation_runs (ulid, automation_ulid, lead_ulid, trigger_type, status, detail)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, ulid, automation_ulid, lead_ulid, trigger_type, status, detail, created_at`,
		params.ULID, params.AutomationULID, params.LeadULID, params.Trigger,
		string(params.Status), params.Detail)

	var run automations.Run
	if err := row.Scan(
		&run.ID,
		&run.ULID,
		&run.AutomationULID,
		&run.LeadULID,
		&run.Trigger,
		&run.Status,
		&run.Detail,
		&run.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("record automation run: %w", err)
	}
	return &run, nil
}

func (r *AutomationRepository) ListRuns(ctx context.Context, automationULID string, limit int) ([]automations.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.queryer().Query(ctx, `
SELECT id, ulid, automation_ulid, lead_ulid, trigger_type, status, detail, created_at
  FROM automation_runs
 WHERE automation_ulid = $1
 ORDER BY created_at DESC, id DESC
 LIMIT $2`, automationULID, limit)
	if err != nil {
		return nil, fmt.Errorf("list automation runs: %w", err)
	}
	defer rows.Close()

	var runs []automations.Run
	for rows.Next() {
		var run automations.Run
		if err := rows.Scan(
			&run.ID,
			&run.ULID,
			&run.AutomationULID,
			&run.LeadULID,
			&run.Trigger,
			&run.Status,
			&run.Detail,
			&run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan automation run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
