package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coverline/server/internal/domain/segments"
)

var _ segments.Repository = (*SegmentRepository)(nil)

const segmentColumns = `id, ulid, name, description, match_mode, rules, dynamic, member_count, last_refreshed_at, created_at, updated_at`

func scanSegment(row leadScanner) (*segments.Segment, error) {
	var segment segments.Segment
	var rules []byte
	err := row.Scan(
		&segment.ID,
		&segment.ULID,
		&segment.Name,
		&segment.Description,
		&segment.MatchMode,
		&rules,
		&segment.Dynamic,
		&segment.MemberCount,
		&segment.LastRefreshedAt,
		&segment.CreatedAt,
		&segment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &segment.Rules); err != nil {
			return nil, fmt.Errorf("decode segment rules: %w", err)
		}
	}
	return &segment, nil
}

func marshalRules(rules []segments.Rule) ([]byte, error) {
	if rules == nil {
		rules = []segments.Rule{}
	}
	return json.Marshal(rules)
}

func (r *SegmentRepository) Create(ctx context.Context, params segments.CreateParams) (*segments.Segment, error) {
	rules, err := marshalRules(params.Rules)
	if err != nil {
		return nil, fmt.Errorf("encode segment rules: %w", err)
	}

	row := r.queryer().QueryRow(ctx, `
INSERT INTO segments (ulid, name, description, match_mode, rules, dynamic)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+segmentColumns,
		params.ULID, params.Name, params.Description, string(params.MatchMode), rules, params.Dynamic)

	segment, err := scanSegment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("segment name taken: %w", err)
		}
		return nil, fmt.Errorf("create segment: %w", err)
	}
	return segment, nil
}

func (r *SegmentRepository) GetByULID(ctx context.Context, ulid string) (*segments.Segment, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE ulid = $1`, ulid)
	segment, err := scanSegment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, segments.ErrNotFound
		}
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return segment, nil
}

func (r *SegmentRepository) List(ctx context.Context) ([]segments.Segment, error) {
	rows, err := r.queryer().Query(ctx, `SELECT `+segmentColumns+` FROM segments ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var items []segments.Segment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		items = append(items, *segment)
	}
	return items, rows.Err()
}

func (r *SegmentRepository) Update(ctx context.Context, ulid string, params segments.UpdateParams) (*segments.Segment, error) {
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
	if params.MatchMode != nil {
		args = append(args, string(*params.MatchMode))
		set = append(set, fmt.Sprintf("match_mode = $%d", len(args)))
	}
	if params.Rules != nil {
		rules, err := marshalRules(params.Rules)
		if err != nil {
			return nil, fmt.Errorf("encode segment rules: %w", err)
		}
		args = append(args, rules)
		set = append(set, fmt.Sprintf("rules = $%d", len(args)))
	}
	if params.Dynamic != nil {
		args = append(args, *params.Dynamic)
		set = append(set, fmt.Sprintf("dynamic = $%d", len(args)))
	}

	args = append(args, ulid)
	query := fmt.Sprintf(`UPDATE segments SET %s WHERE ulid = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), segmentColumns)

	segment, err := scanSegment(r.queryer().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, segments.ErrNotFound
		}
		return nil, fmt.Errorf("update segment: %w", err)
	}
	return segment, nil
}

func (r *SegmentRepository) Delete(ctx context.Context, ulid string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM segments WHERE ulid = $1`, ulid)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return segments.ErrNotFound
	}
	return nil
}

func (r *SegmentRepository) ReplaceMembers(ctx context.Context, ulid string, leadULIDs []string) error {
	if r.tx != nil {
		return r.replaceMembers(ctx, r.tx, ulid, leadULIDs)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := r.replaceMembers(ctx, tx, ulid, leadULIDs); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SegmentRepository) replaceMembers(ctx context.Context, tx pgx.Tx, ulid string, leadULIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM segment_members WHERE segment_ulid = $1`, ulid); err != nil {
		return fmt.Errorf("clear segment members: %w", err)
	}
	if len(leadULIDs) > 0 {
		if _, err := tx.Exec(ctx, `
INSERT INTO segment_members (segment_ulid, lead_ulid)
SELECT $1, unnest($2::text[])`, ulid, leadULIDs); err != nil {
			return fmt.Errorf("insert segment members: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `
UPDATE segments
   SET member_count = $2, last_refreshed_at = now(), updated_at = now()
 WHERE ulid = $1`, ulid, len(leadULIDs))
	if err != nil {
		return fmt.Errorf("stamp segment refresh: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return segments.ErrNotFound
	}
	return nil
}

func (r *SegmentRepository) ListMembers(ctx context.Context, ulid string) ([]string, error) {
	rows, err := r.queryer().Query(ctx,
		`SELECT lead_ulid FROM segment_members WHERE segment_ulid = $1 ORDER BY lead_ulid ASC`, ulid)
	if err != nil {
		return nil, fmt.Errorf("list segment members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var leadULID string
		if err := rows.Scan(&leadULID); err != nil {
			return nil, fmt.Errorf("scan segment member: %w", err)
		}
		members = append(members, leadULID)
	}
	return members, rows.Err()
}
