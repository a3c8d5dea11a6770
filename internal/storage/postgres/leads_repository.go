package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/coverline/server/internal/api/pagination"
	"github.com/coverline/server/internal/domain/leads"
)

var _ leads.Repository = (*LeadRepository)(nil)

const leadColumns = `
	id, ulid, first_name, last_name, email, phone, company, job_title,
	insurance_type, value_estimate, status, priority, source, campaign,
	assignee_ulid, address_line, city, state, zip_code, country, tags,
	follow_up_on, dedup_hash, needs_review, deleted_at, created_at, updated_at`

type leadScanner interface {
	Scan(dest ...any) error
}

func scanLead(row leadScanner) (*leads.Lead, error) {
	var lead leads.Lead
	err := row.Scan(
		&lead.ID,
		&lead.ULID,
		&lead.FirstName,
		&lead.LastName,
		&lead.Email,
		&lead.Phone,
		&lead.Company,
		&lead.JobTitle,
		&lead.InsuranceType,
		&lead.ValueEstimate,
		&lead.Status,
		&lead.Priority,
		&lead.Source,
		&lead.Campaign,
		&lead.AssigneeID,
		&lead.AddressLine,
		&lead.City,
		&lead.State,
		&lead.ZipCode,
		&lead.Country,
		&lead.Tags,
		&lead.FollowUpOn,
		&lead.DedupHash,
		&lead.NeedsReview,
		&lead.DeletedAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *LeadRepository) List(ctx context.Context, filters leads.Filters, page leads.Pagination) (leads.ListResult, error) {
	where := []string{"deleted_at IS NULL"}
	args := []any{}

	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Status != "" {
		where = append(where, "status = "+arg(string(filters.Status)))
	}
	if filters.Priority != "" {
		where = append(where, "priority = "+arg(string(filters.Priority)))
	}
	if filters.InsuranceType != "" {
		where = append(where, "insurance_type = "+arg(filters.InsuranceType))
	}
	if filters.Source != "" {
		where = append(where, "source = "+arg(filters.Source))
	}
	if filters.AssigneeULID != "" {
		where = append(where, "assignee_ulid = "+arg(filters.AssigneeULID))
	}
	if filters.State != "" {
		where = append(where, "state = "+arg(filters.State))
	}
	if filters.City != "" {
		where = append(where, "city ILIKE "+arg(filters.City))
	}
	if filters.Query != "" {
		pattern := "%" + filters.Query + "%"
		p := arg(pattern)
		where = append(where, fmt.Sprintf("(first_name ILIKE %s OR last_name ILIKE %s OR email ILIKE %s OR company ILIKE %s)", p, p, p, p))
	}
	if len(filters.Tags) > 0 {
		where = append(where, "tags @> "+arg(filters.Tags))
	}
	if filters.CreatedFrom != nil {
		where = append(where, "created_at >= "+arg(filters.CreatedFrom.UTC()))
	}
	if filters.CreatedTo != nil {
		where = append(where, "created_at < "+arg(filters.CreatedTo.UTC()))
	}
	if filters.NeedsReview != nil {
		where = append(where, "needs_review = "+arg(*filters.NeedsReview))
	}

	if strings.TrimSpace(page.After) != "" {
		cursor, err := pagination.DecodeLeadCursor(page.After)
		if err != nil {
			return leads.ListResult{}, err
		}
		ts := arg(cursor.Timestamp)
		ulid := arg(cursor.ULID)
		where = append(where, fmt.Sprintf("(created_at, ulid) < (%s, %s)", ts, ulid))
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM leads WHERE %s ORDER BY created_at DESC, ulid DESC LIMIT %s`,
		leadColumns, strings.Join(where, " AND "), arg(limit+1))

	rows, err := r.queryer().Query(ctx, query, args...)
	if err != nil {
		return leads.ListResult{}, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	items := make([]leads.Lead, 0, limit)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return leads.ListResult{}, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, *lead)
	}
	if err := rows.Err(); err != nil {
		return leads.ListResult{}, fmt.Errorf("list leads: %w", err)
	}

	result := leads.ListResult{Leads: items}
	if len(items) > limit {
		result.Leads = items[:limit]
		last := result.Leads[limit-1]
		result.NextCursor = pagination.EncodeLeadCursor(last.CreatedAt, last.ULID)
	}
	return result, nil
}

func (r *LeadRepository) GetByULID(ctx context.Context, ulid string) (*leads.Lead, error) {
	row := r.queryer().QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE ulid = $1 AND deleted_at IS NULL`, ulid)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, leads.ErrNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return lead, nil
}

func (r *LeadRepository) Create(ctx context.Context, params leads.CreateParams) (*leads.Lead, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO leads (
	ulid, first_name, last_name, email, phone, company, job_title,
	insurance_type, value_estimate, status, priority, source, campaign,
	address_line, city, state, zip_code, country, tags, follow_up_on,
	dedup_hash, needs_review
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, 'new', $10, $11, $12,
	$13, $14, $15, $16, $17, $18, $19, $20, $21
)
RETURNING `+leadColumns,
		params.ULID,
		params.FirstName,
		params.LastName,
		params.Email,
		params.Phone,
		params.Company,
		params.JobTitle,
		params.InsuranceType,
		params.ValueEstimate,
		params.Priority,
		params.Source,
		params.Campaign,
		params.AddressLine,
		params.City,
		params.State,
		params.ZipCode,
		params.Country,
		params.Tags,
		params.FollowUpOn,
		params.DedupHash,
		params.NeedsReview,
	)
	lead, err := scanLead(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, leads.ErrConflict
		}
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return lead, nil
}

func (r *LeadRepository) Update(ctx context.Context, ulid string, params leads.UpdateParams) (*leads.Lead, error) {
	set := []string{"updated_at = now()"}
	args := []any{}

	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.FirstName != nil {
		set = append(set, "first_name = "+arg(*params.FirstName))
	}
	if params.LastName != nil {
		set = append(set, "last_name = "+arg(*params.LastName))
	}
	if params.Phone != nil {
		set = append(set, "phone = "+arg(*params.Phone))
	}
	if params.Company != nil {
		set = append(set, "company = "+arg(*params.Company))
	}
	if params.JobTitle != nil {
		set = append(set, "job_title = "+arg(*params.JobTitle))
	}
	if params.InsuranceType != nil {
		set = append(set, "insurance_type = "+arg(*params.InsuranceType))
	}
	if params.ValueEstimate != nil {
		set = append(set, "value_estimate = "+arg(*params.ValueEstimate))
	}
	if params.Priority != nil {
		set = append(set, "priority = "+arg(string(*params.Priority)))
	}
	if params.Campaign != nil {
		set = append(set, "campaign = "+arg(*params.Campaign))
	}
	if params.AddressLine != nil {
		set = append(set, "address_line = "+arg(*params.AddressLine))
	}
	if params.City != nil {
		set = append(set, "city = "+arg(*params.City))
	}
	if params.State != nil {
		set = append(set, "state = "+arg(*params.State))
	}
	if params.ZipCode != nil {
		set = append(set, "zip_code = "+arg(*params.ZipCode))
	}
	if params.Country != nil {
		set = append(set, "country = "+arg(*params.Country))
	}
	if params.Tags != nil {
		set = append(set, "tags = "+arg(params.Tags))
	}
	if params.FollowUpOn != nil {
		set = append(set, "follow_up_on = "+arg(params.FollowUpOn.UTC()))
	}

	query := fmt.Sprintf(`UPDATE leads SET %s WHERE ulid = %s AND deleted_at IS NULL RETURNING %s`,
		strings.Join(set, ", "), arg(ulid), leadColumns)

	lead, err := scanLead(r.queryer().QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, leads.ErrNotFound
		}
		return nil, fmt.Errorf("update lead: %w", err)
	}
	return lead, nil
}

func (r *LeadRepository) SoftDelete(ctx context.Context, ulid string) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE leads SET deleted_at = now(), updated_at = now() WHERE ulid = $1 AND deleted_at IS NULL`, ulid)
	if err != nil {
		return fmt.Errorf("soft delete lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrNotFound
	}
	return nil
}

func (r *LeadRepository) Assign(ctx context.Context, ulid string, assigneeULID *string) (*leads.Lead, error) {
	row := r.queryer().QueryRow(ctx,
		`UPDATE leads SET assignee_ulid = $2, updated_at = now() WHERE ulid = $1 AND deleted_at IS NULL RETURNING `+leadColumns,
		ulid, assigneeULID)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, leads.ErrNotFound
		}
		return nil, fmt.Errorf("assign lead: %w", err)
	}
	return lead, nil
}

func (r *LeadRepository) SetNeedsReview(ctx context.Context, ulid string, needsReview bool) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE leads SET needs_review = $2, updated_at = now() WHERE ulid = $1 AND deleted_at IS NULL`,
		ulid, needsReview)
	if err != nil {
		return fmt.Errorf("set needs review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrNotFound
	}
	return nil
}

func (r *LeadRepository) FindByDedupHash(ctx context.Context, dedupHash string) (*leads.Lead, error) {
	row := r.queryer().QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE dedup_hash = $1 AND deleted_at IS NULL LIMIT 1`, dedupHash)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, leads.ErrNotFound
		}
		return nil, fmt.Errorf("find lead by dedup hash: %w", err)
	}
	return lead, nil
}

func (r *LeadRepository) SetStatus(ctx context.Context, ulid string, status leads.Status) (*leads.Lead, error) {
	row := r.queryer().QueryRow(ctx,
		`UPDATE leads SET status = $2, updated_at = now() WHERE ulid = $1 AND deleted_at IS NULL RETURNING `+leadColumns,
		ulid, string(status))
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, leads.ErrNotFound
		}
		return nil, fmt.Errorf("set lead status: %w", err)
	}
	return lead, nil
}

func (r *LeadRepository) InsertActivity(ctx context.Context, params leads.ActivityParams) error {
	metadata, err := json.Marshal(params.Metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}
	if params.Metadata == nil {
		metadata = []byte("{}")
	}
	_, err = r.queryer().Exec(ctx, `
INSERT INTO lead_activities (lead_id, actor_id, activity_type, description, old_value, new_value, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		params.LeadID,
		params.ActorID,
		string(params.ActivityType),
		params.Description,
		params.OldValue,
		params.NewValue,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert lead activity: %w", err)
	}
	return nil
}

func (r *LeadRepository) ListActivities(ctx context.Context, ulid string) ([]leads.Activity, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT a.id, a.lead_id, a.actor_id, a.activity_type, a.description, a.old_value, a.new_value, a.metadata, a.created_at
  FROM lead_activities a
  JOIN leads l ON l.id = a.lead_id
 WHERE l.ulid = $1
 ORDER BY a.created_at ASC, a.id ASC`, ulid)
	if err != nil {
		return nil, fmt.Errorf("list lead activities: %w", err)
	}
	defer rows.Close()

	var activities []leads.Activity
	for rows.Next() {
		var activity leads.Activity
		var metadata []byte
		if err := rows.Scan(
			&activity.ID,
			&activity.LeadID,
			&activity.ActorID,
			&activity.ActivityType,
			&activity.Description,
			&activity.OldValue,
			&activity.NewValue,
			&metadata,
			&activity.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead activity: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &activity.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

func (r *LeadRepository) InsertStatusHistory(ctx context.Context, params leads.StatusHistoryParams) error {
	_, err := r.queryer().Exec(ctx, `
INSERT INTO lead_status_history (lead_id, old_status, new_status, changed_by, reason)
VALUES ($1, $2, $3, $4, $5)`,
		params.LeadID,
		string(params.OldStatus),
		string(params.NewStatus),
		params.ChangedBy,
		params.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func (r *LeadRepository) ListStatusHistory(ctx context.Context, ulid string) ([]leads.StatusChange, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT h.id, h.lead_id, h.old_status, h.new_status, h.changed_by, h.reason, h.created_at
  FROM lead_status_history h
  JOIN leads l ON l.id = h.lead_id
 WHERE l.ulid = $1
 ORDER BY h.created_at ASC, h.id ASC`, ulid)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var changes []leads.StatusChange
	for rows.Next() {
		var change leads.StatusChange
		if err := rows.Scan(
			&change.ID,
			&change.LeadID,
			&change.OldStatus,
			&change.NewStatus,
			&change.ChangedBy,
			&change.Reason,
			&change.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

func (r *LeadRepository) GetIdempotencyKey(ctx context.Context, key string) (*leads.IdempotencyKey, error) {
	row := r.queryer().QueryRow(ctx,
		`SELECT key, request_hash, lead_id, lead_ulid FROM idempotency_keys WHERE key = $1`, key)

	var record leads.IdempotencyKey
	if err := row.Scan(&record.Key, &record.RequestHash, &record.LeadID, &record.LeadULID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, leads.ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return &record, nil
}

func (r *LeadRepository) InsertIdempotencyKey(ctx context.Context, params leads.IdempotencyKeyCreateParams) (*leads.IdempotencyKey, error) {
	var leadID, leadULID *string
	if params.LeadID != "" {
		leadID = &params.LeadID
	}
	if params.LeadULID != "" {
		leadULID = &params.LeadULID
	}

	row := r.queryer().QueryRow(ctx, `
INSERT INTO idempotency_keys (key, request_hash, lead_id, lead_ulid)
VALUES ($1, $2, $3, $4)
RETURNING key, request_hash, lead_id, lead_ulid`,
		params.Key, params.RequestHash, leadID, leadULID)

	var record leads.IdempotencyKey
	if err := row.Scan(&record.Key, &record.RequestHash, &record.LeadID, &record.LeadULID); err != nil {
		if isUniqueViolation(err) {
			return nil, leads.ErrConflict
		}
		return nil, fmt.Errorf("insert idempotency key: %w", err)
	}
	return &record, nil
}

func (r *LeadRepository) UpdateIdempotencyKeyLead(ctx context.Context, key string, leadID string, leadULID string) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE idempotency_keys SET lead_id = $2, lead_ulid = $3 WHERE key = $1`,
		key, leadID, leadULID)
	if err != nil {
		return fmt.Errorf("update idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrNotFound
	}
	return nil
}

func (r *LeadRepository) ListBySubjectEmail(ctx context.Context, email string) ([]leads.Lead, error) {
	rows, err := r.queryer().Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE lower(email) = lower($1) ORDER BY created_at ASC`, email)
	if err != nil {
		return nil, fmt.Errorf("list leads by email: %w", err)
	}
	defer rows.Close()

	var items []leads.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, *lead)
	}
	return items, rows.Err()
}

// Anonymize blanks every directly identifying field and keeps the row so
// assignment history and aggregate metrics stay consistent.
func (r *LeadRepository) Anonymize(ctx context.Context, ulid string) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE leads
   SET first_name = 'REDACTED',
       last_name = '',
       email = 'redacted+' || ulid || '@anonymized.invalid',
       phone = '',
       company = '',
       job_title = '',
       address_line = '',
       zip_code = '',
       dedup_hash = 'anonymized:' || ulid,
       tags = '{}',
       deleted_at = COALESCE(deleted_at, now()),
       updated_at = now()
 WHERE ulid = $1`, ulid)
	if err != nil {
		return fmt.Errorf("anonymize lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrNotFound
	}
	return nil
}

func (r *LeadRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]leads.Lead, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.queryer().Query(ctx, `
SELECT `+leadColumns+`
  FROM leads
 WHERE updated_at < $1
   AND status IN ('converted', 'lost', 'unqualified')
   AND dedup_hash NOT LIKE 'anonymized:%'
 ORDER BY updated_at ASC
 LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired leads: %w", err)
	}
	defer rows.Close()

	var items []leads.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, *lead)
	}
	return items, rows.Err()
}

func (r *LeadRepository) ListDueFollowUps(ctx context.Context, asOf time.Time, limit int) ([]leads.Lead, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.queryer().Query(ctx, `
SELECT `+leadColumns+`
  FROM leads
 WHERE follow_up_on IS NOT NULL
   AND follow_up_on <= $1
   AND deleted_at IS NULL
 ORDER BY follow_up_on ASC
 LIMIT $2`, asOf.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due follow-ups: %w", err)
	}
	defer rows.Close()

	var items []leads.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, *lead)
	}
	return items, rows.Err()
}

func (r *LeadRepository) ClearFollowUp(ctx context.Context, ulid string) error {
	tag, err := r.queryer().Exec(ctx,
		`UPDATE leads SET follow_up_on = NULL, updated_at = now() WHERE ulid = $1 AND deleted_at IS NULL`,
		ulid)
	if err != nil {
		return fmt.Errorf("clear follow-up: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return leads.ErrNotFound
	}
	return nil
}

func (r *LeadRepository) DeleteIdempotencyKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.queryer().Exec(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
